package replica

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Structured failure codes reported by transports. CodeSessionInactive is
// load-bearing: it marks a failure that is a side effect of another
// attempt's cancellation, not an independent fault.
const CodeSessionInactive = "session_inactive"

// sessionInactiveMessage is the fallback detection for transports that do
// not set a structured code. Message matching is fragile; transports should
// prefer setting Code.
const sessionInactiveMessage = "session became inactive"

// ConfigError represents an invalid or unrecognized configuration value.
// It is always fatal and surfaces synchronously, never inside the async
// open path.
type ConfigError struct {
	Setting string // The configuration setting that is invalid
	Value   string // The offending value
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %q", e.Setting, e.Value)
}

// DownloadError represents a snapshot transfer failure reported by a
// transport.
type DownloadError struct {
	Locator string // Replica name the transfer was for
	Code    string // Structured failure code, if the transport provides one
	Err     error  // Underlying error, if any
}

func (e *DownloadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download failed for %s: %s", e.Locator, e.Err)
	}

	return fmt.Sprintf("download failed for %s", e.Locator)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// SessionInactive reports whether this failure is the signature of a
// concurrently canceled session. Checks the structured code first and
// falls back to message matching for transports that only surface text.
func (e *DownloadError) SessionInactive() bool {
	if e.Code == CodeSessionInactive {
		return true
	}

	if e.Err != nil && strings.Contains(e.Err.Error(), sessionInactiveMessage) {
		return true
	}

	return false
}

// TimeoutError represents an open attempt that outlived its deadline.
type TimeoutError struct {
	Locator  string
	Deadline time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("open of %s timed out after %s", e.Locator, e.Deadline)
}

// CanceledError represents an open attempt that was canceled, either
// explicitly or through a reclassified session-inactive failure.
type CanceledError struct {
	Locator string
	Err     error // Underlying error for reclassified failures, if any
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("open of %s canceled", e.Locator)
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}

// IsCanceled reports whether err is, or wraps, a CanceledError.
func IsCanceled(err error) bool {
	var canceled *CanceledError

	return errors.As(err, &canceled)
}

// IsTimeout reports whether err is, or wraps, a TimeoutError.
func IsTimeout(err error) bool {
	var timeout *TimeoutError

	return errors.As(err, &timeout)
}
