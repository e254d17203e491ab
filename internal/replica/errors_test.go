package replica

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestConfigError_Error(t *testing.T) {
	err := &ConfigError{Setting: "BEHAVIOR_EXISTING", Value: "sideways"}

	expected := `invalid configuration for BEHAVIOR_EXISTING: "sideways"`
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestDownloadError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *DownloadError
		want string
	}{
		{
			name: "with underlying error",
			err:  &DownloadError{Locator: "reports", Err: errors.New("connection reset")},
			want: "download failed for reports: connection reset",
		},
		{
			name: "without underlying error",
			err:  &DownloadError{Locator: "reports"},
			want: "download failed for reports",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDownloadError_SessionInactive(t *testing.T) {
	tests := []struct {
		name string
		err  *DownloadError
		want bool
	}{
		{
			name: "structured code",
			err:  &DownloadError{Locator: "reports", Code: CodeSessionInactive},
			want: true,
		},
		{
			name: "message fallback",
			err:  &DownloadError{Locator: "reports", Err: errors.New("sync: session became inactive")},
			want: true,
		},
		{
			name: "unrelated failure",
			err:  &DownloadError{Locator: "reports", Err: errors.New("connection reset")},
			want: false,
		},
		{
			name: "no code no error",
			err:  &DownloadError{Locator: "reports"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.SessionInactive(); got != tt.want {
				t.Errorf("SessionInactive() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownloadError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &DownloadError{Locator: "reports", Err: cause}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}
}

func TestIsCanceled(t *testing.T) {
	canceled := &CanceledError{Locator: "reports"}

	if !IsCanceled(canceled) {
		t.Error("IsCanceled() should be true for a CanceledError")
	}

	if !IsCanceled(fmt.Errorf("context: %w", canceled)) {
		t.Error("IsCanceled() should see through wrapping")
	}

	if IsCanceled(errors.New("other")) {
		t.Error("IsCanceled() should be false for unrelated errors")
	}
}

func TestIsTimeout(t *testing.T) {
	timeout := &TimeoutError{Locator: "reports", Deadline: time.Second}

	if !IsTimeout(fmt.Errorf("context: %w", timeout)) {
		t.Error("IsTimeout() should see through wrapping")
	}

	if IsTimeout(&CanceledError{Locator: "reports"}) {
		t.Error("IsTimeout() should be false for a CanceledError")
	}
}

func TestCanceledError_Unwrap(t *testing.T) {
	cause := &DownloadError{Locator: "reports", Code: CodeSessionInactive}
	err := &CanceledError{Locator: "reports", Err: cause}

	var download *DownloadError
	if !errors.As(err, &download) {
		t.Fatal("errors.As() should extract the reclassified DownloadError")
	}

	if !download.SessionInactive() {
		t.Error("reclassified cause should keep its session-inactive signature")
	}
}
