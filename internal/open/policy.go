package open

import (
	"time"

	"github.com/italolelis/syncbox/internal/replica"
)

// Behavior selects how opening a replica proceeds for one existence case.
type Behavior string

const (
	// BehaviorDefault defers to the built-in default: download with a
	// 30 second deadline, failing on timeout.
	BehaviorDefault Behavior = ""
	// BehaviorImmediate opens the local replica right away.
	BehaviorImmediate Behavior = "immediate"
	// BehaviorDownload downloads a snapshot before opening.
	BehaviorDownload Behavior = "download"
)

// FallbackPolicy is the behavior chosen when a download outlives its
// deadline.
type FallbackPolicy string

const (
	// FailOnTimeout surfaces the timeout error to the caller.
	FailOnTimeout FallbackPolicy = "fail"
	// FallBackToLocal abandons the download and opens the already
	// existing local replica instead.
	FallBackToLocal FallbackPolicy = "open-local"
)

// DefaultDeadline applies when no per-case behavior is configured.
const DefaultDeadline = 30 * time.Second

// Options is the caller-facing configuration surface for one open.
type Options struct {
	// SyncEnabled gates downloading entirely; when false every open is
	// immediate.
	SyncEnabled bool

	// LocalOnly forces an immediate open regardless of other settings.
	LocalOnly bool

	// BehaviorExisting and BehaviorNew pick the behavior depending on
	// whether the replica already exists locally.
	BehaviorExisting Behavior
	BehaviorNew      Behavior

	// Deadline bounds a configured download behavior. Zero means no
	// deadline (only honored for explicitly configured behaviors; the
	// default behavior always carries DefaultDeadline).
	Deadline time.Duration

	// OnTimeout applies when Deadline expires. Empty means FailOnTimeout.
	OnTimeout FallbackPolicy
}

type mode int

const (
	modeImmediate mode = iota
	modeDownload
)

type decision struct {
	mode     mode
	deadline time.Duration // 0 = no timeout guard
	fallback FallbackPolicy
}

// decide picks the open strategy. exists must be evaluated before any
// download task is created: starting a download can bring the replica
// file into existence and corrupt a later check. Unrecognized behavior or
// fallback values are fatal configuration errors, surfaced here,
// synchronously, never inside the async path.
func decide(opts Options, exists bool) (decision, error) {
	// An unrecognized fallback policy is fatal no matter which behavior
	// ends up selected, even one that never arms a deadline.
	if opts.OnTimeout != "" && opts.OnTimeout != FailOnTimeout && opts.OnTimeout != FallBackToLocal {
		return decision{}, &replica.ConfigError{Setting: "fallback policy", Value: string(opts.OnTimeout)}
	}

	if !opts.SyncEnabled || opts.LocalOnly {
		return decision{mode: modeImmediate}, nil
	}

	behavior := opts.BehaviorNew
	setting := "behavior for new replicas"

	if exists {
		behavior = opts.BehaviorExisting
		setting = "behavior for existing replicas"
	}

	switch behavior {
	case BehaviorDefault:
		return decision{mode: modeDownload, deadline: DefaultDeadline, fallback: FailOnTimeout}, nil
	case BehaviorImmediate:
		return decision{mode: modeImmediate}, nil
	case BehaviorDownload:
		fallback := opts.OnTimeout
		if fallback == "" {
			fallback = FailOnTimeout
		}

		return decision{mode: modeDownload, deadline: opts.Deadline, fallback: fallback}, nil
	default:
		return decision{}, &replica.ConfigError{Setting: setting, Value: string(behavior)}
	}
}
