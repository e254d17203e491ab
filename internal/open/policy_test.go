package open

import (
	"errors"
	"testing"
	"time"

	"github.com/italolelis/syncbox/internal/replica"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name         string
		opts         Options
		exists       bool
		wantMode     mode
		wantDeadline time.Duration
		wantFallback FallbackPolicy
		wantErr      bool
	}{
		{
			name:     "sync disabled is always immediate",
			opts:     Options{SyncEnabled: false, BehaviorExisting: BehaviorDownload},
			exists:   true,
			wantMode: modeImmediate,
		},
		{
			name:     "local-only override wins",
			opts:     Options{SyncEnabled: true, LocalOnly: true, BehaviorNew: BehaviorDownload},
			exists:   false,
			wantMode: modeImmediate,
		},
		{
			name:         "default behavior downloads with 30s fail-on-timeout",
			opts:         Options{SyncEnabled: true},
			exists:       false,
			wantMode:     modeDownload,
			wantDeadline: DefaultDeadline,
			wantFallback: FailOnTimeout,
		},
		{
			name:     "existing replica uses existing-case behavior",
			opts:     Options{SyncEnabled: true, BehaviorExisting: BehaviorImmediate, BehaviorNew: BehaviorDownload},
			exists:   true,
			wantMode: modeImmediate,
		},
		{
			name:         "new replica uses new-case behavior",
			opts:         Options{SyncEnabled: true, BehaviorExisting: BehaviorImmediate, BehaviorNew: BehaviorDownload, Deadline: time.Second, OnTimeout: FallBackToLocal},
			exists:       false,
			wantMode:     modeDownload,
			wantDeadline: time.Second,
			wantFallback: FallBackToLocal,
		},
		{
			name:         "configured download without deadline has no guard",
			opts:         Options{SyncEnabled: true, BehaviorNew: BehaviorDownload},
			exists:       false,
			wantMode:     modeDownload,
			wantDeadline: 0,
			wantFallback: FailOnTimeout,
		},
		{
			name:    "unrecognized behavior is a config error",
			opts:    Options{SyncEnabled: true, BehaviorNew: Behavior("sideways")},
			exists:  false,
			wantErr: true,
		},
		{
			name:    "unrecognized fallback is a config error",
			opts:    Options{SyncEnabled: true, BehaviorNew: BehaviorDownload, Deadline: time.Second, OnTimeout: FallbackPolicy("retry")},
			exists:  false,
			wantErr: true,
		},
		{
			name:    "unrecognized fallback is fatal under default behavior",
			opts:    Options{SyncEnabled: true, OnTimeout: FallbackPolicy("retry")},
			exists:  false,
			wantErr: true,
		},
		{
			name:    "unrecognized fallback is fatal even for immediate behavior",
			opts:    Options{SyncEnabled: true, BehaviorExisting: BehaviorImmediate, OnTimeout: FallbackPolicy("retry")},
			exists:  true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := decide(tt.opts, tt.exists)
			if tt.wantErr {
				var configErr *replica.ConfigError
				if !errors.As(err, &configErr) {
					t.Fatalf("expected ConfigError, got %T: %v", err, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("decide() error = %v", err)
			}

			if dec.mode != tt.wantMode {
				t.Errorf("mode = %v, want %v", dec.mode, tt.wantMode)
			}

			if dec.deadline != tt.wantDeadline {
				t.Errorf("deadline = %v, want %v", dec.deadline, tt.wantDeadline)
			}

			if dec.mode == modeDownload && dec.fallback != tt.wantFallback {
				t.Errorf("fallback = %v, want %v", dec.fallback, tt.wantFallback)
			}
		})
	}
}
