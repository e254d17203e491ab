package transport

import (
	"context"

	"github.com/italolelis/syncbox/internal/replica"
)

// Progress is a single transfer progress sample. Transferable is zero when
// the remote side does not announce a total size; Estimate is always in
// [0, 1] and derived from whatever signal the transport has.
type Progress struct {
	Transferred  int64
	Transferable int64
	Estimate     float64
}

// Client fetches replica snapshots from a remote store. FetchSnapshot
// blocks until the transfer finishes, fails, or ctx is canceled, invoking
// onProgress zero or more times along the way. Failures are reported as
// *replica.DownloadError so the open orchestrator can inspect the
// structured failure code.
type Client interface {
	FetchSnapshot(ctx context.Context, loc replica.Locator, onProgress func(Progress)) (*replica.Snapshot, error)
}

// Estimate computes a fractional estimate from byte counts, clamped to
// [0, 1]. Returns 0 when the total is unknown.
func Estimate(transferred, transferable int64) float64 {
	if transferable <= 0 {
		return 0
	}

	est := float64(transferred) / float64(transferable)
	if est > 1 {
		est = 1
	}

	return est
}
