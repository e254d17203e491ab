package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/italolelis/syncbox/internal/replica"
	"github.com/italolelis/syncbox/internal/transport/progress"
)

const (
	reportInterval = 1 * 1024 * 1024 // 1MB
	dirPerm        = 0755
)

// StageSnapshot streams body into a staging file named after the replica,
// reporting progress through onProgress. The staged file keeps the replica
// name so concurrent fetches of different replicas never collide.
func StageSnapshot(ctx context.Context, stagingDir string, loc replica.Locator, body io.Reader, size int64, onProgress func(Progress)) (*replica.Snapshot, error) {
	if err := os.MkdirAll(stagingDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	target := filepath.Join(stagingDir, loc.Name+".snapshot")

	out, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging file: %w", err)
	}
	defer out.Close()

	cb := func(transferred, total int64) {
		if onProgress != nil {
			onProgress(Progress{
				Transferred:  transferred,
				Transferable: total,
				Estimate:     Estimate(transferred, total),
			})
		}
	}

	pr := progress.NewReader(body, size, reportInterval, cb)

	written, err := io.Copy(out, ReaderWithContext(ctx, pr))
	if err != nil {
		os.Remove(target)

		return nil, fmt.Errorf("failed to copy snapshot: %w", err)
	}

	return &replica.Snapshot{Path: target, Size: written}, nil
}

// ReaderWithContext aborts reads once ctx is canceled. Response bodies only
// honor the request context between network reads, so an explicit check
// keeps cancellation prompt on slow streams.
func ReaderWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}

	return cr.r.Read(p)
}
