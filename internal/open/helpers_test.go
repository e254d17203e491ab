package open

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/italolelis/syncbox/internal/replica"
	"github.com/italolelis/syncbox/internal/transport"
)

// fakeEngine is a controllable replica.Engine.
type fakeEngine struct {
	exists          bool
	existsErr       error
	immediateErr    error
	fromSnapshotErr error

	immediateCalls    atomic.Int32
	fromSnapshotCalls atomic.Int32
}

func (e *fakeEngine) Exists(loc replica.Locator) (bool, error) {
	return e.exists, e.existsErr
}

func (e *fakeEngine) OpenImmediate(ctx context.Context, loc replica.Locator) (*replica.Replica, error) {
	e.immediateCalls.Add(1)

	if e.immediateErr != nil {
		return nil, e.immediateErr
	}

	return &replica.Replica{Name: loc.Name, Path: loc.LocalPath, OpenedAt: time.Now()}, nil
}

func (e *fakeEngine) OpenFromSnapshot(ctx context.Context, loc replica.Locator, snap *replica.Snapshot) (*replica.Replica, error) {
	e.fromSnapshotCalls.Add(1)

	if e.fromSnapshotErr != nil {
		return nil, e.fromSnapshotErr
	}

	return &replica.Replica{Name: loc.Name, Path: loc.LocalPath, OpenedAt: time.Now(), FromSnapshot: true}, nil
}

type fetchOutcome struct {
	snap *replica.Snapshot
	err  error
}

// fetch is one in-flight fakeTransport transfer, remote-controlled by the
// test.
type fetch struct {
	ctx        context.Context
	onProgress func(transport.Progress)
	release    chan fetchOutcome
}

// emit pushes a progress sample as the transport would.
func (f *fetch) emit(transferred, transferable int64) {
	if f.onProgress != nil {
		f.onProgress(transport.Progress{
			Transferred:  transferred,
			Transferable: transferable,
			Estimate:     transport.Estimate(transferred, transferable),
		})
	}
}

// fakeTransport hands each FetchSnapshot call to the test as a fetch.
type fakeTransport struct {
	started chan *fetch
	calls   atomic.Int32
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(chan *fetch, 8)}
}

func (t *fakeTransport) FetchSnapshot(ctx context.Context, loc replica.Locator, onProgress func(transport.Progress)) (*replica.Snapshot, error) {
	t.calls.Add(1)

	f := &fetch{ctx: ctx, onProgress: onProgress, release: make(chan fetchOutcome, 1)}
	t.started <- f

	select {
	case out := <-f.release:
		return out.snap, out.err
	case <-ctx.Done():
		return nil, &replica.DownloadError{Locator: loc.Name, Err: ctx.Err()}
	}
}

// await pulls the next started fetch or fails the test.
func (t *fakeTransport) await(timeout time.Duration) *fetch {
	select {
	case f := <-t.started:
		return f
	case <-time.After(timeout):
		return nil
	}
}
