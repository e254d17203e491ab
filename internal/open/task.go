package open

import (
	"context"
	"sync"

	"github.com/italolelis/syncbox/internal/replica"
	"github.com/italolelis/syncbox/internal/transport"
)

type taskResult struct {
	snap *replica.Snapshot
	err  error
}

// task is the handle over one snapshot fetch. Cancellation wins the
// completion race: once cancel is observed, the result is published as
// canceled even when the underlying transfer happened to finish first,
// and no further progress callbacks are delivered.
type task struct {
	locator  replica.Locator
	cancelFn context.CancelFunc

	mu        sync.Mutex
	canceled  bool
	released  bool
	callbacks map[int]func(transport.Progress)
	nextToken int

	done chan taskResult
}

// startTask launches the fetch on its own goroutine with a derived
// cancelable context. The result is published exactly once on results().
func startTask(ctx context.Context, client transport.Client, loc replica.Locator) *task {
	ctx, cancel := context.WithCancel(ctx)

	t := &task{
		locator:   loc,
		cancelFn:  cancel,
		callbacks: make(map[int]func(transport.Progress)),
		done:      make(chan taskResult, 1),
	}

	go t.run(ctx, client)

	return t
}

func (t *task) run(ctx context.Context, client transport.Client) {
	snap, err := client.FetchSnapshot(ctx, t.locator, t.deliver)

	res := taskResult{snap: snap, err: err}

	t.mu.Lock()
	if t.canceled {
		res = taskResult{err: &replica.CanceledError{Locator: t.locator.Name, Err: err}}
	}
	t.mu.Unlock()

	t.done <- res
}

// deliver fans transport progress out to registered callbacks. Late
// callbacks arriving after cancel are dropped. The callback set is
// snapshotted so the callbacks run outside the lock: a callback may react
// by canceling the attempt, which takes the lock again.
func (t *task) deliver(p transport.Progress) {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()

		return
	}

	cbs := make([]func(transport.Progress), 0, len(t.callbacks))
	for _, cb := range t.callbacks {
		cbs = append(cbs, cb)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(p)
	}
}

func (t *task) results() <-chan taskResult {
	return t.done
}

// registerProgress adds a callback and returns its token.
func (t *task) registerProgress(cb func(transport.Progress)) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextToken++
	t.callbacks[t.nextToken] = cb

	return t.nextToken
}

// unregisterProgress is idempotent and safe after cancellation.
func (t *task) unregisterProgress(token int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.callbacks, token)
}

// cancel is idempotent. It prevents the task from ever resolving
// successfully and stops progress delivery, then interrupts the transfer.
func (t *task) cancel() {
	t.mu.Lock()
	if t.canceled {
		t.mu.Unlock()

		return
	}

	t.canceled = true
	t.callbacks = make(map[int]func(transport.Progress))
	t.mu.Unlock()

	t.cancelFn()
}

// release frees the task's derived context without flagging cancellation.
// Used on the success path where the transfer already completed.
func (t *task) release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()

		return
	}

	t.released = true
	t.mu.Unlock()

	t.cancelFn()
}
