package open

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/replica"
	"github.com/italolelis/syncbox/internal/telemetry"
	"github.com/italolelis/syncbox/internal/transport"
)

// Attempt states, visible through State().
const (
	StateDownloading = "downloading"
	StateSettled     = "settled"
)

// Request is the immutable input for one open.
type Request struct {
	Locator replica.Locator
	Options Options
}

// Deps are the collaborators an attempt needs. Registry and Telemetry are
// optional.
type Deps struct {
	Engine    replica.Engine
	Transport transport.Client
	Registry  *Registry
	Telemetry *telemetry.Telemetry
}

// Attempt is the live orchestration state for one in-flight open. It
// behaves as a future of *replica.Replica that additionally exposes
// Cancel and Progress. The outcome settles exactly once: the first of
// download success, download failure, timeout, or explicit cancel wins,
// and every later source is ignored.
type Attempt struct {
	locator         replica.Locator
	startedAt       time.Time
	tel             *telemetry.Telemetry
	lastTransferred atomic.Int64

	mu              sync.Mutex
	settled         bool
	result          *replica.Replica
	err             error
	state           string
	task            *task
	guard           *timeoutGuard
	progress        *broadcaster
	progressToken   int
	tokenRegistered bool
	registry        *Registry
	registryID      uint64
	registered      bool

	done chan struct{}
}

// Start begins an open attempt. Configuration errors surface here,
// synchronously; every other outcome settles asynchronously on the
// returned attempt. The local existence check runs before any download
// task is created.
func Start(ctx context.Context, req Request, deps Deps) (*Attempt, error) {
	exists, err := deps.Engine.Exists(req.Locator)
	if err != nil {
		return nil, fmt.Errorf("failed to check replica existence: %w", err)
	}

	dec, err := decide(req.Options, exists)
	if err != nil {
		return nil, err
	}

	a := &Attempt{
		locator:   req.Locator,
		startedAt: time.Now(),
		tel:       deps.Telemetry,
		progress:  newBroadcaster(),
		done:      make(chan struct{}),
	}

	if a.tel != nil {
		a.tel.OpenStarted()
	}

	if dec.mode == modeImmediate {
		r, err := deps.Engine.OpenImmediate(ctx, req.Locator)
		a.settle(r, err, statusOf(r, err))

		return a, nil
	}

	a.state = StateDownloading

	task := startTask(ctx, deps.Transport, req.Locator)
	a.task = task
	a.progressToken = task.registerProgress(a.onProgress)
	a.tokenRegistered = true

	if dec.deadline > 0 {
		a.guard = newTimeoutGuard(dec.deadline)
	}

	if deps.Registry != nil {
		if id, ok := deps.Registry.register(a); ok {
			a.registry = deps.Registry
			a.registryID = id
			a.registered = true
		}
	}

	go a.run(ctx, dec, deps, task, a.guard)

	return a, nil
}

// onProgress projects transport progress into the broadcaster and metrics.
func (a *Attempt) onProgress(p transport.Progress) {
	if a.tel != nil {
		a.tel.AddDownloadBytes(p.Transferred - a.lastTransferred.Swap(p.Transferred))
	}

	a.progress.emit(p.Transferred, p.Transferable, p.Estimate)
}

// run waits for the first of task completion, guard expiry, or settlement
// from another source (explicit cancel), then applies the corresponding
// transition. Arrival order is the tie-break: a completion already
// received wins over a timer that fires a moment later.
func (a *Attempt) run(ctx context.Context, dec decision, deps Deps, task *task, guard *timeoutGuard) {
	logger := logctx.LoggerFromContext(ctx).With("replica", a.locator.Name)

	select {
	case <-a.done:
		return
	case res := <-task.results():
		a.handleResult(ctx, res, deps)
	case <-guard.expiredCh():
		a.handleTimeout(ctx, dec, deps, task, logger)
	}
}

func (a *Attempt) handleResult(ctx context.Context, res taskResult, deps Deps) {
	if res.err != nil {
		err := res.err

		// A failure whose signature says the remote session became
		// inactive is a side effect of cancellation (typically a
		// concurrent attempt on the same replica being canceled), not an
		// independent fault.
		var download *replica.DownloadError
		if errors.As(err, &download) && download.SessionInactive() {
			err = &replica.CanceledError{Locator: a.locator.Name, Err: download}
		}

		a.settle(nil, err, statusOf(nil, err))

		return
	}

	r, err := deps.Engine.OpenFromSnapshot(ctx, a.locator, res.snap)
	a.settle(r, err, statusOf(r, err))
}

func (a *Attempt) handleTimeout(ctx context.Context, dec decision, deps Deps, task *task, logger *slog.Logger) {
	timeoutErr := &replica.TimeoutError{Locator: a.locator.Name, Deadline: dec.deadline}

	if dec.fallback != FallBackToLocal {
		a.settle(nil, timeoutErr, "timeout")

		return
	}

	logger.WarnContext(ctx, "download deadline passed, falling back to local replica", "deadline", dec.deadline.String())

	// Abandon the download, then open whatever exists locally; that
	// outcome, success or failure, is final.
	task.cancel()

	r, err := deps.Engine.OpenImmediate(ctx, a.locator)
	a.settle(r, err, statusOf(r, err))
}

// Progress registers a listener and returns the attempt for chaining. The
// listener is synchronously seeded with its shape's initial value even if
// the attempt already settled.
func (a *Attempt) Progress(l Listener) *Attempt {
	a.progress.add(l)

	return a
}

// Cancel abandons the attempt. Idempotent; a call after settlement is a
// no-op. Cancellation wins all races: once Cancel returns, no later event
// can flip the attempt to success.
func (a *Attempt) Cancel() {
	a.mu.Lock()
	if a.settled {
		a.mu.Unlock()

		return
	}

	task := a.task
	a.mu.Unlock()

	// Stop the transfer and progress delivery before settling so an
	// in-flight completion can only resolve as canceled.
	if task != nil {
		task.cancel()
	}

	a.settle(nil, &replica.CanceledError{Locator: a.locator.Name}, "canceled")
}

// Await blocks until the attempt settles or ctx is done. Abandoning the
// wait cancels the attempt, which transitively cancels the underlying
// download task.
func (a *Attempt) Await(ctx context.Context) (*replica.Replica, error) {
	select {
	case <-a.done:
	case <-ctx.Done():
		a.Cancel()
		<-a.done
	}

	return a.result, a.err
}

// Done is closed once the attempt settles.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// State reports the attempt's current lifecycle state.
func (a *Attempt) State() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}

// settle resolves the outcome exactly once and releases everything the
// attempt owns: the progress subscription, the task handle, the armed
// timer, the listener set, and the registry slot. A result losing the
// settle race is closed so no database handle leaks.
func (a *Attempt) settle(r *replica.Replica, err error, status string) {
	a.mu.Lock()
	if a.settled {
		a.mu.Unlock()

		if r != nil {
			r.Close()
		}

		return
	}

	a.settled = true
	a.result = r
	a.err = err
	a.state = StateSettled

	task := a.task
	token := a.progressToken
	tokenRegistered := a.tokenRegistered
	guard := a.guard
	prog := a.progress
	registry := a.registry
	registryID := a.registryID
	registered := a.registered

	a.task = nil
	a.guard = nil
	a.tokenRegistered = false
	a.registered = false
	a.mu.Unlock()

	if task != nil {
		if tokenRegistered {
			task.unregisterProgress(token)
		}

		task.release()
	}

	guard.cancel()
	prog.clear()

	if registered {
		registry.unregister(registryID)
	}

	if a.tel != nil {
		a.tel.OpenSettled(status, time.Since(a.startedAt))
	}

	close(a.done)
}

// statusOf maps an outcome to its metric status label.
func statusOf(r *replica.Replica, err error) string {
	switch {
	case err == nil && r != nil:
		return "success"
	case replica.IsCanceled(err):
		return "canceled"
	case replica.IsTimeout(err):
		return "timeout"
	default:
		return "failure"
	}
}
