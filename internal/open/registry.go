package open

import "sync"

// Registry tracks in-flight open attempts so a host application can
// abandon every outstanding open at once (e.g. during test teardown).
// Attempts hold only their own id and unregister themselves on settlement,
// so the registry never keeps a settled attempt alive. Registration is
// gated by the enabled flag; a disabled registry does no bookkeeping.
type Registry struct {
	mu       sync.Mutex
	enabled  bool
	seq      uint64
	attempts map[uint64]*Attempt
}

func NewRegistry(enabled bool) *Registry {
	return &Registry{
		enabled:  enabled,
		attempts: make(map[uint64]*Attempt),
	}
}

// Enabled reports whether the registry performs bookkeeping. A disabled
// registry registers nothing, so its CancelAll reaches nothing.
func (r *Registry) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.enabled
}

// register adds an attempt and returns its id. The second return is false
// when the registry is disabled.
func (r *Registry) register(a *Attempt) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return 0, false
	}

	r.seq++
	r.attempts[r.seq] = a

	return r.seq, true
}

// unregister removes an attempt. Idempotent; attempts call it on settle.
func (r *Registry) unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.attempts, id)
}

// CancelAll cancels every registered, still-unsettled attempt and clears
// the registry. Safe to call concurrently with attempts settling: an
// attempt that settled between the snapshot and its Cancel call treats
// the cancel as a no-op.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	live := make([]*Attempt, 0, len(r.attempts))
	for _, a := range r.attempts {
		live = append(live, a)
	}

	r.attempts = make(map[uint64]*Attempt)
	r.mu.Unlock()

	// Cancel outside the lock: Cancel() unregisters, which takes it again.
	for _, a := range live {
		a.Cancel()
	}
}

// Len reports the number of registered attempts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.attempts)
}
