package open

import "sync"

// Listener observes download progress for one open attempt. Construct with
// EstimateListener or ByteCountListener; the two shapes receive different
// projections of the same progress events.
type Listener struct {
	estimate  func(estimate float64)
	byteCount func(transferred, transferable int64)
}

// EstimateListener observes progress as a fraction in [0, 1].
func EstimateListener(fn func(estimate float64)) Listener {
	return Listener{estimate: fn}
}

// ByteCountListener observes progress as raw byte counts.
func ByteCountListener(fn func(transferred, transferable int64)) Listener {
	return Listener{byteCount: fn}
}

// seed delivers the synthetic initial callback: estimate listeners see a
// complete fraction, byte listeners see zero counts. Observers never wait
// for a first data point.
func (l Listener) seed() {
	if l.estimate != nil {
		l.estimate(1.0)
	}

	if l.byteCount != nil {
		l.byteCount(0, 0)
	}
}

func (l Listener) deliver(transferred, transferable int64, estimate float64) {
	if l.estimate != nil {
		l.estimate(estimate)
	}

	if l.byteCount != nil {
		l.byteCount(transferred, transferable)
	}
}

// broadcaster owns the listener set of one attempt. Set mutation happens
// under its lock; listener callbacks themselves run outside it, because a
// listener may re-enter the broadcaster (register another listener, or
// cancel the attempt and trigger clear).
type broadcaster struct {
	mu        sync.Mutex
	listeners []Listener
	cleared   bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{}
}

// add registers a listener and synchronously seeds it. The seed runs
// before the listener joins the set, so the synthetic value always comes
// first. Listeners added after clear are still seeded but receive no
// further events.
func (b *broadcaster) add(l Listener) {
	l.seed()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cleared {
		return
	}

	b.listeners = append(b.listeners, l)
}

// emit fans one progress event out to every listener registered at the
// time of the event.
func (b *broadcaster) emit(transferred, transferable int64, estimate float64) {
	b.mu.Lock()
	if b.cleared {
		b.mu.Unlock()

		return
	}

	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		l.deliver(transferred, transferable, estimate)
	}
}

// clear drops every listener. Idempotent; called at settlement or cancel.
func (b *broadcaster) clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleared = true
	b.listeners = nil
}
