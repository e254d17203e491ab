package open

import (
	"sync"
	"time"
)

// timeoutGuard races a deadline against task completion. It only exists
// when a deadline is configured; a nil guard never expires and costs no
// timer.
type timeoutGuard struct {
	timer   *time.Timer
	expired chan struct{}
	once    sync.Once
}

func newTimeoutGuard(d time.Duration) *timeoutGuard {
	g := &timeoutGuard{expired: make(chan struct{})}
	g.timer = time.AfterFunc(d, func() {
		g.once.Do(func() { close(g.expired) })
	})

	return g
}

// expiredCh never yields for a nil guard.
func (g *timeoutGuard) expiredCh() <-chan struct{} {
	if g == nil {
		return nil
	}

	return g.expired
}

// cancel stops the timer. Idempotent and safe to call concurrently with
// expiry; a guard canceled after firing simply stays fired.
func (g *timeoutGuard) cancel() {
	if g == nil {
		return
	}

	g.timer.Stop()
}
