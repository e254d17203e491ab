package open

import (
	"testing"
	"time"
)

func TestTimeoutGuard_Expires(t *testing.T) {
	g := newTimeoutGuard(20 * time.Millisecond)

	select {
	case <-g.expiredCh():
	case <-time.After(time.Second):
		t.Fatal("guard did not expire")
	}
}

func TestTimeoutGuard_CancelStopsTimer(t *testing.T) {
	g := newTimeoutGuard(30 * time.Millisecond)
	g.cancel()
	g.cancel() // idempotent

	select {
	case <-g.expiredCh():
		t.Fatal("canceled guard should not expire")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimeoutGuard_CancelAfterExpirySafe(t *testing.T) {
	g := newTimeoutGuard(time.Millisecond)

	<-g.expiredCh()
	g.cancel() // already fired, stays fired

	select {
	case <-g.expiredCh():
	default:
		t.Fatal("fired guard should stay fired")
	}
}

func TestTimeoutGuard_NilGuardNeverExpires(t *testing.T) {
	var g *timeoutGuard

	g.cancel() // no-op

	select {
	case <-g.expiredCh():
		t.Fatal("nil guard should never yield")
	case <-time.After(20 * time.Millisecond):
	}
}
