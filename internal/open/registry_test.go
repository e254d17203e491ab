package open

import (
	"context"
	"testing"
	"time"

	"github.com/italolelis/syncbox/internal/replica"
)

func startRegisteredAttempt(t *testing.T, tr *fakeTransport, reg *Registry) *Attempt {
	t.Helper()

	engine := &fakeEngine{exists: false}

	a, err := Start(context.Background(), Request{
		Locator: testLocator,
		Options: downloadOptions(0, FailOnTimeout),
	}, Deps{Engine: engine, Transport: tr, Registry: reg})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	return a
}

func TestRegistry_CancelAll(t *testing.T) {
	reg := NewRegistry(true)

	// Separate transports so each fetch maps to a known attempt.
	trFirst, trSecond, trSettled := newFakeTransport(), newFakeTransport(), newFakeTransport()

	first := startRegisteredAttempt(t, trFirst, reg)
	second := startRegisteredAttempt(t, trSecond, reg)
	settled := startRegisteredAttempt(t, trSettled, reg)

	f1 := trFirst.await(time.Second)
	f2 := trSecond.await(time.Second)
	f3 := trSettled.await(time.Second)

	if f1 == nil || f2 == nil || f3 == nil {
		t.Fatal("fetches never started")
	}

	// Settle one attempt before the bulk cancel.
	f3.release <- fetchOutcome{snap: &replica.Snapshot{Path: "/tmp/staged", Size: 1}}

	r, err := settled.Await(context.Background())
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	if reg.Len() != 2 {
		t.Fatalf("registry Len() = %d after one settle, want 2", reg.Len())
	}

	reg.CancelAll()

	for _, a := range []*Attempt{first, second} {
		if _, err := a.Await(context.Background()); !replica.IsCanceled(err) {
			t.Errorf("outstanding attempt outcome = %v, want canceled", err)
		}
	}

	// The attempt that settled first keeps its successful outcome.
	if r2, err2 := settled.Await(context.Background()); err2 != nil || r2 != r {
		t.Errorf("settled attempt was disturbed by CancelAll: (%v, %v)", r2, err2)
	}

	if reg.Len() != 0 {
		t.Errorf("registry Len() = %d after CancelAll, want 0", reg.Len())
	}
}

func TestRegistry_UnregisterOnSettle(t *testing.T) {
	reg := NewRegistry(true)
	tr := newFakeTransport()

	a := startRegisteredAttempt(t, tr, reg)

	if reg.Len() != 1 {
		t.Fatalf("registry Len() = %d, want 1", reg.Len())
	}

	f := tr.await(time.Second)
	if f == nil {
		t.Fatal("fetch never started")
	}

	f.release <- fetchOutcome{snap: &replica.Snapshot{Path: "/tmp/staged", Size: 1}}

	if _, err := a.Await(context.Background()); err != nil {
		t.Fatalf("Await() error = %v", err)
	}

	if reg.Len() != 0 {
		t.Errorf("settled attempt should unregister itself, Len() = %d", reg.Len())
	}
}

func TestRegistry_Disabled(t *testing.T) {
	reg := NewRegistry(false)
	tr := newFakeTransport()

	if reg.Enabled() {
		t.Error("Enabled() = true for a disabled registry")
	}

	if !NewRegistry(true).Enabled() {
		t.Error("Enabled() = false for an enabled registry")
	}

	a := startRegisteredAttempt(t, tr, reg)

	if reg.Len() != 0 {
		t.Errorf("disabled registry should do no bookkeeping, Len() = %d", reg.Len())
	}

	// CancelAll on a disabled registry is a harmless no-op.
	reg.CancelAll()

	f := tr.await(time.Second)
	if f == nil {
		t.Fatal("fetch never started")
	}

	f.release <- fetchOutcome{snap: &replica.Snapshot{Path: "/tmp/staged", Size: 1}}

	if _, err := a.Await(context.Background()); err != nil {
		t.Errorf("attempt outside the registry should settle normally, got %v", err)
	}
}
