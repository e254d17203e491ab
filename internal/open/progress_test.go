package open

import "testing"

func TestBroadcaster_SeedsOnAdd(t *testing.T) {
	b := newBroadcaster()

	var estimates []float64
	b.add(EstimateListener(func(est float64) {
		estimates = append(estimates, est)
	}))

	if len(estimates) != 1 || estimates[0] != 1.0 {
		t.Fatalf("estimate listener should be seeded with 1.0 synchronously, got %v", estimates)
	}

	var counts [][2]int64
	b.add(ByteCountListener(func(transferred, transferable int64) {
		counts = append(counts, [2]int64{transferred, transferable})
	}))

	if len(counts) != 1 || counts[0] != [2]int64{0, 0} {
		t.Fatalf("byte listener should be seeded with (0,0) synchronously, got %v", counts)
	}
}

func TestBroadcaster_ProjectsPerShape(t *testing.T) {
	b := newBroadcaster()

	var estimates []float64
	var counts [][2]int64

	b.add(EstimateListener(func(est float64) {
		estimates = append(estimates, est)
	}))
	b.add(ByteCountListener(func(transferred, transferable int64) {
		counts = append(counts, [2]int64{transferred, transferable})
	}))

	b.emit(512, 1024, 0.5)

	if len(estimates) != 2 || estimates[1] != 0.5 {
		t.Errorf("estimate listener got %v, want seed then 0.5", estimates)
	}

	if len(counts) != 2 || counts[1] != [2]int64{512, 1024} {
		t.Errorf("byte listener got %v, want seed then (512,1024)", counts)
	}
}

func TestBroadcaster_Clear(t *testing.T) {
	b := newBroadcaster()

	var events int
	b.add(ByteCountListener(func(_, _ int64) {
		events++
	}))

	b.clear()
	b.clear() // idempotent

	b.emit(1, 2, 0.5)

	if events != 1 {
		t.Errorf("listener received %d events, want only the seed", events)
	}
}

func TestBroadcaster_ReentrantAddFromListener(t *testing.T) {
	b := newBroadcaster()

	var late []float64

	// A listener that registers another listener while an event is being
	// delivered must not deadlock the broadcaster.
	b.add(ByteCountListener(func(transferred, _ int64) {
		if transferred > 0 {
			b.add(EstimateListener(func(est float64) {
				late = append(late, est)
			}))
		}
	}))

	b.emit(512, 1024, 0.5)

	if len(late) != 1 || late[0] != 1.0 {
		t.Fatalf("listener added mid-event should be seeded, got %v", late)
	}

	b.emit(1024, 1024, 1.0)

	if len(late) != 2 {
		t.Errorf("listener added mid-event should receive later events, got %v", late)
	}
}

func TestBroadcaster_ClearFromListener(t *testing.T) {
	b := newBroadcaster()

	var events int

	b.add(ByteCountListener(func(_, _ int64) {
		events++
		b.clear()
	}))

	b.emit(1, 2, 0.5)
	b.emit(2, 2, 1.0)

	if events != 2 {
		t.Errorf("listener received %d events, want seed plus the one that cleared", events)
	}
}

func TestBroadcaster_AddAfterClearStillSeeds(t *testing.T) {
	b := newBroadcaster()
	b.clear()

	var estimates []float64
	b.add(EstimateListener(func(est float64) {
		estimates = append(estimates, est)
	}))

	if len(estimates) != 1 || estimates[0] != 1.0 {
		t.Fatalf("late listener should still be seeded, got %v", estimates)
	}

	b.emit(1, 2, 0.5)

	if len(estimates) != 1 {
		t.Errorf("late listener should receive no real events, got %v", estimates)
	}
}
