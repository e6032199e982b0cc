package synctimer

import "testing"

func TestStartArmsTimer(t *testing.T) {
	armed := false
	timer := New(func() error { armed = true; return nil })
	if err := timer.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !armed {
		t.Fatal("expected arm() to be called")
	}
}

func TestOnTimeslotFiresOncePerNewValue(t *testing.T) {
	timer := New(nil)
	var calls [][2]uint64
	timer.Subscribe(func(old, new uint64) { calls = append(calls, [2]uint64{old, new}) })

	// Simulate per-CPU reports of the same boundary arriving from
	// multiple CPUs: only the first should fire the callback.
	timer.OnTimeslot(0, 1)
	timer.OnTimeslot(0, 1)
	timer.OnTimeslot(0, 1)

	if len(calls) != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d: %v", len(calls), calls)
	}
	if calls[0] != [2]uint64{0, 1} {
		t.Fatalf("unexpected call: %v", calls[0])
	}
}

func TestOnTimeslotFiresForEachNewBoundary(t *testing.T) {
	timer := New(nil)
	var seen []uint64
	timer.Subscribe(func(old, new uint64) { seen = append(seen, new) })

	timer.OnTimeslot(0, 1)
	timer.OnTimeslot(1, 2)
	timer.OnTimeslot(1, 2)
	timer.OnTimeslot(2, 3)

	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct boundaries, got %v", seen)
	}
}

func TestOnTimeslotHandlesZeroFirstBoundary(t *testing.T) {
	timer := New(nil)
	calls := 0
	timer.Subscribe(func(old, new uint64) { calls++ })

	timer.OnTimeslot(0, 0)
	timer.OnTimeslot(0, 0)

	if calls != 1 {
		t.Fatalf("expected 1 call even when new_timeslot starts at zero, got %d", calls)
	}
}
