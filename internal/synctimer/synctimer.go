// Package synctimer implements the userspace side of the Sync-Timer
// Contract (C5): the kernel producer emits TIMESLOT boundaries once per
// CPU, and userspace treats a boundary as globally reached on the first
// observed TIMESLOT for a given new_timeslot, per §4.5 — the kernel side
// guarantees every per-CPU timer fires before the next sample of the new
// timeslot is produced, so there is no need to wait for every CPU here.
package synctimer

import "github.com/unvariance/collector/internal/errs"

// BoundaryFunc is invoked once per globally-reached timeslot boundary.
type BoundaryFunc func(old, new uint64)

// Timer arms the kernel-side cross-CPU synchronized timer and dispatches
// boundary callbacks as TIMESLOT events arrive on the event bus.
type Timer struct {
	arm     func() error
	subs    []BoundaryFunc
	lastNew uint64
	hasLast bool
	armed   bool
}

// New creates a Timer. arm is called by Start to perform whatever
// kernel-side setup is needed to begin emitting TIMESLOT events (out of
// scope per §1; callers typically wire this to their BPF loader).
func New(arm func() error) *Timer {
	return &Timer{arm: arm}
}

// Subscribe registers a callback for boundary events.
func (t *Timer) Subscribe(fn BoundaryFunc) {
	t.subs = append(t.subs, fn)
}

// Start arms the timer during startup.
func (t *Timer) Start() error {
	if t.arm != nil {
		if err := t.arm(); err != nil {
			return errs.Wrap(errs.Io, "failed to arm sync timer", err)
		}
	}
	t.armed = true
	return nil
}

// OnTimeslot should be called by the event-bus handler registered for
// MsgTimeslot. It treats the first report of a given new_timeslot value
// as the global boundary and fans out to subscribers exactly once.
func (t *Timer) OnTimeslot(old, new uint64) {
	if t.hasLast && new == t.lastNew {
		return
	}
	t.lastNew = new
	t.hasLast = true
	for _, fn := range t.subs {
		fn(old, new)
	}
}
