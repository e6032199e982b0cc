// Package aggregator implements the Timeslot Aggregator (C3): a keyed
// fold of perf-counter deltas into the current timeslot, rolling over on
// each sync-timer boundary and handing completed timeslots to the
// writer over a bounded channel (§4.3).
package aggregator

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unvariance/collector/internal/eventbus"
	"github.com/unvariance/collector/internal/tasktable"
)

// Entry is one pid's folded contribution within a Timeslot.
type Entry struct {
	Comm                 string
	CgroupID             uint64
	CyclesDelta          uint64
	InstructionsDelta    uint64
	LlcMissesDelta       uint64
	CacheReferencesDelta uint64
	TimeDeltaNs          uint64
}

// Timeslot is the completed, immutable aggregate handed off to the
// writer. It is never mutated after hand-off (§3).
type Timeslot struct {
	Timestamp uint64
	Entries   map[uint32]Entry
}

// DefaultChannelCapacity is the bounded capacity of the completion
// channel to C4, per §4.3.
const DefaultChannelCapacity = 1000

// Aggregator owns the single mutable current timeslot. It must run on a
// single thread (the same thread as the event-bus handlers, per §5) and
// carries no internal synchronization.
type Aggregator struct {
	tasks   *tasktable.Table
	out     chan<- Timeslot
	current Timeslot
	log     *slog.Logger

	dropCount        atomic.Uint64
	lastDropLogNanos atomic.Int64
}

// New creates an Aggregator that folds into out, a bounded channel whose
// capacity should be DefaultChannelCapacity. tasks is the shared C2
// table; the aggregator calls FlushRemovals on it after each hand-off.
func New(tasks *tasktable.Table, out chan<- Timeslot, log *slog.Logger) *Aggregator {
	return &Aggregator{
		tasks: tasks,
		out:   out,
		current: Timeslot{
			Entries: make(map[uint32]Entry),
		},
		log: log,
	}
}

// OnPerfMeasurement folds m into the current timeslot, keyed by pid.
// Counter deltas and time_delta_ns are summed; the per-pid (comm,
// cgroup_id) is set on first insertion and thereafter only overwritten
// if the task table's metadata differs (last-writer-wins), per §4.3.
func (a *Aggregator) OnPerfMeasurement(m eventbus.PerfMeasurement) {
	meta, _ := a.tasks.Lookup(m.Pid)

	e, exists := a.current.Entries[m.Pid]
	if !exists {
		e.Comm = meta.Comm
		e.CgroupID = meta.CgroupID
	} else if meta.Comm != "" && (meta.Comm != e.Comm || meta.CgroupID != e.CgroupID) {
		e.Comm = meta.Comm
		e.CgroupID = meta.CgroupID
	}

	e.CyclesDelta += m.CyclesDelta
	e.InstructionsDelta += m.InstructionsDelta
	e.LlcMissesDelta += m.LlcMissesDelta
	e.CacheReferencesDelta += m.CacheReferencesDelta
	e.TimeDeltaNs += m.TimeDeltaNs

	a.current.Entries[m.Pid] = e
}

// OnTimeslotBoundary is the synctimer.BoundaryFunc wired to C5. It
// atomically swaps out current_timeslot, hands the completed one to C4
// via a non-blocking send, and only then flushes pending task-table
// removals — send-then-flush, so late perf records for the just-closed
// timeslot still resolve against the soon-to-be-removed metadata (§4.3).
func (a *Aggregator) OnTimeslotBoundary(old, new uint64) {
	completed := a.current
	completed.Timestamp = old
	a.current = Timeslot{
		Timestamp: new,
		Entries:   make(map[uint32]Entry),
	}

	select {
	case a.out <- completed:
	default:
		a.dropCount.Add(1)
		a.maybeLogDrop()
	}

	a.tasks.FlushRemovals()
}

// maybeLogDrop emits at most one log line per second summarizing the
// current drop count, per §4.3's backpressure policy.
func (a *Aggregator) maybeLogDrop() {
	if a.log == nil {
		return
	}
	now := time.Now().UnixNano()
	last := a.lastDropLogNanos.Load()
	if now-last < time.Second.Nanoseconds() {
		return
	}
	if !a.lastDropLogNanos.CompareAndSwap(last, now) {
		return
	}
	a.log.Warn("dropping timeslots, writer channel full", slog.Uint64("dropped_total", a.dropCount.Load()))
}

// DroppedTimeslots returns the cumulative count of timeslots dropped due
// to writer backpressure.
func (a *Aggregator) DroppedTimeslots() uint64 {
	return a.dropCount.Load()
}

// Close closes the output channel so the writer's receive loop
// terminates after draining, per §4.3's shutdown contract.
func (a *Aggregator) Close() {
	close(a.out)
}
