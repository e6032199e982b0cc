// Package tasktable implements the Task Table (C2): a pid -> metadata
// mapping with generation-safe deferred removal, so a perf record that
// arrives after a task's TASK_FREE but before the end of its timeslot
// still resolves against the task's metadata (§4.2).
//
// Table is intentionally single-threaded: it is only ever touched from
// the BPF-polling thread (§5), so it carries no internal synchronization.
package tasktable

import "github.com/unvariance/collector/internal/eventbus"

// Metadata mirrors eventbus.TaskMetadata, decoded into the table's
// storage representation (comm as a string, trimmed of NUL padding).
type Metadata struct {
	Pid      uint32
	Comm     string
	CgroupID uint64
}

// Table maps pid -> Metadata, with pending removal deferred to an
// explicit FlushRemovals call.
type Table struct {
	entries map[uint32]Metadata
	pending map[uint32]struct{}
}

// New creates an empty Table.
func New() *Table {
	return &Table{
		entries: make(map[uint32]Metadata),
		pending: make(map[uint32]struct{}),
	}
}

// Insert upserts meta by pid. Idempotent.
func (t *Table) Insert(meta Metadata) {
	t.entries[meta.Pid] = meta
}

// InsertRaw decodes a wire TaskMetadata record and inserts it.
func (t *Table) InsertRaw(m eventbus.TaskMetadata) {
	t.Insert(Metadata{
		Pid:      m.Pid,
		Comm:     eventbus.CommString(m.Comm),
		CgroupID: m.CgroupID,
	})
}

// Lookup returns the metadata for pid and whether it was found. A pid
// whose TASK_METADATA has been observed and whose TASK_FREE has not yet
// been flushed always resolves here (§4.2's soundness invariant).
func (t *Table) Lookup(pid uint32) (Metadata, bool) {
	m, ok := t.entries[pid]
	return m, ok
}

// QueueRemoval marks pid for removal on the next FlushRemovals. The
// mapping entry remains visible to Lookup until the flush runs.
func (t *Table) QueueRemoval(pid uint32) {
	t.pending[pid] = struct{}{}
}

// FlushRemovals removes every pending pid from the mapping and clears
// the pending set. Must be called only after all perf measurements of
// the just-ended timeslot have been folded in (§4.2, §4.3).
func (t *Table) FlushRemovals() {
	for pid := range t.pending {
		delete(t.entries, pid)
	}
	t.pending = make(map[uint32]struct{})
}

// Len returns the number of currently tracked (not-yet-flushed) entries.
func (t *Table) Len() int {
	return len(t.entries)
}
