// Package eventbus implements the Event Source (C1): it dispatches
// fixed-layout records read from per-CPU ring buffers to registered
// handlers by message-type tag. The ring-buffer transport itself (the
// kernel-side eBPF program and however it is loaded/attached) is out of
// scope; this package consumes an abstraction over it, Ring, so that
// tests can supply a fake.
package eventbus

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/unvariance/collector/internal/errs"
)

// MsgType identifies the first byte of every record on the wire.
type MsgType byte

const (
	MsgPerfMeasurement MsgType = 1
	MsgTaskMetadata    MsgType = 2
	MsgTaskFree        MsgType = 3
	MsgTimeslot        MsgType = 4
	MsgError           MsgType = 5
)

// PerfMeasurement mirrors §3/§6's PERF_MEASUREMENT wire layout.
type PerfMeasurement struct {
	Pid                   uint32
	CyclesDelta           uint64
	InstructionsDelta     uint64
	LlcMissesDelta        uint64
	CacheReferencesDelta  uint64
	TimeDeltaNs           uint64
	Timeslot              uint64
}

// TaskMetadata mirrors §3/§6's TASK_METADATA wire layout.
type TaskMetadata struct {
	Pid      uint32
	Comm     [16]byte
	CgroupID uint64
}

// TaskFree mirrors §3/§6's TASK_FREE wire layout.
type TaskFree struct {
	Pid uint32
}

// TimeslotBoundary mirrors §3/§6's TIMESLOT boundary wire layout.
type TimeslotBoundary struct {
	Old uint64
	New uint64
}

// RingError is an opaque kernel-side error code plus a lost-event count,
// surfaced on the same transport per §4.1's backpressure contract.
type RingError struct {
	Code    uint32
	LostCnt uint64
}

// Ring is one per-CPU ring buffer. Poll reads available records and
// invokes cb once per record with the raw payload (msg_type byte
// included). Implementations may block up to timeout waiting for data.
type Ring interface {
	Poll(timeoutMs int, cb func(raw []byte)) error
}

// Handler is invoked inline from Poll for every record whose msg_type it
// is registered against. Multiple handlers per type run in registration
// order, per §4.1.
type Handler func(raw []byte)

// Bus dispatches ring-buffer records to registered handlers. All methods
// other than Subscribe are expected to run on a single dedicated thread
// (per §5); Bus itself does no internal locking.
type Bus struct {
	rings    []Ring
	handlers map[MsgType][]Handler
	log      *slog.Logger

	lastDropLog time.Time
	dropCount   uint64
}

// New creates a Bus over the given per-CPU rings.
func New(rings []Ring, log *slog.Logger) *Bus {
	return &Bus{
		rings:    rings,
		handlers: make(map[MsgType][]Handler),
		log:      log,
	}
}

// Subscribe registers handler for msgType. Must be called before the
// first Poll; Bus is not safe for concurrent Subscribe/Poll.
func (b *Bus) Subscribe(msgType MsgType, h Handler) {
	b.handlers[msgType] = append(b.handlers[msgType], h)
}

// Poll drains all rings up to timeoutMs wall-clock, invoking handlers
// inline. It is the only point at which handlers run (§4.1).
func (b *Bus) Poll(timeoutMs int) error {
	for _, r := range b.rings {
		if err := r.Poll(timeoutMs, b.dispatch); err != nil {
			return errs.Wrap(errs.Io, "ring poll failed", err)
		}
	}
	return nil
}

func (b *Bus) dispatch(raw []byte) {
	if len(raw) < 1 {
		b.countParseError("empty record")
		return
	}
	msgType := MsgType(raw[0])
	for _, h := range b.handlers[msgType] {
		h(raw)
	}
}

func (b *Bus) countParseError(reason string) {
	if b.log != nil {
		b.log.Debug("dropped malformed ring record", slog.String("reason", reason))
	}
}

// DecodePerfMeasurement parses a PERF_MEASUREMENT payload per §6's layout:
// msg_type, _pad[7], pid u32, _pad[4], then six u64 fields.
func DecodePerfMeasurement(raw []byte) (PerfMeasurement, error) {
	const want = 8 + 4 + 4 + 8*6
	if len(raw) < want {
		return PerfMeasurement{}, errs.New(errs.Parse, fmt.Sprintf("perf_measurement: short record (%d bytes)", len(raw)))
	}
	off := 8
	pid := binary.LittleEndian.Uint32(raw[off:])
	off += 4 + 4
	m := PerfMeasurement{Pid: pid}
	m.CyclesDelta = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	m.InstructionsDelta = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	m.LlcMissesDelta = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	m.CacheReferencesDelta = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	m.TimeDeltaNs = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	m.Timeslot = binary.LittleEndian.Uint64(raw[off:])
	return m, nil
}

// DecodeTaskMetadata parses a TASK_METADATA payload: msg_type, _pad[3],
// pid u32, comm[16], cgroup_id u64.
func DecodeTaskMetadata(raw []byte) (TaskMetadata, error) {
	const want = 4 + 4 + 16 + 8
	if len(raw) < want {
		return TaskMetadata{}, errs.New(errs.Parse, fmt.Sprintf("task_metadata: short record (%d bytes)", len(raw)))
	}
	var m TaskMetadata
	off := 4
	m.Pid = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	copy(m.Comm[:], raw[off:off+16])
	off += 16
	m.CgroupID = binary.LittleEndian.Uint64(raw[off:])
	return m, nil
}

// DecodeTaskFree parses a TASK_FREE payload: msg_type, _pad[3], pid u32.
func DecodeTaskFree(raw []byte) (TaskFree, error) {
	const want = 4 + 4
	if len(raw) < want {
		return TaskFree{}, errs.New(errs.Parse, fmt.Sprintf("task_free: short record (%d bytes)", len(raw)))
	}
	return TaskFree{Pid: binary.LittleEndian.Uint32(raw[4:8])}, nil
}

// DecodeTimeslot parses a TIMESLOT payload: msg_type, _pad[7], old u64, new u64.
func DecodeTimeslot(raw []byte) (TimeslotBoundary, error) {
	const want = 8 + 8 + 8
	if len(raw) < want {
		return TimeslotBoundary{}, errs.New(errs.Parse, fmt.Sprintf("timeslot: short record (%d bytes)", len(raw)))
	}
	return TimeslotBoundary{
		Old: binary.LittleEndian.Uint64(raw[8:16]),
		New: binary.LittleEndian.Uint64(raw[16:24]),
	}, nil
}

// DecodeError parses an ERROR payload per §4.1's backpressure contract:
// msg_type, _pad[3], code u32, lost_cnt u64.
func DecodeError(raw []byte) (RingError, error) {
	const want = 4 + 4 + 8
	if len(raw) < want {
		return RingError{}, errs.New(errs.Parse, fmt.Sprintf("error: short record (%d bytes)", len(raw)))
	}
	return RingError{
		Code:    binary.LittleEndian.Uint32(raw[4:8]),
		LostCnt: binary.LittleEndian.Uint64(raw[8:16]),
	}, nil
}

// CommString trims trailing NUL bytes from a fixed-width comm field.
func CommString(comm [16]byte) string {
	n := 0
	for n < len(comm) && comm[n] != 0 {
		n++
	}
	return string(comm[:n])
}
