// Package writer implements the Columnar Writer (C4): a single
// long-lived consumer of completed timeslots that buffers rows, emits
// size-bounded Parquet objects, rotates on signal or size, and enforces
// a storage quota (§4.4).
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/unvariance/collector/internal/aggregator"
	"github.com/unvariance/collector/internal/errs"
	"github.com/unvariance/collector/internal/objstore"
)

// Row is one (timeslot, pid) entry, matching §4.4/§6's schema exactly.
type Row struct {
	Timestamp       int64  `parquet:"timestamp"`
	Pid             int32  `parquet:"pid"`
	Comm            string `parquet:"comm"`
	CgroupID        uint64 `parquet:"cgroup_id"`
	Cycles          uint64 `parquet:"cycles"`
	Instructions    uint64 `parquet:"instructions"`
	LlcMisses       uint64 `parquet:"llc_misses"`
	CacheReferences uint64 `parquet:"cache_references"`
	TimeNs          uint64 `parquet:"time_ns"`
}

// Config holds C4's enumerated configuration (§4.4).
type Config struct {
	StoragePrefix   string
	BufferSize      int64 // target memory bytes before flush-to-object
	FileSizeLimit   int64 // bytes per output object before rotation
	MaxRowGroupSize int   // rows per internal row group
	StorageQuota    int64 // optional; 0 means unlimited
}

// DefaultConfig mirrors §6's CLI defaults.
func DefaultConfig(prefix string) Config {
	return Config{
		StoragePrefix:   prefix,
		BufferSize:      100 * 1024 * 1024,
		FileSizeLimit:   1024 * 1024 * 1024,
		MaxRowGroupSize: 1 << 20,
	}
}

// Writer consumes timeslots from a channel and a coalesced rotate signal
// channel, and writes Parquet files to a Store. It is meant to run as a
// single long-lived task (§4.4); it owns the object-store handle
// exclusively (§5).
type Writer struct {
	cfg      Config
	store    objstore.Store
	nodeID   string
	log      *slog.Logger
	commCache *lru.Cache[uint32, string]

	seq            int
	bytesThisFile  int64
	bytesTotal     int64
	quotaStopped   bool
	buffered       []Row
	bufferedBytes  int64
	curObjWriter   objstore.Object
	curParquet     *parquet.GenericWriter[Row]
}

// New constructs a Writer. store is exclusively owned by the returned
// Writer for its lifetime.
func New(cfg Config, store objstore.Store, log *slog.Logger) *Writer {
	cache, _ := lru.New[uint32, string](4096)
	return &Writer{
		cfg:       cfg,
		store:     store,
		nodeID:    nodeIdentity(),
		log:       log,
		commCache: cache,
	}
}

// nodeIdentity returns the hostname or, if unavailable, the first 8
// characters of a random UUID, per §4.4's object-naming contract.
func nodeIdentity() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return uuid.NewString()[:8]
}

// Run drains timeslots from in and rotate signals from rotate until in
// is closed, then finalizes the current object and returns. This is the
// writer task's entire body; the completion wrapper (C9) wraps the call.
func (w *Writer) Run(ctx context.Context, in <-chan aggregator.Timeslot, rotate <-chan struct{}) error {
	for {
		select {
		case ts, ok := <-in:
			if !ok {
				return w.finalize()
			}
			if err := w.ingest(ctx, ts); err != nil {
				return err
			}
		case <-rotate:
			if err := w.rotateNow(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			return w.finalize()
		}
	}
}

func (w *Writer) ingest(ctx context.Context, ts aggregator.Timeslot) error {
	if w.quotaStopped {
		return nil
	}

	for pid, e := range ts.Entries {
		comm := e.Comm
		if comm == "" {
			if cached, ok := w.commCache.Get(pid); ok {
				comm = cached
			}
		} else {
			w.commCache.Add(pid, comm)
		}

		row := Row{
			Timestamp:       int64(ts.Timestamp),
			Pid:             int32(pid),
			Comm:            comm,
			CgroupID:        e.CgroupID,
			Cycles:          e.CyclesDelta,
			Instructions:    e.InstructionsDelta,
			LlcMisses:       e.LlcMissesDelta,
			CacheReferences: e.CacheReferencesDelta,
			TimeNs:          e.TimeDeltaNs,
		}
		w.buffered = append(w.buffered, row)
		w.bufferedBytes += rowSizeEstimate(row)
	}

	if w.bufferedBytes >= w.cfg.BufferSize || len(w.buffered) >= w.cfg.MaxRowGroupSize {
		if err := w.flushRowGroup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// rowSizeEstimate is a rough in-memory footprint estimate used only to
// decide when to flush a row group; it does not need to be exact (§9:
// row-group flush ordering does not affect correctness).
func rowSizeEstimate(r Row) int64 {
	return int64(len(r.Comm)) + 64
}

func (w *Writer) flushRowGroup(ctx context.Context) error {
	if len(w.buffered) == 0 {
		return nil
	}
	if err := w.ensureOpenObject(ctx); err != nil {
		return err
	}
	if w.curParquet == nil {
		// Quota reached: ensureOpenObject already logged and switched us
		// into drain-silently mode (§D); nothing to write.
		return nil
	}

	if _, err := w.curParquet.Write(w.buffered); err != nil {
		return errs.Wrap(errs.WriterFatal, "failed to write row group", err)
	}
	if err := w.curParquet.Flush(); err != nil {
		return errs.Wrap(errs.WriterFatal, "failed to flush row group", err)
	}

	w.bytesThisFile += w.bufferedBytes
	w.bytesTotal += w.bufferedBytes
	w.buffered = w.buffered[:0]
	w.bufferedBytes = 0

	if w.bytesThisFile >= w.cfg.FileSizeLimit {
		return w.closeCurrentObject()
	}
	return nil
}

// rotateNow closes the current object at the next row-group boundary,
// per §4.4's rotate-signal contract.
func (w *Writer) rotateNow(ctx context.Context) error {
	if err := w.flushRowGroup(ctx); err != nil {
		return err
	}
	return w.closeCurrentObject()
}

func (w *Writer) ensureOpenObject(ctx context.Context) error {
	if w.curParquet != nil {
		return nil
	}
	if w.quotaExceeded() {
		w.stopForQuota()
		return nil
	}

	key := w.objectKey()
	obj, err := w.store.Create(ctx, key)
	if err != nil {
		return errs.Wrap(errs.WriterFatal, "failed to create output object", err)
	}
	buffered := objstore.NewBufferedObject(obj)
	w.curObjWriter = buffered
	w.curParquet = parquet.NewGenericWriter[Row](buffered)
	return nil
}

func (w *Writer) quotaExceeded() bool {
	if w.cfg.StorageQuota <= 0 {
		return false
	}
	headroom := w.cfg.BufferSize
	return w.bytesTotal+headroom > w.cfg.StorageQuota
}

func (w *Writer) stopForQuota() {
	if w.quotaStopped {
		return
	}
	w.quotaStopped = true
	w.buffered = w.buffered[:0]
	w.bufferedBytes = 0
	if w.log != nil {
		w.log.Warn("storage quota reached, draining silently", slog.Int64("storage_quota", w.cfg.StorageQuota))
	}
}

func (w *Writer) objectKey() string {
	w.seq++
	ts := time.Now().UTC().Format("2006-01-02T15-04-05")
	return fmt.Sprintf("%s-%s/%s-%d.parquet", w.cfg.StoragePrefix, w.nodeID, ts, w.seq)
}

func (w *Writer) closeCurrentObject() error {
	if w.curParquet == nil {
		return nil
	}
	if err := w.curParquet.Close(); err != nil {
		w.curObjWriter.Close()
		return errs.Wrap(errs.WriterFatal, "failed to close parquet writer", err)
	}
	err := w.curObjWriter.Close()
	w.curParquet = nil
	w.curObjWriter = nil
	if err != nil {
		return errs.Wrap(errs.WriterFatal, "failed to finalize output object", err)
	}
	w.bytesThisFile = 0
	return nil
}

func (w *Writer) finalize() error {
	if err := w.flushRowGroup(context.Background()); err != nil {
		return err
	}
	return w.closeCurrentObject()
}
