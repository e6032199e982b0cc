// Command collector runs the timeslot aggregation pipeline (C1-C5, C9):
// it folds hardware perf-counter deltas attributed to tasks into
// fixed-wall-clock timeslots and writes them as rotating Parquet
// objects to an object store (§1, §6).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/unvariance/collector/internal/aggregator"
	"github.com/unvariance/collector/internal/config"
	"github.com/unvariance/collector/internal/eventbus"
	"github.com/unvariance/collector/internal/objstore"
	"github.com/unvariance/collector/internal/sandbox"
	"github.com/unvariance/collector/internal/shutdown"
	"github.com/unvariance/collector/internal/synctimer"
	"github.com/unvariance/collector/internal/tasktable"
	"github.com/unvariance/collector/internal/writer"
	"github.com/unvariance/collector/pkg/logging"
	"github.com/unvariance/collector/pkg/metrics"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	logFlags := logging.RegisterFlags()
	metricFlags := metrics.RegisterFlags("collector")

	cfg, err := config.ParseCollectorFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logCfg := logFlags.ToConfig()
	if cfg.Verbose {
		logCfg.Level = slog.LevelDebug
	}
	log := logging.Setup("collector", logCfg)

	sandboxDir := cfg.LocalStorageDir
	if cfg.StorageType == "s3" {
		sandboxDir = ""
	}
	sandbox.Restrict(sandbox.CollectorPaths(sandboxDir), log)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSignals()

	metricsCreator, err := metrics.New(ctx, metricFlags.ToConfig("collector", version))
	if err != nil {
		log.Error("failed to initialize metrics", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store, err := objstore.NewStore(ctx, cfg.StorageType, cfg.LocalStorageDir, cfg.UploadBytesPerSec)
	if err != nil {
		log.Error("failed to construct object store client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rings, err := openRings(log)
	if err != nil {
		log.Error("failed to load kernel event producer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fabric := shutdown.New(ctx, log)

	tasks := tasktable.New()
	timeslots := make(chan aggregator.Timeslot, aggregator.DefaultChannelCapacity)
	agg := aggregator.New(tasks, timeslots, log)

	bus := eventbus.New(rings, log)
	bus.Subscribe(eventbus.MsgTaskMetadata, func(raw []byte) {
		m, err := eventbus.DecodeTaskMetadata(raw)
		if err != nil {
			return
		}
		tasks.InsertRaw(m)
	})
	bus.Subscribe(eventbus.MsgTaskFree, func(raw []byte) {
		m, err := eventbus.DecodeTaskFree(raw)
		if err != nil {
			return
		}
		tasks.QueueRemoval(m.Pid)
	})
	bus.Subscribe(eventbus.MsgPerfMeasurement, func(raw []byte) {
		m, err := eventbus.DecodePerfMeasurement(raw)
		if err != nil {
			return
		}
		agg.OnPerfMeasurement(m)
	})

	bus.Subscribe(eventbus.MsgError, func(raw []byte) {
		m, err := eventbus.DecodeError(raw)
		if err != nil {
			return
		}
		log.Warn("ring buffer reported lost events",
			slog.Uint64("code", uint64(m.Code)), slog.Uint64("lost_count", m.LostCnt))
		metricsCreator.Counter(ctx, "collector.ring.lost_events", int64(m.LostCnt),
			"1", "events lost on the ring buffer per §4.1's backpressure contract",
			attribute.Int64("code", int64(m.Code)))
	})

	timer := synctimer.New(func() error { return nil })
	timer.Subscribe(agg.OnTimeslotBoundary)
	bus.Subscribe(eventbus.MsgTimeslot, func(raw []byte) {
		m, err := eventbus.DecodeTimeslot(raw)
		if err != nil {
			return
		}
		timer.OnTimeslot(m.Old, m.New)
	})
	if err := timer.Start(); err != nil {
		log.Error("failed to arm sync timer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	wr := writer.New(writer.Config{
		StoragePrefix:   cfg.Prefix,
		BufferSize:      cfg.ParquetBufferSize,
		FileSizeLimit:   cfg.ParquetFileSize,
		MaxRowGroupSize: cfg.MaxRowGroupSize,
		StorageQuota:    cfg.StorageQuota,
	}, store, log)

	rotate := make(chan struct{}, 1)
	fabric.Go("writer", func(ctx context.Context) error {
		return wr.Run(ctx, timeslots, rotate)
	})

	// The BPF-polling loop owns C1/C2/C3 on a single thread (§5); it is
	// the sole producer into timeslots and the sole caller of agg.Close.
	fabric.Go("bpf-poll", func(ctx context.Context) error {
		defer agg.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if err := bus.Poll(200); err != nil {
				return err
			}
		}
	})

	sigusr1 := make(chan os.Signal, 1)
	signal.Notify(sigusr1, syscall.SIGUSR1)
	fabric.Go("rotate-signal", func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigusr1:
				select {
				case rotate <- struct{}{}:
				default:
				}
			}
		}
	})

	if cfg.DurationSecs > 0 {
		fabric.Go("duration-timeout", func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Duration(cfg.DurationSecs) * time.Second):
				return nil
			}
		})
	}

	fabric.Wait()
	if metricsCreator != nil {
		_ = metricsCreator.Shutdown(context.Background())
	}
	// A nil cause or plain context.Canceled means shutdown was a signal
	// or a task's ordinary exit, not a failure (§4.9); anything else is
	// the fatal error that triggered it.
	if cause := fabric.Err(); cause != nil && !errors.Is(cause, context.Canceled) {
		log.Error("shutting down after task failure", slog.String("cause", cause.Error()))
		os.Exit(1)
	}
}
