// Package auditsink persists the resctrl reconciler's PodResctrlEvent
// stream to Postgres (§B.4), giving operators a queryable history of
// group lifecycle beyond the bounded in-memory channel. It is a
// secondary subscriber, not the canonical truth — the kernel's resctrl
// state remains authoritative (§4.8). Grounded on the teacher's
// internal/postgres pgxpool wrapper.
package auditsink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unvariance/collector/internal/reconciler"
)

// Config holds database connection configuration. Mirrors the
// teacher's postgres.Config shape.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns sensible pool defaults; DSN is empty, meaning
// the audit sink is disabled until -audit-dsn is set.
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        1,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// Enabled reports whether a DSN was configured.
func (c Config) Enabled() bool { return c.DSN != "" }

const createTableSQL = `
CREATE TABLE IF NOT EXISTS pod_resctrl_events (
	id                    BIGSERIAL PRIMARY KEY,
	observed_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	kind                  TEXT NOT NULL,
	pod_uid               TEXT NOT NULL,
	group_state           TEXT NOT NULL,
	group_path            TEXT NOT NULL,
	total_containers      INT NOT NULL,
	reconciled_containers INT NOT NULL
)`

const insertEventSQL = `
INSERT INTO pod_resctrl_events
	(kind, pod_uid, group_state, group_path, total_containers, reconciled_containers)
VALUES ($1, $2, $3, $4, $5, $6)`

// Sink writes reconciler.Event values to Postgres. Write failures are
// logged and dropped: the audit trail is best-effort and must never
// block or fail the reconciler (§B.4).
type Sink struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// New connects to Postgres, ensures the audit table exists, and
// returns a Sink. Returns (nil, nil) when cfg is not Enabled so
// callers can skip wiring a subscriber entirely.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Sink, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse audit dsn: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create audit connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	log.Info("audit sink connected to PostgreSQL", slog.Int("max_conns", int(cfg.MaxConns)))
	return &Sink{pool: pool, log: log}, nil
}

// Close closes the connection pool.
func (s *Sink) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}

// Run drains events from in and writes each to Postgres until in is
// closed or ctx is cancelled, matching the shutdown.Fabric task
// contract so it can be wired with Go(name, fn).
func (s *Sink) Run(ctx context.Context, in <-chan reconciler.Event) error {
	if s == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			s.write(ctx, ev)
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Sink) write(ctx context.Context, ev reconciler.Event) {
	_, err := s.pool.Exec(ctx, insertEventSQL,
		eventKindString(ev.Kind), ev.PodUID, groupStateString(ev.Group), ev.GroupPath,
		ev.TotalContainers, ev.ReconciledContainers)
	if err != nil {
		s.log.Warn("audit sink write failed, dropping event",
			slog.String("pod_uid", ev.PodUID), slog.String("error", err.Error()))
	}
}

func eventKindString(k reconciler.EventKind) string {
	switch k {
	case reconciler.EventAddOrUpdate:
		return "add_or_update"
	case reconciler.EventRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

func groupStateString(g reconciler.GroupState) string {
	switch g {
	case reconciler.GroupExists:
		return "exists"
	case reconciler.GroupFailed:
		return "failed"
	default:
		return "unknown"
	}
}
