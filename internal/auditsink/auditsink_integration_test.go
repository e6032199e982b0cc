//go:build integration

package auditsink

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/unvariance/collector/internal/reconciler"
)

// TestSinkWritesEventsToRealPostgres spins up a throwaway Postgres
// container and verifies that events written through Run land in the
// audit table. Run with `go test -tags integration` against a host
// with a container runtime available.
func TestSinkWritesEventsToRealPostgres(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("collector_audit"),
		postgres.WithUsername("collector"),
		postgres.WithPassword("collector"),
		testcontainers.WithWaitStrategyAndDeadline(60*time.Second, postgres.DefaultWaitStrategy()),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	cfg := DefaultConfig()
	cfg.DSN = dsn
	sink, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("failed to create sink: %v", err)
	}
	defer sink.Close()

	events := make(chan reconciler.Event, 2)
	events <- reconciler.Event{Kind: reconciler.EventAddOrUpdate, PodUID: "u1", Group: reconciler.GroupExists, GroupPath: "/sys/fs/resctrl/pod_u1", TotalContainers: 1, ReconciledContainers: 1}
	close(events)

	if err := sink.Run(ctx, events); err != nil {
		t.Fatalf("unexpected error from Run: %v", err)
	}

	var count int
	row := sink.pool.QueryRow(ctx, "SELECT count(*) FROM pod_resctrl_events WHERE pod_uid = $1", "u1")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("failed to query audit table: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 audit row, got %d", count)
	}
}
