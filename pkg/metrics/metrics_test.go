package metrics

import (
	"context"
	"testing"
)

func TestNewDisabledReturnsNil(t *testing.T) {
	c, err := New(context.Background(), Config{Enabled: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Fatalf("expected nil Creator when disabled")
	}
}

func TestNilCreatorMethodsAreNoOps(t *testing.T) {
	var c *Creator

	c.Counter(context.Background(), "dropped_timeslots", 1, "1", "dropped timeslots")
	c.UpDownCounter(context.Background(), "inflight_pods", 1, "1", "inflight pods")
	c.Histogram(context.Background(), "flush_latency_ms", 12.5, "ms", "flush latency")

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown on nil Creator returned error: %v", err)
	}
}

func TestFlagToConfigRoundTrip(t *testing.T) {
	f := &FlagPointers{
		enable:     boolPtr(true),
		endpoint:   strPtr("collector:4317"),
		intervalMS: intPtr(5000),
	}
	cfg := f.ToConfig("collector", "v1.0.0")
	if !cfg.Enabled || cfg.OTLPEndpoint != "collector:4317" || cfg.ExportIntervalMS != 5000 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Component != "collector" || cfg.Version != "v1.0.0" {
		t.Fatalf("unexpected component/version: %+v", cfg)
	}
}

func boolPtr(b bool) *bool    { return &b }
func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
