// Package metrics wraps OpenTelemetry metrics setup for the collector and
// resctrl-plugin binaries, adapted from the teacher's utils/metrics-go
// package: a cached-instrument Creator exporting over OTLP/gRPC.
package metrics

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Config holds configuration for the metrics system.
type Config struct {
	Enabled          bool
	OTLPEndpoint     string
	ExportIntervalMS int
	Component        string
	Version          string
}

// Creator provides thread-safe metric recording with cached instruments.
type Creator struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	counters      sync.Map // map[string]metric.Int64Counter
	upDown        sync.Map // map[string]metric.Int64UpDownCounter
	histograms    sync.Map // map[string]metric.Float64Histogram
}

// New builds a Creator. When cfg.Enabled is false, it returns (nil, nil);
// every method on a nil *Creator is a safe no-op so call sites never need
// to branch on whether metrics are enabled.
func New(ctx context.Context, cfg Config) (*Creator, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.Component),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	interval := time.Duration(cfg.ExportIntervalMS) * time.Millisecond
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithResource(res),
	)

	return &Creator{
		meterProvider: provider,
		meter:         provider.Meter(cfg.Component),
	}, nil
}

// Counter increments a monotonic counter, creating and caching the
// instrument on first use.
func (c *Creator) Counter(ctx context.Context, name string, value int64, unit, description string, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	cached, ok := c.counters.Load(name)
	if !ok {
		inst, err := c.meter.Int64Counter(name, metric.WithUnit(unit), metric.WithDescription(description))
		if err != nil {
			return
		}
		cached, _ = c.counters.LoadOrStore(name, inst)
	}
	cached.(metric.Int64Counter).Add(ctx, value, metric.WithAttributes(attrs...))
}

// UpDownCounter adjusts a counter that may move in either direction.
func (c *Creator) UpDownCounter(ctx context.Context, name string, value int64, unit, description string, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	cached, ok := c.upDown.Load(name)
	if !ok {
		inst, err := c.meter.Int64UpDownCounter(name, metric.WithUnit(unit), metric.WithDescription(description))
		if err != nil {
			return
		}
		cached, _ = c.upDown.LoadOrStore(name, inst)
	}
	cached.(metric.Int64UpDownCounter).Add(ctx, value, metric.WithAttributes(attrs...))
}

// Histogram records a single observation.
func (c *Creator) Histogram(ctx context.Context, name string, value float64, unit, description string, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	cached, ok := c.histograms.Load(name)
	if !ok {
		inst, err := c.meter.Float64Histogram(name, metric.WithUnit(unit), metric.WithDescription(description))
		if err != nil {
			return
		}
		cached, _ = c.histograms.LoadOrStore(name, inst)
	}
	cached.(metric.Float64Histogram).Record(ctx, value, metric.WithAttributes(attrs...))
}

// Shutdown flushes and stops the meter provider. Safe to call on a nil
// Creator.
func (c *Creator) Shutdown(ctx context.Context) error {
	if c == nil || c.meterProvider == nil {
		return nil
	}
	return c.meterProvider.Shutdown(ctx)
}

// FlagPointers holds pointers populated by RegisterFlags, to be converted
// to Config after flag.Parse().
type FlagPointers struct {
	enable     *bool
	endpoint   *string
	intervalMS *int
}

// RegisterFlags registers metrics-related flags, mirroring the
// flag+env-fallback pattern used throughout this codebase.
func RegisterFlags(component string) *FlagPointers {
	return &FlagPointers{
		enable: flag.Bool("metrics-enable", getEnvBool("METRICS_OTEL_ENABLE", false),
			"Enable OpenTelemetry metrics export"),
		endpoint: flag.String("metrics-otlp-endpoint", getEnv("METRICS_OTLP_ENDPOINT", "localhost:4317"),
			"OTLP/gRPC endpoint to export metrics to"),
		intervalMS: flag.Int("metrics-export-interval-ms", getEnvInt("METRICS_EXPORT_INTERVAL_MS", 15000),
			"Metrics export interval in milliseconds"),
	}
}

// ToConfig converts flag pointers to Config. Must be called after flag.Parse().
func (f *FlagPointers) ToConfig(component, version string) Config {
	return Config{
		Enabled:          *f.enable,
		OTLPEndpoint:     *f.endpoint,
		ExportIntervalMS: *f.intervalMS,
		Component:        component,
		Version:          version,
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "TRUE"
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
