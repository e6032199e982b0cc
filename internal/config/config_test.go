package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestGetEnvFallback(t *testing.T) {
	if v := getEnv("COLLECTOR_TEST_UNSET", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %q", v)
	}
	t.Setenv("COLLECTOR_TEST_SET", "value")
	if v := getEnv("COLLECTOR_TEST_SET", "fallback"); v != "value" {
		t.Fatalf("expected value, got %q", v)
	}
}

func TestGetEnvIntInvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("COLLECTOR_TEST_INT", "not-a-number")
	if v := getEnvInt("COLLECTOR_TEST_INT", 42); v != 42 {
		t.Fatalf("expected default 42, got %d", v)
	}
}

func TestGetEnvBoolParses(t *testing.T) {
	t.Setenv("COLLECTOR_TEST_BOOL", "true")
	if v := getEnvBool("COLLECTOR_TEST_BOOL", false); !v {
		t.Fatal("expected true")
	}
}

func TestDefaultCollectorConfigMatchesSpec(t *testing.T) {
	cfg := DefaultCollectorConfig()
	if cfg.StorageType != "local" {
		t.Fatalf("expected local default storage type, got %q", cfg.StorageType)
	}
	if cfg.ParquetBufferSize != 100*1024*1024 {
		t.Fatalf("unexpected buffer size default: %d", cfg.ParquetBufferSize)
	}
	if cfg.MaxRowGroupSize != 1<<20 {
		t.Fatalf("unexpected row group size default: %d", cfg.MaxRowGroupSize)
	}
}

func TestLoadYAMLOverlayEmptyPathIsNoop(t *testing.T) {
	cfg, err := LoadYAMLOverlay("", DefaultCollectorConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != DefaultCollectorConfig() {
		t.Fatal("expected unchanged config")
	}
}

func TestLoadYAMLOverlayAppliesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collector.yaml")
	if err := os.WriteFile(path, []byte("storageType: s3\nprefix: custom-\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := LoadYAMLOverlay(path, DefaultCollectorConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageType != "s3" || cfg.Prefix != "custom-" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if cfg.MaxRowGroupSize != 1<<20 {
		t.Fatalf("overlay should preserve untouched defaults, got %d", cfg.MaxRowGroupSize)
	}
}

func TestDefaultPluginConfigMatchesSpec(t *testing.T) {
	cfg := DefaultPluginConfig()
	if cfg.GroupPrefix != "pod_" {
		t.Fatalf("unexpected group prefix: %q", cfg.GroupPrefix)
	}
	if !cfg.CleanupOnStart || cfg.MaxReconcilePasses != 10 || cfg.AutoMount {
		t.Fatalf("unexpected plugin defaults: %+v", cfg)
	}
}

func TestParseCollectorFlagsOverridesDefaults(t *testing.T) {
	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	cfg, err := ParseCollectorFlags(fs, []string{"--storage-type", "s3", "-v", "--duration", "30"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageType != "s3" || !cfg.Verbose || cfg.DurationSecs != 30 {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.Prefix != DefaultCollectorConfig().Prefix {
		t.Fatalf("unset flags should keep defaults, got prefix %q", cfg.Prefix)
	}
}

func TestParseCollectorFlagsYAMLOverlayThenFlagWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "collector.yaml")
	if err := os.WriteFile(path, []byte("storageType: s3\nprefix: from-yaml-\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fs := flag.NewFlagSet("collector", flag.ContinueOnError)
	cfg, err := ParseCollectorFlags(fs, []string{"--config", path, "--prefix", "from-flag-"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StorageType != "s3" {
		t.Fatalf("expected YAML overlay to set storage type, got %q", cfg.StorageType)
	}
	if cfg.Prefix != "from-flag-" {
		t.Fatalf("expected flag to win over YAML overlay, got %q", cfg.Prefix)
	}
}

func TestParsePluginFlagsOverridesDefaults(t *testing.T) {
	fs := flag.NewFlagSet("resctrl-plugin", flag.ContinueOnError)
	cfg, err := ParsePluginFlags(fs, []string{"--group-prefix", "custom_", "--auto-mount", "--cleanup-on-start=false"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GroupPrefix != "custom_" || !cfg.AutoMount || cfg.CleanupOnStart {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if cfg.MaxReconcilePasses != DefaultPluginConfig().MaxReconcilePasses {
		t.Fatalf("unset flags should keep defaults, got %d", cfg.MaxReconcilePasses)
	}
}
