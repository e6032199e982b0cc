// Package config loads CLI configuration for the collector and
// resctrl-plugin binaries: flags with environment-variable fallbacks
// (the teacher's listener_args.go pattern), plus an optional YAML
// overlay applied before flags are parsed so operators can ship a
// single config file in place of a long flag list.
package config

import (
	"flag"
	"os"
	"strconv"

	"sigs.k8s.io/yaml"
)

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvInt64(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// CollectorConfig mirrors §6's CLI contract for cmd/collector.
type CollectorConfig struct {
	Verbose           bool   `json:"verbose,omitempty"`
	DurationSecs      int    `json:"durationSecs,omitempty"`
	StorageType       string `json:"storageType,omitempty"`
	Prefix            string `json:"prefix,omitempty"`
	ParquetBufferSize int64  `json:"parquetBufferSize,omitempty"`
	ParquetFileSize   int64  `json:"parquetFileSize,omitempty"`
	MaxRowGroupSize   int    `json:"maxRowGroupSize,omitempty"`
	StorageQuota      int64  `json:"storageQuota,omitempty"`
	UploadBytesPerSec int    `json:"uploadBytesPerSec,omitempty"`
	LocalStorageDir   string `json:"localStorageDir,omitempty"`
}

// DefaultCollectorConfig mirrors the original collector main.rs defaults.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		StorageType:       "local",
		Prefix:            "unvariance-metrics-",
		ParquetBufferSize: 100 * 1024 * 1024,
		ParquetFileSize:   1024 * 1024 * 1024,
		MaxRowGroupSize:   1 << 20,
		LocalStorageDir:   "./data",
	}
}

// LoadYAMLOverlay reads path (if non-empty) and unmarshals it onto cfg,
// returning the merged result. Intended to run before flag.Parse() so
// flags still take precedence over file-provided defaults.
func LoadYAMLOverlay[T any](path string, cfg T) (T, error) {
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// PluginConfig mirrors the resctrl-plugin's CLI contract (group prefix,
// cleanup-on-start, reconcile bound, auto-mount — §4.8's
// ResctrlPluginConfig, surfaced as flags).
type PluginConfig struct {
	GroupPrefix        string `json:"groupPrefix,omitempty"`
	CleanupOnStart     bool   `json:"cleanupOnStart,omitempty"`
	MaxReconcilePasses int    `json:"maxReconcilePasses,omitempty"`
	AutoMount          bool   `json:"autoMount,omitempty"`
	EventChannelCap    int    `json:"eventChannelCap,omitempty"`
	SocketPath         string `json:"socketPath,omitempty"`
}

// DefaultPluginConfig mirrors the Rust skeleton's ResctrlPluginConfig defaults.
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{
		GroupPrefix:        "pod_",
		CleanupOnStart:     true,
		MaxReconcilePasses: 10,
		AutoMount:          false,
		EventChannelCap:    128,
		SocketPath:         "/var/run/nri/nri.sock",
	}
}

// ParseCollectorFlags registers cmd/collector's CLI contract (§6) on fs
// using the teacher's flag+env-fallback idiom, applies an optional YAML
// overlay named by --config/COLLECTOR_CONFIG first so flags still win,
// then parses args and returns the resolved config.
func ParseCollectorFlags(fs *flag.FlagSet, args []string) (CollectorConfig, error) {
	def := DefaultCollectorConfig()

	configPath := fs.String("config", getEnv("COLLECTOR_CONFIG", ""),
		"Optional path to a YAML config file applied before flags.")
	// A first pass just to resolve --config ahead of registering the
	// rest of the flags, so YAML-provided defaults show up in -h output.
	probe := flag.NewFlagSet(fs.Name(), flag.ContinueOnError)
	probe.SetOutput(os.Stderr)
	probeConfigPath := probe.String("config", getEnv("COLLECTOR_CONFIG", ""), "")
	probe.Usage = func() {}
	_ = probe.Parse(args)

	if *probeConfigPath != "" {
		overlaid, err := LoadYAMLOverlay(*probeConfigPath, def)
		if err != nil {
			return def, err
		}
		def = overlaid
	}

	verbose := fs.Bool("verbose", getEnvBool("COLLECTOR_VERBOSE", def.Verbose), "Enable verbose logging (shorthand -v).")
	fs.BoolVar(verbose, "v", *verbose, "Enable verbose logging (shorthand for --verbose).")
	duration := fs.Int("duration", getEnvInt("COLLECTOR_DURATION_SECS", def.DurationSecs),
		"Run for this many seconds before exiting (0 means run until signalled, shorthand -d).")
	fs.IntVar(duration, "d", *duration, "Shorthand for --duration.")
	storageType := fs.String("storage-type", getEnv("COLLECTOR_STORAGE_TYPE", def.StorageType), "Object store backend: local or s3.")
	prefix := fs.String("prefix", getEnv("COLLECTOR_PREFIX", def.Prefix), "Object key prefix for rotated Parquet files.")
	bufSize := fs.Int64("parquet-buffer-size", getEnvInt64("COLLECTOR_PARQUET_BUFFER_SIZE", def.ParquetBufferSize), "In-memory row buffer size in bytes before a flush.")
	fileSize := fs.Int64("parquet-file-size", getEnvInt64("COLLECTOR_PARQUET_FILE_SIZE", def.ParquetFileSize), "Maximum Parquet object size in bytes before rotation.")
	rowGroup := fs.Int("max-row-group-size", getEnvInt("COLLECTOR_MAX_ROW_GROUP_SIZE", def.MaxRowGroupSize), "Maximum rows per Parquet row group.")
	quota := fs.Int64("storage-quota", getEnvInt64("COLLECTOR_STORAGE_QUOTA", def.StorageQuota), "Total bytes the writer may upload before it stops accepting new objects (0 means unlimited).")
	uploadRate := fs.Int("upload-bytes-per-sec", getEnvInt("COLLECTOR_UPLOAD_BYTES_PER_SEC", def.UploadBytesPerSec), "Upload bandwidth cap in bytes/sec for the object store client (0 means unlimited).")
	localDir := fs.String("local-storage-dir", getEnv("COLLECTOR_LOCAL_STORAGE_DIR", def.LocalStorageDir), "Directory used by the local object store backend.")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	_ = configPath // parity with probe above; kept registered so -h documents it
	return CollectorConfig{
		Verbose:           *verbose,
		DurationSecs:      *duration,
		StorageType:       *storageType,
		Prefix:            *prefix,
		ParquetBufferSize: *bufSize,
		ParquetFileSize:   *fileSize,
		MaxRowGroupSize:   *rowGroup,
		StorageQuota:      *quota,
		UploadBytesPerSec: *uploadRate,
		LocalStorageDir:   *localDir,
	}, nil
}

// ParsePluginFlags registers the resctrl-plugin's CLI contract on fs.
func ParsePluginFlags(fs *flag.FlagSet, args []string) (PluginConfig, error) {
	def := DefaultPluginConfig()

	probe := flag.NewFlagSet(fs.Name(), flag.ContinueOnError)
	probe.SetOutput(os.Stderr)
	probeConfigPath := probe.String("config", getEnv("RESCTRL_PLUGIN_CONFIG", ""), "")
	probe.Usage = func() {}
	_ = probe.Parse(args)

	if *probeConfigPath != "" {
		overlaid, err := LoadYAMLOverlay(*probeConfigPath, def)
		if err != nil {
			return def, err
		}
		def = overlaid
	}

	fs.String("config", getEnv("RESCTRL_PLUGIN_CONFIG", ""), "Optional path to a YAML config file applied before flags.")
	groupPrefix := fs.String("group-prefix", getEnv("RESCTRL_GROUP_PREFIX", def.GroupPrefix), "Prefix for resctrl groups this plugin owns.")
	cleanup := fs.Bool("cleanup-on-start", getEnvBool("RESCTRL_CLEANUP_ON_START", def.CleanupOnStart), "Remove stale prefix-owned groups at startup.")
	maxPasses := fs.Int("max-reconcile-passes", getEnvInt("RESCTRL_MAX_RECONCILE_PASSES", def.MaxReconcilePasses), "Bound on reconcile_group assign-passes.")
	autoMount := fs.Bool("auto-mount", getEnvBool("RESCTRL_AUTO_MOUNT", def.AutoMount), "Mount resctrl automatically if not already mounted.")
	eventCap := fs.Int("event-channel-capacity", getEnvInt("RESCTRL_EVENT_CHANNEL_CAPACITY", def.EventChannelCap), "Buffer size for the reconciler's event channel.")
	socketPath := fs.String("nri-socket", getEnv("RESCTRL_NRI_SOCKET", def.SocketPath), "Path to the NRI plugin registration socket.")

	if err := fs.Parse(args); err != nil {
		return def, err
	}

	return PluginConfig{
		GroupPrefix:        *groupPrefix,
		CleanupOnStart:     *cleanup,
		MaxReconcilePasses: *maxPasses,
		AutoMount:          *autoMount,
		EventChannelCap:    *eventCap,
		SocketPath:         *socketPath,
	}, nil
}
