package groupcache

import (
	"context"
	"testing"
	"time"
)

func TestConfigEnabled(t *testing.T) {
	if DefaultConfig().Enabled() {
		t.Fatal("default config (no host) must be disabled")
	}
	cfg := DefaultConfig()
	cfg.Host = "localhost"
	if !cfg.Enabled() {
		t.Fatal("config with a host must be enabled")
	}
}

func TestNewDisabledReturnsNilCache(t *testing.T) {
	cache, err := New(context.Background(), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cache != nil {
		t.Fatal("expected nil cache when no host is configured")
	}
}

func TestNewUnreachableHostErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1 // nothing listens here

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := New(ctx, cfg, nil); err == nil {
		t.Fatal("expected an error connecting to an unreachable redis host")
	}
}

func TestNilCacheMethodsAreNoOps(t *testing.T) {
	var cache *Cache
	if _, ok := cache.GroupPath(context.Background(), "u1"); ok {
		t.Fatal("nil cache must report a miss")
	}
	cache.SetGroupPath(context.Background(), "u1", "/sys/fs/resctrl/pod_u1")
	cache.Forget(context.Background(), "u1")
	if err := cache.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestKeyPrefixing(t *testing.T) {
	c := &Cache{prefix: "collector:resctrl:group:"}
	if got := c.key("abc"); got != "collector:resctrl:group:abc" {
		t.Fatalf("unexpected key: %q", got)
	}
}
