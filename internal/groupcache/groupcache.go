// Package groupcache optionally backs C6's "pod_uid already has a
// group" check with Redis (§B.5), so a plugin restart on the same node
// does not need to re-walk /sys/fs/resctrl to rediscover which pods
// already converged. Purely an optimization: a cache miss or Redis
// outage falls back to the authoritative filesystem read in §4.6 and
// is never treated as an error. Grounded on the teacher's
// utils/redis.RedisClient connection-setup pattern.
package groupcache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration, mirroring the teacher's
// RedisConfig shape.
type Config struct {
	Host       string
	Port       int
	Password   string
	DB         int
	TLSEnabled bool
	KeyPrefix  string
	TTL        time.Duration
}

// DefaultConfig disables the cache (empty Host) until configured.
func DefaultConfig() Config {
	return Config{
		Port:      6379,
		KeyPrefix: "collector:resctrl:group:",
		TTL:       24 * time.Hour,
	}
}

// Enabled reports whether a Redis host was configured.
func (c Config) Enabled() bool { return c.Host != "" }

// Cache caches pod_uid -> resctrl group path assignments in Redis.
// All methods degrade to (zero value, false/nil) on any Redis error:
// callers must treat a Cache miss exactly like a cold cache.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    *slog.Logger
}

// New connects to Redis and verifies reachability with Ping. Returns
// (nil, nil) when cfg is not Enabled so callers can skip wiring a
// cache lookup entirely.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*Cache, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}

	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	log.Info("group cache connected to Redis", slog.String("addr", opts.Addr), slog.Int("db", cfg.DB))
	return &Cache{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL, log: log}, nil
}

// Close closes the underlying Redis client.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func (c *Cache) key(podUID string) string { return c.prefix + podUID }

// GroupPath returns the cached group path for podUID. The bool is
// false for both "not cached" and "Redis unreachable" — both mean
// "fall back to the filesystem" to the caller.
func (c *Cache) GroupPath(ctx context.Context, podUID string) (string, bool) {
	if c == nil {
		return "", false
	}
	val, err := c.client.Get(ctx, c.key(podUID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.log != nil {
			c.log.Warn("group cache read failed, falling back to filesystem",
				slog.String("pod_uid", podUID), slog.String("error", err.Error()))
		}
		return "", false
	}
	return val, true
}

// SetGroupPath records podUID's group path. Write failures are logged
// and ignored: the cache is disposable.
func (c *Cache) SetGroupPath(ctx context.Context, podUID, groupPath string) {
	if c == nil {
		return
	}
	if err := c.client.Set(ctx, c.key(podUID), groupPath, c.ttl).Err(); err != nil && c.log != nil {
		c.log.Warn("group cache write failed", slog.String("pod_uid", podUID), slog.String("error", err.Error()))
	}
}

// Forget removes podUID's cached entry, e.g. on pod removal.
func (c *Cache) Forget(ctx context.Context, podUID string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, c.key(podUID)).Err(); err != nil && c.log != nil {
		c.log.Warn("group cache delete failed", slog.String("pod_uid", podUID), slog.String("error", err.Error()))
	}
}
