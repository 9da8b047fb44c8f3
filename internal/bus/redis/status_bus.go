// Package redis publishes engine status snapshots over go-redis/v9.
//
// Each tick the engine writes the latest snapshot under a per-run key
// and fans it out on a pub/sub channel: late subscribers read the key,
// live dashboards follow the channel. Publishing is observability
// output only; callers log failures and carry on.
package redis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sigengine/internal/domain"
)

const (
	defaultChannel   = "sigengine:status"
	defaultKeyPrefix = "sigengine:status:"
	defaultKeyTTL    = 10 * time.Minute
)

// Compile-time interface check.
var _ domain.StatusPublisher = (*StatusBus)(nil)

// Config holds connection and publishing parameters for the status bus.
type Config struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool

	Channel   string        // pub/sub channel, defaults to "sigengine:status"
	KeyPrefix string        // latest-snapshot key prefix, defaults to "sigengine:status:"
	KeyTTL    time.Duration // latest-snapshot key TTL, defaults to 10m
}

// StatusBus owns its Redis connection; Close releases it.
type StatusBus struct {
	rdb     *redis.Client
	channel string
	prefix  string
	ttl     time.Duration
}

// New connects to Redis, pings it to verify connectivity, and returns
// the bus. It returns an error if the connection cannot be established.
func New(ctx context.Context, cfg Config) (*StatusBus, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	b := &StatusBus{
		rdb:     rdb,
		channel: cfg.Channel,
		prefix:  cfg.KeyPrefix,
		ttl:     cfg.KeyTTL,
	}
	if b.channel == "" {
		b.channel = defaultChannel
	}
	if b.prefix == "" {
		b.prefix = defaultKeyPrefix
	}
	if b.ttl <= 0 {
		b.ttl = defaultKeyTTL
	}
	return b, nil
}

// Publish stores the snapshot under the per-run key with TTL and then
// broadcasts it on the channel.
func (b *StatusBus) Publish(ctx context.Context, snap domain.StatusSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot: %w", err)
	}

	key := b.prefix + snap.RunID
	if err := b.rdb.Set(ctx, key, payload, b.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", b.channel, err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *StatusBus) Close() error {
	return b.rdb.Close()
}
