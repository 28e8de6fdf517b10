// Package redis backs the monitor's snapshot cache and per-pair instance
// lock with go-redis/v9. Every key lives under the "liqwatch:" namespace so
// a shared Redis can host other tenants without collisions.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/liqwatch/liqwatch/internal/domain"
)

const (
	keyNamespace = "liqwatch"
	clientName   = "liqwatch-monitor"

	dialTimeout = 5 * time.Second
	pingTimeout = 3 * time.Second
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps a go-redis Client. The snapshot cache and lock manager in
// this package share one Client and one connection pool.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection with a bounded ping. An
// unreachable server surfaces as ErrDataSourceUnavailable so callers can
// treat it like any other upstream outage.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:        cfg.Addr,
		ClientName:  clientName,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: dialTimeout,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: connect %s: %v: %w", cfg.Addr, err, domain.ErrDataSourceUnavailable)
	}

	return &Client{rdb: rdb}, nil
}

// Healthy reports whether the server still answers, bounded by the ping
// timeout regardless of the caller's context.
func (c *Client) Healthy(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %v: %w", err, domain.ErrDataSourceUnavailable)
	}
	return nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// key joins parts into a namespaced Redis key: "liqwatch:a:b:c".
func key(parts ...string) string {
	return keyNamespace + ":" + strings.Join(parts, ":")
}
