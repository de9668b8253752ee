// Package redis backs the engine's event bus, distributed locks, API rate
// limiting and status cache with go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// Namespace prefixes every key, channel and stream so several bot
	// deployments (mainnet, devnet) can share one server.
	Namespace string
}

// Client wraps a go-redis client and the deployment namespace.
type Client struct {
	rdb *redis.Client
	ns  string
}

// New connects and pings. The connection is closed again if the ping fails.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, ns: strings.Trim(cfg.Namespace, ":")}, nil
}

// Key joins parts with ':' under the client namespace:
// Key("lock", "autocascade") is "cascadebot:lock:autocascade".
func (c *Client) Key(parts ...string) string {
	k := strings.Join(parts, ":")
	if c.ns == "" {
		return k
	}
	return c.ns + ":" + k
}

// Ping backs the /api/health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
