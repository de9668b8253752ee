package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// StatusCache holds the last computed bot status so read-only instances can
// serve it without touching the chain.
type StatusCache interface {
	SetStatus(ctx context.Context, status BotStatusResponse, ttl time.Duration) error
	GetStatus(ctx context.Context) (BotStatusResponse, error)
	SetPairs(ctx context.Context, pairs []TradingPairStatusResponse, ttl time.Duration) error
	GetPairs(ctx context.Context) ([]TradingPairStatusResponse, error)
}

// Pub/sub channels used by the engine.
const (
	ChannelTrade   = "ch:trade"
	ChannelCascade = "ch:cascade"
	ChannelPair    = "ch:pair"
	ChannelStatus  = "ch:status"

	StreamTrades   = "stream:trades"
	StreamCascades = "stream:cascades"
)
