package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

const (
	statusKey = "bot"
	pairsKey  = "pairs"
)

// StatusCache implements domain.StatusCache with JSON string values.
//
// Key schema, under the client namespace:
//
//	status:bot   - BotStatusResponse JSON
//	status:pairs - []TradingPairStatusResponse JSON
type StatusCache struct {
	rdb *redis.Client
	key func(parts ...string) string
}

// NewStatusCache creates a StatusCache backed by the given Client.
func NewStatusCache(c *Client) *StatusCache {
	return &StatusCache{rdb: c.rdb, key: c.Key}
}

// SetStatus stores the bot status for ttl.
func (sc *StatusCache) SetStatus(ctx context.Context, status domain.BotStatusResponse, ttl time.Duration) error {
	return sc.set(ctx, statusKey, status, ttl)
}

// GetStatus returns the cached bot status or domain.ErrNotFound.
func (sc *StatusCache) GetStatus(ctx context.Context) (domain.BotStatusResponse, error) {
	var st domain.BotStatusResponse
	err := sc.get(ctx, statusKey, &st)
	return st, err
}

// SetPairs stores the pair statuses for ttl.
func (sc *StatusCache) SetPairs(ctx context.Context, pairs []domain.TradingPairStatusResponse, ttl time.Duration) error {
	return sc.set(ctx, pairsKey, pairs, ttl)
}

// GetPairs returns the cached pair statuses or domain.ErrNotFound.
func (sc *StatusCache) GetPairs(ctx context.Context) ([]domain.TradingPairStatusResponse, error) {
	var pairs []domain.TradingPairStatusResponse
	err := sc.get(ctx, pairsKey, &pairs)
	return pairs, err
}

func (sc *StatusCache) set(ctx context.Context, name string, v any, ttl time.Duration) error {
	key := sc.key("status", name)
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	if err := sc.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (sc *StatusCache) get(ctx context.Context, name string, v any) error {
	key := sc.key("status", name)
	data, err := sc.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("redis: unmarshal %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.StatusCache = (*StatusCache)(nil)
