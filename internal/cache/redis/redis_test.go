package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// testClient connects to CASCADEBOT_TEST_REDIS_ADDR, skipping when unset.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("CASCADEBOT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CASCADEBOT_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, DB: 15, Namespace: "cascadebot-test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManagerExclusive(t *testing.T) {
	lm := NewLockManager(testClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, key, time.Minute)
	assert.True(t, errors.Is(err, domain.ErrLockHeld))

	unlock()
	unlock()

	again, err := lm.Acquire(ctx, key, time.Minute)
	require.NoError(t, err)
	again()
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(testClient(t))
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// Moving the clock past the window frees the slots.
	rl.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	ok, err = rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusStreamAndPubSub(t *testing.T) {
	bus := NewSignalBus(testClient(t))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream := "test:stream:" + uuid.NewString()
	require.NoError(t, bus.StreamAppend(ctx, stream, []byte("a")))
	require.NoError(t, bus.StreamAppend(ctx, stream, []byte("b")))
	msgs, err := bus.StreamRead(ctx, stream, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("b"), msgs[1].Payload)

	empty, err := bus.StreamRead(ctx, stream, msgs[1].ID, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	channel := "test:ch:" + uuid.NewString()
	sub, err := bus.Subscribe(ctx, channel)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, channel, []byte("hello")))
	select {
	case got := <-sub:
		assert.Equal(t, []byte("hello"), got)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestStatusCacheRoundTrip(t *testing.T) {
	sc := NewStatusCache(testClient(t))
	ctx := context.Background()

	require.NoError(t, sc.SetStatus(ctx, domain.BotStatusResponse{Running: true, PairCount: 3}, time.Minute))
	st, err := sc.GetStatus(ctx)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, 3, st.PairCount)

	require.NoError(t, sc.rdb.Del(ctx, sc.key("status", pairsKey)).Err())
	_, err = sc.GetPairs(ctx)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestClientKeyNamespace(t *testing.T) {
	c := &Client{ns: "cascadebot"}
	assert.Equal(t, "cascadebot:lock:autocascade", c.Key("lock", "autocascade"))
	assert.Equal(t, "cascadebot:ch:trade", c.Key(domain.ChannelTrade))

	bare := &Client{}
	assert.Equal(t, "status:bot", bare.Key("status", "bot"))
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:*"))
	assert.False(t, hasPattern(domain.ChannelTrade))
}
