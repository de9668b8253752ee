package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

type memBus struct {
	mu    sync.Mutex
	subs  map[string]chan []byte
	ready chan struct{}
}

func newMemBus() *memBus {
	return &memBus{subs: make(map[string]chan []byte), ready: make(chan struct{})}
}

func (b *memBus) Publish(context.Context, string, []byte) error { return nil }

func (b *memBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 4)
	b.subs[channel] = ch
	if len(b.subs) == len(Channels) {
		close(b.ready)
	}
	return ch, nil
}

func (b *memBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) send(channel string, data []byte) {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	ch <- data
}

func TestHubRelaysSubscribedChannels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := newMemBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Status: func(context.Context) domain.BotStatusResponse {
			return domain.BotStatusResponse{Mode: "trade", Enabled: true}
		},
	})
	go hub.Run(ctx)
	<-bus.ready

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var initial struct {
		Type string                   `json:"type"`
		Data domain.BotStatusResponse `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, "status", initial.Type)
	assert.Equal(t, "trade", initial.Data.Mode)

	bus.send(domain.ChannelTrade, []byte(`{"type":"trade","data":{"pair_id":"SOL-USDC"}}`))
	msgType, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.JSONEq(t, `{"type":"trade","data":{"pair_id":"SOL-USDC"}}`, string(msg))

	// Narrow to cascades only; a later trade event must not arrive before
	// the cascade one.
	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelTrade}}))
	require.Eventually(t, func() bool { return !anySubscribed(hub, domain.ChannelTrade) }, 2*time.Second, 10*time.Millisecond)

	bus.send(domain.ChannelTrade, []byte(`{"type":"trade"}`))
	bus.send(domain.ChannelCascade, []byte(`{"type":"cascade"}`))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msg, &got))
	assert.Equal(t, "cascade", got["type"])
}

func anySubscribed(h *Hub, channel string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c.isSubscribed(channel) {
			return true
		}
	}
	return false
}

func TestWildcardSubscription(t *testing.T) {
	c := &client{subs: map[string]bool{"ch:*": true}}
	assert.True(t, c.isSubscribed(domain.ChannelTrade))
	assert.False(t, c.isSubscribed("other"))
}

func TestOriginAllowed(t *testing.T) {
	assert.True(t, originAllowed(nil, "https://any.example"))
	assert.True(t, originAllowed([]string{"https://dash.example"}, ""))
	assert.True(t, originAllowed([]string{"https://Dash.example"}, "https://dash.example"))
	assert.False(t, originAllowed([]string{"https://dash.example"}, "https://evil.example"))
}
