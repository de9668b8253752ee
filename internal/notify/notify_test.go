package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	name string
	err  error
	msgs []string
}

func (r *recordingSender) Send(_ context.Context, title, message string) error {
	r.msgs = append(r.msgs, title+"|"+message)
	return r.err
}

func (r *recordingSender) Name() string { return r.name }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"trade_failed", " cascade_aborted "}, 0, quietLogger())

	require.NoError(t, n.Notify(context.Background(), "trade_executed", "ok", "x"))
	require.NoError(t, n.Notify(context.Background(), "cascade_aborted", "aborted", "y"))
	assert.Equal(t, []string{"aborted|y"}, s.msgs)

	require.NoError(t, n.NotifyAll(context.Background(), "startup", "z"))
	assert.Len(t, s.msgs, 2)
}

func TestNotifierCooldownSuppresses(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, nil, time.Minute, quietLogger())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, n.Notify(ctx, "trade_failed", "fail", "boom"))
	}
	require.NoError(t, n.Notify(ctx, "risk_rejected", "risk", "cap"))
	assert.Len(t, s.msgs, 2)

	now = now.Add(2 * time.Minute)
	require.NoError(t, n.Notify(ctx, "trade_failed", "fail", "boom"))
	require.Len(t, s.msgs, 3)
	assert.Contains(t, s.msgs[2], "3 similar trade_failed alerts suppressed")
}

func TestNotifierJoinsSenderErrors(t *testing.T) {
	bad := &recordingSender{name: "bad", err: errors.New("down")}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, 0, quietLogger())

	err := n.Notify(context.Background(), "e", "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, good.msgs, 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.baseURL = srv.URL
	require.NoError(t, s.Send(context.Background(), "Trade executed", "SOL-USDC 1.5"))
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.True(t, strings.HasPrefix(got["text"].(string), "*Trade executed*"))
}

func TestDiscordSenderTruncatesAndReportsStatus(t *testing.T) {
	var content string
	status := http.StatusNoContent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		content, _ = body["content"].(string)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	require.NoError(t, d.Send(context.Background(), "t", strings.Repeat("x", 5000)))
	assert.Len(t, content, discordMaxContent)

	status = http.StatusTooManyRequests
	err := d.Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
