package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/registry"
)

// Notifier delivers operator notifications filtered by event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// MetricsRecorder is the subset of the Prometheus recorder used here.
type MetricsRecorder interface {
	RecordTrade(o domain.TradeOutcome, took time.Duration)
	RecordCascade(o domain.CascadeOutcome)
	SetDailyVolume(pairID string, volume float64)
}

// Notification event types.
const (
	EventTradeExecuted    = "trade_executed"
	EventTradeFailed      = "trade_failed"
	EventRiskRejected     = "risk_rejected"
	EventCascadeCompleted = "cascade_completed"
	EventCascadeAborted   = "cascade_aborted"
)

const persistTimeout = 5 * time.Second

// HistoryService is the sink for every trade and cascade outcome. It keeps a
// bounded in-memory history and fans outcomes out to the optional store,
// signal bus, notifier and metrics. Failures in any sink are logged and
// never affect trading.
type HistoryService struct {
	trades   *ring[domain.TradeOutcome]
	cascades *ring[domain.CascadeOutcome]
	pairs    *registry.Registry

	tradeStore   domain.TradeOutcomeStore
	cascadeStore domain.CascadeStore
	bus          domain.SignalBus
	notifier     Notifier
	metrics      MetricsRecorder

	logger *slog.Logger
	now    func() time.Time
}

// NewHistoryService creates a HistoryService keeping the last size outcomes
// of each kind in memory.
func NewHistoryService(size int, pairs *registry.Registry, logger *slog.Logger) *HistoryService {
	if size <= 0 {
		size = 200
	}
	return &HistoryService{
		trades:   newRing[domain.TradeOutcome](size),
		cascades: newRing[domain.CascadeOutcome](size),
		pairs:    pairs,
		logger:   logger.With(slog.String("component", "history_service")),
		now:      time.Now,
	}
}

// SetStores enables durable history.
func (s *HistoryService) SetStores(trades domain.TradeOutcomeStore, cascades domain.CascadeStore) {
	s.tradeStore = trades
	s.cascadeStore = cascades
}

// SetBus enables publishing outcomes on the signal bus.
func (s *HistoryService) SetBus(bus domain.SignalBus) { s.bus = bus }

// SetNotifier enables operator notifications.
func (s *HistoryService) SetNotifier(n Notifier) { s.notifier = n }

// SetMetrics enables Prometheus metrics.
func (s *HistoryService) SetMetrics(m MetricsRecorder) { s.metrics = m }

// RecordTrade stores and publishes a trade outcome.
func (s *HistoryService) RecordTrade(ctx context.Context, o domain.TradeOutcome) {
	s.trades.push(o)

	if s.metrics != nil {
		s.metrics.RecordTrade(o, s.now().Sub(o.ExecutedAt))
		if p, err := s.pairs.Get(o.PairID); err == nil {
			s.metrics.SetDailyVolume(p.ID, p.DailyVolume)
		}
	}

	// The caller's context may already be cancelled; the outcome still has
	// to reach the sinks.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if s.tradeStore != nil {
		if err := s.tradeStore.Insert(pctx, o); err != nil {
			s.logger.WarnContext(ctx, "history_service: persist trade failed",
				slog.String("trade_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(pctx, domain.ChannelTrade, domain.StreamTrades, "trade", o)
	if p, err := s.pairs.Get(o.PairID); err == nil && o.Success {
		s.publish(pctx, domain.ChannelPair, "", "pair", domain.NewPairStatus(p))
	}

	event, title := tradeEvent(o)
	s.notify(pctx, event, title, describeTrade(o))
}

// RecordCascade stores and publishes a cascade outcome.
func (s *HistoryService) RecordCascade(ctx context.Context, o domain.CascadeOutcome) {
	s.cascades.push(o)
	if s.metrics != nil {
		s.metrics.RecordCascade(o)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if s.cascadeStore != nil {
		if err := s.cascadeStore.Insert(pctx, o); err != nil {
			s.logger.WarnContext(ctx, "history_service: persist cascade failed",
				slog.String("cascade_id", o.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	s.publish(pctx, domain.ChannelCascade, domain.StreamCascades, "cascade", o)

	event, title := EventCascadeCompleted, "Cascade completed"
	if o.State == domain.CascadeAborted {
		event, title = EventCascadeAborted, "Cascade aborted"
	}
	s.notify(pctx, event, title, describeCascade(o))
}

// RecentTrades returns up to n trade outcomes, newest first.
func (s *HistoryService) RecentTrades(n int) []domain.TradeOutcome { return s.trades.recent(n) }

// RecentCascades returns up to n cascade outcomes, newest first.
func (s *HistoryService) RecentCascades(n int) []domain.CascadeOutcome {
	return s.cascades.recent(n)
}

// Cascade looks a cascade up in memory first, then in the store.
func (s *HistoryService) Cascade(ctx context.Context, id string) (domain.CascadeOutcome, error) {
	for _, o := range s.cascades.recent(0) {
		if o.ID == id {
			return o, nil
		}
	}
	if s.cascadeStore == nil {
		return domain.CascadeOutcome{}, fmt.Errorf("history_service: cascade %s: %w", id, domain.ErrNotFound)
	}
	o, err := s.cascadeStore.GetByID(ctx, id)
	if err != nil {
		return domain.CascadeOutcome{}, fmt.Errorf("history_service: cascade %s: %w", id, err)
	}
	return o, nil
}

// TradeHistory pages through persisted trade outcomes. Without a store it
// serves the in-memory history with the same filters as the store query.
func (s *HistoryService) TradeHistory(ctx context.Context, opts domain.ListOpts) ([]domain.TradeOutcome, error) {
	if s.tradeStore == nil {
		return pageTrades(s.trades.recent(0), opts), nil
	}
	out, err := s.tradeStore.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: list trades: %w", err)
	}
	return out, nil
}

// pageTrades filters newest-first outcomes by pair and inclusive time
// window, then applies offset and limit.
func pageTrades(all []domain.TradeOutcome, opts domain.ListOpts) []domain.TradeOutcome {
	out := make([]domain.TradeOutcome, 0, len(all))
	for _, o := range all {
		if opts.PairID != "" && o.PairID != opts.PairID {
			continue
		}
		if opts.Since != nil && o.ExecutedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && o.ExecutedAt.After(*opts.Until) {
			continue
		}
		out = append(out, o)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []domain.TradeOutcome{}
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

func (s *HistoryService) publish(ctx context.Context, channel, stream, kind string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"type": kind, "data": v})
	if err != nil {
		s.logger.WarnContext(ctx, "history_service: marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "history_service: publish event failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
	if stream == "" {
		return
	}
	if err := s.bus.StreamAppend(ctx, stream, payload); err != nil {
		s.logger.WarnContext(ctx, "history_service: stream append failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}

func (s *HistoryService) notify(ctx context.Context, event, title, msg string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, msg); err != nil {
		s.logger.WarnContext(ctx, "history_service: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func tradeEvent(o domain.TradeOutcome) (event, title string) {
	switch {
	case o.Success:
		return EventTradeExecuted, "Trade executed"
	case o.ErrorKind == domain.KindRiskRejected:
		return EventRiskRejected, "Trade rejected by risk checks"
	default:
		return EventTradeFailed, "Trade failed"
	}
}

func describeTrade(o domain.TradeOutcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "pair %s %s notional %.6f\n", o.PairID, o.Direction, o.Notional)
	if o.Success {
		fmt.Fprintf(&b, "in %.6f out %.6f impact %.4f%%\nsig %s", o.InputAmount, o.OutputAmount, o.PriceImpactPct, o.Signature)
		return b.String()
	}
	fmt.Fprintf(&b, "%s: %s", o.ErrorKind, o.Error)
	return b.String()
}

func describeCascade(o domain.CascadeOutcome) string {
	msg := fmt.Sprintf("%d steps (%d failed), %.6f -> %.6f, profit %.6f",
		len(o.Steps), o.Failed(), o.InitialAmount, o.FinalAmount, o.TotalProfit)
	if o.Error != "" {
		msg += "\n" + o.Error
	}
	return msg
}

// ring is a fixed-size, concurrency-safe history buffer.
type ring[T any] struct {
	mu   sync.Mutex
	buf  []T
	next int
	full bool
}

func newRing[T any](size int) *ring[T] {
	return &ring[T]{buf: make([]T, size)}
}

func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// recent returns up to n items, newest first. n <= 0 returns everything.
func (r *ring[T]) recent(n int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]T, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
