package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
	"github.com/alanyoungcy/cascadebot/internal/registry"
)

// CascadeRunner runs cascade plans.
type CascadeRunner interface {
	Run(ctx context.Context, plan domain.CascadePlan) (domain.CascadeOutcome, error)
}

// BotConfig holds the BotService settings.
type BotConfig struct {
	Mode          string
	Wallet        string
	DefaultPairID string
	// Assets are the balances reported by GetStatus.
	Assets   []domain.Asset
	Enabled  bool
	DedupTTL time.Duration
	// StatusTTL controls how long a cached status stays valid; the
	// refresh loop runs at half of it.
	StatusTTL time.Duration
}

// BotService exposes the engine's operations to the transport layer. Every
// operation returns a structured result; only lookups return plain errors.
type BotService struct {
	pairs    *registry.Registry
	trades   executor.TradeRunner
	cascades CascadeRunner
	ranker   *Ranker
	balances domain.BalanceProvider
	history  *HistoryService

	audit       domain.AuditStore
	bus         domain.SignalBus
	statusCache domain.StatusCache

	tradeDedup   *executor.Dedup[domain.TradeExecutionResponse]
	cascadeDedup *executor.Dedup[domain.CascadeOutcome]

	enabled atomic.Bool
	running atomic.Bool
	started time.Time

	cfg    BotConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewBotService creates a BotService. balances may be nil when no wallet is
// configured.
func NewBotService(
	pairs *registry.Registry,
	trades executor.TradeRunner,
	cascades CascadeRunner,
	balances domain.BalanceProvider,
	history *HistoryService,
	cfg BotConfig,
	logger *slog.Logger,
) *BotService {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 10 * time.Minute
	}
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 10 * time.Second
	}
	s := &BotService{
		pairs:        pairs,
		trades:       trades,
		cascades:     cascades,
		ranker:       NewRanker(),
		balances:     balances,
		history:      history,
		tradeDedup:   executor.NewDedup[domain.TradeExecutionResponse](cfg.DedupTTL),
		cascadeDedup: executor.NewDedup[domain.CascadeOutcome](cfg.DedupTTL),
		started:      time.Now(),
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "bot_service")),
		now:          time.Now,
	}
	s.enabled.Store(cfg.Enabled)
	return s
}

// SetAudit enables the audit log for configuration changes.
func (s *BotService) SetAudit(a domain.AuditStore) { s.audit = a }

// SetBus enables publishing pair and status events.
func (s *BotService) SetBus(b domain.SignalBus) { s.bus = b }

// SetStatusCache enables caching of the computed status.
func (s *BotService) SetStatusCache(c domain.StatusCache) { s.statusCache = c }

// Run keeps the dedup tables bounded and refreshes the status cache until
// ctx is cancelled.
func (s *BotService) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)
	s.logger.InfoContext(ctx, "bot service started",
		slog.String("mode", s.cfg.Mode),
		slog.Bool("enabled", s.enabled.Load()),
		slog.Int("pairs", s.pairs.Len()),
	)
	defer s.logger.Info("bot service stopped")

	cleanup := time.NewTicker(time.Minute)
	defer cleanup.Stop()
	refresh := time.NewTicker(s.cfg.StatusTTL / 2)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cleanup.C:
			s.tradeDedup.Cleanup()
			s.cascadeDedup.Cleanup()
		case <-refresh.C:
			s.refreshCache(ctx)
		}
	}
}

func (s *BotService) refreshCache(ctx context.Context) {
	if s.statusCache == nil {
		return
	}
	status := s.GetStatus(ctx)
	if err := s.statusCache.SetStatus(ctx, status, s.cfg.StatusTTL); err != nil {
		s.logger.WarnContext(ctx, "bot_service: cache status failed", slog.String("error", err.Error()))
	}
	if err := s.statusCache.SetPairs(ctx, s.GetAllPairStatuses(), s.cfg.StatusTTL); err != nil {
		s.logger.WarnContext(ctx, "bot_service: cache pairs failed", slog.String("error", err.Error()))
	}
	s.publish(ctx, domain.ChannelStatus, "status", status)
}

// GetStatus reports the bot's state, wallet balances and today's activity.
func (s *BotService) GetStatus(ctx context.Context) domain.BotStatusResponse {
	now := s.now()
	totals := s.pairs.Totals()
	all := s.pairs.All()
	enabledPairs := 0
	for _, p := range all {
		if p.Enabled {
			enabledPairs++
		}
	}
	st := domain.BotStatusResponse{
		Running:         s.running.Load(),
		Enabled:         s.enabled.Load(),
		Mode:            s.cfg.Mode,
		Wallet:          s.cfg.Wallet,
		Balances:        make(map[string]float64, len(s.cfg.Assets)),
		TodayVolume:     totals.DailyVolume,
		TodayTradeCount: totals.TradeCount,
		LastTradeAt:     totals.LastTradeAt,
		PairCount:       len(all),
		EnabledPairs:    enabledPairs,
		UptimeSeconds:   int64(now.Sub(s.started).Seconds()),
		GeneratedAt:     now.UTC(),
	}
	if s.balances == nil {
		return st
	}
	for _, a := range s.cfg.Assets {
		bal, err := s.balances.Balance(ctx, a.Mint)
		if err != nil {
			if st.BalanceErrors == nil {
				st.BalanceErrors = make(map[string]string)
			}
			st.BalanceErrors[a.Symbol] = err.Error()
			continue
		}
		st.Balances[a.Symbol] = bal
	}
	return st
}

// CachedStatus returns the last cached status, computing a fresh one when
// the cache is unavailable or empty.
func (s *BotService) CachedStatus(ctx context.Context) domain.BotStatusResponse {
	if s.statusCache != nil {
		if st, err := s.statusCache.GetStatus(ctx); err == nil {
			return st
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "bot_service: read cached status failed", slog.String("error", err.Error()))
		}
	}
	return s.GetStatus(ctx)
}

// Enabled reports the global kill switch.
func (s *BotService) Enabled() bool { return s.enabled.Load() }

// SetBotEnabled flips the global kill switch.
func (s *BotService) SetBotEnabled(ctx context.Context, enabled bool) {
	prev := s.enabled.Swap(enabled)
	if prev == enabled {
		return
	}
	s.logger.WarnContext(ctx, "bot enabled changed", slog.Bool("enabled", enabled))
	s.auditLog(ctx, domain.AuditRecord{
		Event:  domain.AuditBotEnabled,
		Detail: map[string]any{"enabled": enabled},
	})
	s.publish(ctx, domain.ChannelStatus, "bot_enabled", map[string]bool{"enabled": enabled})
}

// ExecuteTrade runs a single trade. An empty PairID selects the configured
// default pair, falling back to the best-ranked enabled pair.
func (s *BotService) ExecuteTrade(ctx context.Context, req domain.TradeRequest) domain.TradeExecutionResponse {
	reject := func(err error) domain.TradeExecutionResponse {
		kind := domain.KindOf(err)
		return domain.TradeExecutionResponse{
			ErrorKind: kind,
			Message:   err.Error(),
			Outcome: domain.TradeOutcome{
				PairID:     req.PairID,
				Direction:  req.Direction,
				Notional:   req.AmountSol,
				ErrorKind:  kind,
				Error:      err.Error(),
				ExecutedAt: s.now().UTC(),
			},
		}
	}

	if !s.enabled.Load() {
		return reject(domain.ErrBotDisabled)
	}
	if math.IsNaN(req.AmountSol) || math.IsInf(req.AmountSol, 0) || req.AmountSol <= 0 {
		return reject(fmt.Errorf("%w: amount must be positive", domain.ErrInvalidInput))
	}
	if req.Direction == "" {
		req.Direction = domain.DirectionForward
	}
	if req.Direction != domain.DirectionForward && req.Direction != domain.DirectionReverse {
		return reject(fmt.Errorf("%w: unknown direction %q", domain.ErrInvalidInput, req.Direction))
	}
	if req.PairID == "" {
		id, err := s.defaultPair()
		if err != nil {
			return reject(err)
		}
		req.PairID = id
	}

	if req.RequestID != "" {
		prev, state := s.tradeDedup.Begin(req.RequestID)
		switch state {
		case executor.DedupDone:
			prev.Duplicate = true
			return prev
		case executor.DedupPending:
			return reject(fmt.Errorf("%w: request %q is already in progress", domain.ErrInvalidInput, req.RequestID))
		}
	}

	outcome := s.trades.Execute(ctx, domain.TradeIntent{
		PairID:    req.PairID,
		Direction: req.Direction,
		Notional:  req.AmountSol,
	})
	resp := domain.TradeExecutionResponse{
		Success:   outcome.Success,
		ErrorKind: outcome.ErrorKind,
		Message:   outcome.Error,
		Outcome:   outcome,
	}
	if req.RequestID != "" {
		s.tradeDedup.Finish(req.RequestID, resp)
	}
	return resp
}

func (s *BotService) defaultPair() (string, error) {
	if s.cfg.DefaultPairID != "" {
		return s.cfg.DefaultPairID, nil
	}
	ids := s.ranker.Rank(s.pairs.AllEnabled())
	if len(ids) == 0 {
		return "", fmt.Errorf("bot_service: no default pair: %w", domain.ErrNotFound)
	}
	return ids[0], nil
}

// ExecuteCascade runs a cascade. Plans that cannot start are reported as an
// outcome with no steps and the error kind set.
func (s *BotService) ExecuteCascade(ctx context.Context, plan domain.CascadePlan) domain.CascadeOutcome {
	reject := func(err error) domain.CascadeOutcome {
		return domain.CascadeOutcome{
			State:         domain.CascadePlanning,
			Steps:         []domain.CascadeStepResult{},
			InitialAmount: plan.InitialAmount,
			FinalAmount:   plan.InitialAmount,
			StopOnFailure: plan.StopOnFailure,
			ErrorKind:     domain.KindOf(err),
			Error:         err.Error(),
			StartedAt:     s.now().UTC(),
		}
	}

	if !s.enabled.Load() {
		return reject(domain.ErrBotDisabled)
	}
	if plan.RequestID != "" {
		prev, state := s.cascadeDedup.Begin(plan.RequestID)
		switch state {
		case executor.DedupDone:
			return prev
		case executor.DedupPending:
			return reject(fmt.Errorf("%w: request %q is already in progress", domain.ErrInvalidInput, plan.RequestID))
		}
	}

	out, err := s.cascades.Run(ctx, plan)
	if err != nil {
		if plan.RequestID != "" {
			s.cascadeDedup.Abandon(plan.RequestID)
		}
		s.logger.WarnContext(ctx, "cascade rejected", slog.String("error", err.Error()))
		return reject(err)
	}
	if plan.RequestID != "" {
		s.cascadeDedup.Finish(plan.RequestID, out)
	}
	pairs := make([]string, 0, len(out.Steps))
	for _, st := range out.Steps {
		pairs = append(pairs, st.PairID)
	}
	s.auditLog(ctx, domain.AuditRecord{
		Event:     domain.AuditCascadeRun,
		CascadeID: out.ID,
		Detail: map[string]any{
			"state":        string(out.State),
			"success":      out.Success,
			"pairs":        pairs,
			"total_profit": out.TotalProfit,
		},
	})
	return out
}

// GetAllPairStatuses returns every pair in cascade order.
func (s *BotService) GetAllPairStatuses() []domain.TradingPairStatusResponse {
	all := s.pairs.All()
	byID := make(map[string]domain.TradingPair, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	out := make([]domain.TradingPairStatusResponse, 0, len(all))
	for _, id := range s.ranker.Rank(all) {
		out = append(out, domain.NewPairStatus(byID[id]))
	}
	return out
}

// GetPairStatus returns one pair's status or domain.ErrNotFound.
func (s *BotService) GetPairStatus(id string) (domain.TradingPairStatusResponse, error) {
	p, err := s.pairs.Get(id)
	if err != nil {
		return domain.TradingPairStatusResponse{}, err
	}
	return domain.NewPairStatus(p), nil
}

// AddTradingPair registers a pair. It fails with domain.ErrDuplicateKey or
// domain.ErrInvalidInput.
func (s *BotService) AddTradingPair(ctx context.Context, pc domain.PairConfig) error {
	if err := s.pairs.Add(pc); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "pair added",
		slog.String("pair", pc.ID),
		slog.String("input", pc.Input.Symbol),
		slog.String("output", pc.Output.Symbol),
	)
	s.auditLog(ctx, domain.AuditRecord{
		Event:  domain.AuditPairAdded,
		PairID: pc.ID,
		Detail: map[string]any{
			"input":   pc.Input.Mint,
			"output":  pc.Output.Mint,
			"rank":    pc.Rank,
			"enabled": pc.Enabled,
		},
	})
	s.publishPair(ctx, pc.ID)
	return nil
}

// UpdateRank changes a pair's rank or fails with domain.ErrNotFound.
func (s *BotService) UpdateRank(ctx context.Context, id string, rank int) error {
	if err := s.pairs.SetRank(id, rank); err != nil {
		return err
	}
	s.auditLog(ctx, domain.AuditRecord{Event: domain.AuditPairRank, PairID: id, Detail: map[string]any{"rank": rank}})
	s.publishPair(ctx, id)
	return nil
}

// SetEnabled toggles a pair or fails with domain.ErrNotFound.
func (s *BotService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := s.pairs.SetEnabled(id, enabled); err != nil {
		return err
	}
	s.auditLog(ctx, domain.AuditRecord{Event: domain.AuditPairEnabled, PairID: id, Detail: map[string]any{"enabled": enabled}})
	s.publishPair(ctx, id)
	return nil
}

// UpdateScore records a pair's profitability score or fails with
// domain.ErrNotFound.
func (s *BotService) UpdateScore(ctx context.Context, id string, score float64) error {
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return fmt.Errorf("%w: score must be finite", domain.ErrInvalidInput)
	}
	if err := s.pairs.SetScore(id, score); err != nil {
		return err
	}
	s.auditLog(ctx, domain.AuditRecord{Event: domain.AuditPairScore, PairID: id, Detail: map[string]any{"score": score}})
	s.publishPair(ctx, id)
	return nil
}

// RecentTrades returns the last n trade outcomes, newest first.
func (s *BotService) RecentTrades(n int) []domain.TradeOutcome {
	return s.history.RecentTrades(n)
}

// RecentCascades returns the last n cascades, newest first.
func (s *BotService) RecentCascades(n int) []domain.CascadeOutcome {
	return s.history.RecentCascades(n)
}

func (s *BotService) auditLog(ctx context.Context, rec domain.AuditRecord) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.WarnContext(ctx, "bot_service: audit log failed",
			slog.String("event", string(rec.Event)),
			slog.String("error", err.Error()),
		)
	}
}

func (s *BotService) publishPair(ctx context.Context, id string) {
	if p, err := s.pairs.Get(id); err == nil {
		s.publish(ctx, domain.ChannelPair, "pair", domain.NewPairStatus(p))
	}
}

func (s *BotService) publish(ctx context.Context, channel, kind string, v any) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{"type": kind, "data": v})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "bot_service: publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}
