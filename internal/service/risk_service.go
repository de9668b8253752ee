package service

import (
	"context"
	"log/slog"
	"math"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// RiskService gates trades against a pair's configured limits. It never
// returns an error: every problem, including an unreadable balance, is
// reported as a violation.
type RiskService struct {
	balances domain.BalanceProvider
	logger   *slog.Logger
}

// NewRiskService creates a RiskService. balances may be nil, in which case
// pairs that require a minimum reserve are always rejected.
func NewRiskService(balances domain.BalanceProvider, logger *slog.Logger) *RiskService {
	return &RiskService{
		balances: balances,
		logger:   logger.With(slog.String("component", "risk_service")),
	}
}

// ReadReserve fetches the wallet balance of the pair's input asset. The read
// is skipped when the pair has no reserve requirement.
func (s *RiskService) ReadReserve(ctx context.Context, pair domain.TradingPair) domain.ReserveBalance {
	if pair.Limits.MinBalanceReserve <= 0 {
		return domain.ReserveBalance{Known: true}
	}
	if s.balances == nil {
		return domain.ReserveBalance{}
	}
	bal, err := s.balances.Balance(ctx, pair.Input.Mint)
	if err != nil {
		s.logger.WarnContext(ctx, "risk_service: balance read failed",
			slog.String("pair", pair.ID),
			slog.String("mint", pair.Input.Mint),
			slog.String("error", err.Error()),
		)
		return domain.ReserveBalance{}
	}
	return domain.ReserveBalance{Amount: bal, Known: true}
}

// Check applies the risk rules in order and collects every violation:
//  1. non-positive amount
//  2. per-trade cap
//  3. daily cap, counting notional reserved by trades in flight
//  4. minimum reserve balance
//
// The result depends only on its arguments.
func (s *RiskService) Check(pair domain.TradingPair, notional float64, reserve domain.ReserveBalance) domain.RiskCheckResult {
	return check(pair, notional, reserve)
}

func check(pair domain.TradingPair, notional float64, reserve domain.ReserveBalance) domain.RiskCheckResult {
	l := pair.Limits
	used := pair.DailyUsed()
	res := domain.RiskCheckResult{
		Violations:        []string{},
		DailyVolumeUsed:   used,
		RemainingCapacity: math.Max(0, l.MaxDailyNotional-used),
	}

	if notional <= 0 || math.IsNaN(notional) {
		res.Violations = append(res.Violations, domain.ViolationNonPositive)
	}
	if notional > l.MaxTradeNotional {
		res.Violations = append(res.Violations, domain.ViolationTradeCap)
	}
	if used+notional > l.MaxDailyNotional {
		res.Violations = append(res.Violations, domain.ViolationDailyCap)
	}
	if l.MinBalanceReserve > 0 {
		switch {
		case !reserve.Known:
			res.Violations = append(res.Violations, domain.ViolationReserveUnknown)
		case reserve.Amount < l.MinBalanceReserve:
			res.Violations = append(res.Violations, domain.ViolationReserve)
		}
	}

	res.Pass = len(res.Violations) == 0
	return res
}

// Evaluate reads the reserve balance and checks notional against pair.
func (s *RiskService) Evaluate(ctx context.Context, pair domain.TradingPair, notional float64) domain.RiskCheckResult {
	res := s.Check(pair, notional, s.ReadReserve(ctx, pair))
	if !res.Pass {
		s.logger.DebugContext(ctx, "risk_service: evaluation failed",
			slog.String("pair", pair.ID),
			slog.Float64("notional", notional),
			slog.Int("violations", len(res.Violations)),
		)
	}
	return res
}
