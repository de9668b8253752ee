package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/config"
	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/executor"
	"github.com/alanyoungcy/cascadebot/internal/registry"
	"github.com/alanyoungcy/cascadebot/internal/service"
)

// Engine is the trading core: the pair registry and the services built on
// it.
type Engine struct {
	Pairs   *registry.Registry
	History *service.HistoryService
	Bot     *service.BotService
}

// buildEngine assembles the registry, risk checks, executor, cascade runner
// and bot service on top of deps.
func buildEngine(cfg *config.Config, deps *Dependencies, logger *slog.Logger) (*Engine, error) {
	loc, err := time.LoadLocation(cfg.Trading.Timezone)
	if err != nil {
		return nil, fmt.Errorf("engine: timezone: %w", err)
	}

	pairs := registry.New(registry.Config{
		Defaults: riskLimits(cfg.Risk),
		Location: loc,
	})
	for _, pc := range pairConfigs(cfg.Pairs) {
		if err := pairs.Add(pc); err != nil {
			return nil, fmt.Errorf("engine: pair %s: %w", pc.ID, err)
		}
	}

	// Left nil without a wallet.
	var (
		balances domain.BalanceProvider
		txs      domain.TransactionExecutor
		wallet   string
	)
	if deps.Chain != nil {
		balances = deps.Chain
		txs = deps.Chain
		wallet = deps.Chain.Wallet()
	}

	history := service.NewHistoryService(cfg.Trading.HistorySize, pairs, logger)
	if deps.TradeStore != nil && deps.CascadeStore != nil {
		history.SetStores(deps.TradeStore, deps.CascadeStore)
	}
	if deps.SignalBus != nil {
		history.SetBus(deps.SignalBus)
	}
	if deps.Notifier != nil {
		history.SetNotifier(deps.Notifier)
	}
	if deps.Metrics != nil {
		history.SetMetrics(deps.Metrics)
	}

	risk := service.NewRiskService(balances, logger)
	exec := executor.NewExecutor(pairs, risk, deps.Quotes, txs, history,
		executor.Config{TradeTimeout: cfg.Trading.TradeTimeout.Duration}, logger)
	cascade := executor.NewCascade(exec, pairs, service.NewRanker(), history,
		executor.CascadeConfig{MaxDepth: cfg.Trading.MaxCascadeDepth}, logger)

	bot := service.NewBotService(pairs, exec, cascade, balances, history, service.BotConfig{
		Mode:          cfg.Mode,
		Wallet:        wallet,
		DefaultPairID: cfg.Trading.DefaultPair,
		Assets:        balanceAssets(cfg.Pairs),
		// Monitor mode never trades, whatever the config says.
		Enabled:   cfg.Trading.Enabled && cfg.Trades(),
		DedupTTL:  cfg.Trading.DedupTTL.Duration,
		StatusTTL: cfg.Trading.StatusTTL.Duration,
	}, logger)
	if deps.AuditStore != nil {
		bot.SetAudit(deps.AuditStore)
	}
	if deps.SignalBus != nil {
		bot.SetBus(deps.SignalBus)
	}
	if deps.StatusCache != nil {
		bot.SetStatusCache(deps.StatusCache)
	}

	return &Engine{Pairs: pairs, History: history, Bot: bot}, nil
}
