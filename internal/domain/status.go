package domain

import "time"

// BotStatusResponse summarises the engine for dashboards and the status
// endpoint.
type BotStatusResponse struct {
	Running         bool               `json:"running"`
	Enabled         bool               `json:"enabled"`
	Mode            string             `json:"mode"`
	Wallet          string             `json:"wallet,omitempty"`
	Balances        map[string]float64 `json:"balances"`
	BalanceErrors   map[string]string  `json:"balance_errors,omitempty"`
	TodayVolume     float64            `json:"today_volume"`
	TodayTradeCount int                `json:"today_trade_count"`
	LastTradeAt     *time.Time         `json:"last_trade_at,omitempty"`
	PairCount       int                `json:"pair_count"`
	EnabledPairs    int                `json:"enabled_pairs"`
	UptimeSeconds   int64              `json:"uptime_seconds"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

// TradeRequest is the input of ExecuteTrade. An empty PairID selects the
// default pair.
type TradeRequest struct {
	PairID    string
	Direction Direction
	AmountSol float64
	RequestID string
}

// TradeExecutionResponse is returned by ExecuteTrade.
type TradeExecutionResponse struct {
	Success   bool         `json:"success"`
	ErrorKind ErrorKind    `json:"error_kind,omitempty"`
	Message   string       `json:"message,omitempty"`
	Outcome   TradeOutcome `json:"outcome"`
	Duplicate bool         `json:"duplicate,omitempty"`
}

// TradingPairStatusResponse exposes a pair's configuration and counters along
// with its remaining daily capacity.
type TradingPairStatusResponse struct {
	ID                string     `json:"id"`
	InputSymbol       string     `json:"input_symbol"`
	InputMint         string     `json:"input_mint"`
	OutputSymbol      string     `json:"output_symbol"`
	OutputMint        string     `json:"output_mint"`
	Rank              int        `json:"rank"`
	Score             float64    `json:"score"`
	Enabled           bool       `json:"enabled"`
	Limits            RiskLimits `json:"limits"`
	DailyVolume       float64    `json:"daily_volume"`
	TradeCount        int        `json:"trade_count"`
	RemainingCapacity float64    `json:"remaining_capacity"`
	LastTradeAt       *time.Time `json:"last_trade_at,omitempty"`
}

// NewPairStatus builds the status view of a pair snapshot.
func NewPairStatus(p TradingPair) TradingPairStatusResponse {
	remaining := p.Limits.MaxDailyNotional - p.DailyUsed()
	if remaining < 0 {
		remaining = 0
	}
	return TradingPairStatusResponse{
		ID:                p.ID,
		InputSymbol:       p.Input.Symbol,
		InputMint:         p.Input.Mint,
		OutputSymbol:      p.Output.Symbol,
		OutputMint:        p.Output.Mint,
		Rank:              p.Rank,
		Score:             p.Score,
		Enabled:           p.Enabled,
		Limits:            p.Limits,
		DailyVolume:       p.DailyVolume,
		TradeCount:        p.TradeCount,
		RemainingCapacity: remaining,
		LastTradeAt:       p.LastTradeAt,
	}
}
