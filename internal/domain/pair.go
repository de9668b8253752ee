package domain

import "time"

// Asset identifies one side of a trading pair on chain.
type Asset struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Decimals int    `json:"decimals"`
}

// RiskLimits bounds what a single pair may trade. Notional values are in the
// pair's base (input) asset.
type RiskLimits struct {
	MaxTradeNotional  float64 `json:"max_trade_notional"`
	MaxDailyNotional  float64 `json:"max_daily_notional"`
	MaxSlippageBps    int     `json:"max_slippage_bps"`
	MinBalanceReserve float64 `json:"min_balance_reserve"`
}

// Merge returns l with every zero field taken from def.
func (l RiskLimits) Merge(def RiskLimits) RiskLimits {
	out := l
	if out.MaxTradeNotional == 0 {
		out.MaxTradeNotional = def.MaxTradeNotional
	}
	if out.MaxDailyNotional == 0 {
		out.MaxDailyNotional = def.MaxDailyNotional
	}
	if out.MaxSlippageBps == 0 {
		out.MaxSlippageBps = def.MaxSlippageBps
	}
	if out.MinBalanceReserve == 0 {
		out.MinBalanceReserve = def.MinBalanceReserve
	}
	return out
}

// TradingPair is a configured tradable relationship between two assets along
// with its running daily counters. Values handed out by the registry are
// snapshots; mutating them has no effect on registry state.
type TradingPair struct {
	ID          string     `json:"id"`
	Input       Asset      `json:"input"`
	Output      Asset      `json:"output"`
	Rank        int        `json:"rank"`
	Score       float64    `json:"score"`
	Enabled     bool       `json:"enabled"`
	Limits      RiskLimits `json:"limits"`
	DailyVolume float64    `json:"daily_volume"`
	TradeCount  int        `json:"trade_count"`
	LastTradeAt *time.Time `json:"last_trade_at,omitempty"`

	// Reserved is notional held by trades that passed risk checks and are
	// still in flight. It counts against the daily cap.
	Reserved float64 `json:"reserved"`
}

// DailyUsed is the notional counted against the daily cap.
func (p TradingPair) DailyUsed() float64 {
	return p.DailyVolume + p.Reserved
}

// PairConfig is the input to AddTradingPair.
type PairConfig struct {
	ID      string     `json:"id"`
	Input   Asset      `json:"input"`
	Output  Asset      `json:"output"`
	Rank    int        `json:"rank"`
	Score   float64    `json:"score"`
	Enabled bool       `json:"enabled"`
	Limits  RiskLimits `json:"limits"`
}

// PairTotals aggregates today's counters across all pairs.
type PairTotals struct {
	DailyVolume float64
	TradeCount  int
	LastTradeAt *time.Time
}
