package domain

import (
	"fmt"
	"strings"
	"time"
)

// Direction selects which way a pair is traded.
type Direction string

const (
	// DirectionForward swaps the pair's input asset into its output asset.
	DirectionForward Direction = "forward"
	// DirectionReverse swaps the output asset back into the input asset.
	DirectionReverse Direction = "reverse"
)

// ParseDirection accepts "forward"/"reverse" and the aliases "buy"/"sell".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "buy", "":
		return DirectionForward, nil
	case "reverse", "sell":
		return DirectionReverse, nil
	default:
		return "", fmt.Errorf("%w: unknown direction %q", ErrInvalidInput, s)
	}
}

// TradeIntent is a request to trade Notional units of the pair's base asset.
type TradeIntent struct {
	PairID    string
	Direction Direction
	Notional  float64
}

// TradeOutcome is the immutable result of one execution attempt.
type TradeOutcome struct {
	ID             string    `json:"id"`
	PairID         string    `json:"pair_id"`
	Direction      Direction `json:"direction"`
	Notional       float64   `json:"notional"`
	Success        bool      `json:"success"`
	Signature      string    `json:"signature,omitempty"`
	InputAmount    float64   `json:"input_amount"`
	OutputAmount   float64   `json:"output_amount"`
	PriceImpactPct float64   `json:"price_impact_pct"`
	ErrorKind      ErrorKind `json:"error_kind,omitempty"`
	Error          string    `json:"error,omitempty"`
	Violations     []string  `json:"violations,omitempty"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// RiskCheckResult is the full diagnostic of one risk evaluation.
type RiskCheckResult struct {
	Pass              bool     `json:"pass"`
	Violations        []string `json:"violations"`
	DailyVolumeUsed   float64  `json:"daily_volume_used"`
	RemainingCapacity float64  `json:"remaining_capacity"`
}

// Violation messages produced by risk evaluation, in rule order.
const (
	ViolationNonPositive    = "non-positive amount"
	ViolationTradeCap       = "exceeds per-trade cap"
	ViolationDailyCap       = "exceeds daily cap"
	ViolationReserve        = "reserve below minimum"
	ViolationReserveUnknown = "reserve balance unavailable"
)

// ReserveBalance is a reading of the wallet balance used for the reserve
// rule. Known is false when the provider could not be read.
type ReserveBalance struct {
	Amount float64
	Known  bool
}
