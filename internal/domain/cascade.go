package domain

import "time"

// CascadeState tracks a cascade through its lifecycle.
type CascadeState string

const (
	CascadePlanning  CascadeState = "planning"
	CascadeRunning   CascadeState = "running"
	CascadeCompleted CascadeState = "completed"
	CascadeAborted   CascadeState = "aborted"
)

// CascadePlan describes a chained sequence of forward swaps. When PairIDs is
// empty every enabled pair is used in ranked order. MaxSteps of zero means
// the configured maximum depth. RequestID, when set, makes the run
// idempotent for a while.
type CascadePlan struct {
	InitialAmount float64  `json:"initial_amount"`
	PairIDs       []string `json:"pair_ids,omitempty"`
	MaxSteps      int      `json:"max_steps"`
	StopOnFailure bool     `json:"stop_on_failure"`
	RequestID     string   `json:"request_id,omitempty"`
}

// CascadeStepResult records one executed step. CarryIn is the notional that
// entered the step.
type CascadeStepResult struct {
	Step    int          `json:"step"`
	PairID  string       `json:"pair_id"`
	CarryIn float64      `json:"carry_in"`
	Outcome TradeOutcome `json:"outcome"`
}

// CascadeOutcome is the aggregate result of a cascade.
type CascadeOutcome struct {
	ID            string              `json:"id"`
	Success       bool                `json:"success"`
	State         CascadeState        `json:"state"`
	Steps         []CascadeStepResult `json:"steps"`
	InitialAmount float64             `json:"initial_amount"`
	FinalAmount   float64             `json:"final_amount"`
	TotalProfit   float64             `json:"total_profit"`
	StopOnFailure bool                `json:"stop_on_failure"`
	ErrorKind     ErrorKind           `json:"error_kind,omitempty"`
	Error         string              `json:"error,omitempty"`
	StartedAt     time.Time           `json:"started_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

// Failed reports how many steps did not succeed.
func (o CascadeOutcome) Failed() int {
	n := 0
	for _, s := range o.Steps {
		if !s.Outcome.Success {
			n++
		}
	}
	return n
}
