package domain

import (
	"context"
	"errors"
	"fmt"
)

// SwapMode selects which side of a quote is held fixed.
type SwapMode string

const (
	SwapModeExactIn  SwapMode = "ExactIn"
	SwapModeExactOut SwapMode = "ExactOut"
)

// QuoteRequest asks the aggregator to price a swap. Amount is in UI units of
// the input asset for ExactIn and of the output asset for ExactOut.
type QuoteRequest struct {
	Input       Asset
	Output      Asset
	Amount      float64
	Mode        SwapMode
	SlippageBps int
}

// Quote is a priced route. Payload is opaque to the engine and is handed to
// the TransactionExecutor unchanged.
type Quote struct {
	InputAmount    float64
	OutputAmount   float64
	PriceImpactPct float64
	RouteLabels    []string
	Payload        []byte
}

// QuoteClient prices swaps. A missing route is reported with found=false and
// a nil error; err is reserved for transport-level failures.
type QuoteClient interface {
	Quote(ctx context.Context, req QuoteRequest) (quote Quote, found bool, err error)
}

// TransactionExecutor signs, submits and confirms a swap payload. It is called
// at most once per trade outcome. Failures wrap *SubmitError.
type TransactionExecutor interface {
	Submit(ctx context.Context, payload []byte) (signature string, err error)
}

// BalanceProvider reads the wallet's balance of an asset in UI units.
type BalanceProvider interface {
	Balance(ctx context.Context, mint string) (float64, error)
}

// SubmitReason classifies a failed submission.
type SubmitReason string

const (
	SubmitRejected         SubmitReason = "rejected"
	SubmitTimedOut         SubmitReason = "timed_out"
	SubmitSimulationFailed SubmitReason = "simulation_failed"
)

// SubmitError is the typed failure returned by a TransactionExecutor.
// Signature is set when the transaction was sent but not confirmed.
type SubmitError struct {
	Reason    SubmitReason
	Signature string
	Err       error
}

func (e *SubmitError) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("%s (signature %s): %v", e.Reason, e.Signature, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// SubmitReasonOf extracts the classification of err, treating context
// deadline errors as timeouts and anything else as a rejection.
func SubmitReasonOf(err error) SubmitReason {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return SubmitTimedOut
	}
	return SubmitRejected
}
