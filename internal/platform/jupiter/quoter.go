package jupiter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// QuoterConfig configures a Quoter.
type QuoterConfig struct {
	// UserPublicKey is the wallet the swap transaction is built for.
	UserPublicKey string
	// PriorityFee is passed through as prioritizationFeeLamports: "auto"
	// or a lamport amount. Empty leaves Jupiter's default.
	PriorityFee any
}

// Quoter implements domain.QuoteClient on top of Client. Each quote also
// fetches the swap transaction, which becomes the quote payload.
type Quoter struct {
	client *Client
	cfg    QuoterConfig
}

// NewQuoter creates a Quoter.
func NewQuoter(client *Client, cfg QuoterConfig) *Quoter {
	return &Quoter{client: client, cfg: cfg}
}

// Quote prices req and builds its transaction. Amounts are converted between
// UI units and base units with each asset's decimals.
func (q *Quoter) Quote(ctx context.Context, req domain.QuoteRequest) (domain.Quote, bool, error) {
	mode := req.Mode
	if mode == "" {
		mode = domain.SwapModeExactIn
	}
	fixed := req.Input
	if mode == domain.SwapModeExactOut {
		fixed = req.Output
	}
	amount, err := ToBaseUnits(req.Amount, fixed.Decimals)
	if err != nil {
		return domain.Quote{}, false, err
	}

	resp, err := q.client.GetQuote(ctx, QuoteParams{
		InputMint:   req.Input.Mint,
		OutputMint:  req.Output.Mint,
		Amount:      amount,
		SlippageBps: req.SlippageBps,
		SwapMode:    string(mode),
	})
	if errors.Is(err, ErrNoRoute) {
		return domain.Quote{}, false, nil
	}
	if err != nil {
		return domain.Quote{}, false, err
	}
	if len(resp.RoutePlan) == 0 {
		return domain.Quote{}, false, nil
	}

	in, err := FromBaseUnits(resp.InAmount, req.Input.Decimals)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("jupiter: in amount: %w", err)
	}
	out, err := FromBaseUnits(resp.OutAmount, req.Output.Decimals)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("jupiter: out amount: %w", err)
	}
	impact := 0.0
	if resp.PriceImpactPct != "" {
		d, err := decimal.NewFromString(resp.PriceImpactPct)
		if err != nil {
			return domain.Quote{}, false, fmt.Errorf("jupiter: price impact: %w", err)
		}
		impact = d.InexactFloat64()
	}

	swap, err := q.client.BuildSwapTransaction(ctx, SwapParams{
		QuoteResponse:             resp,
		UserPublicKey:             q.cfg.UserPublicKey,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: q.cfg.PriorityFee,
	})
	if err != nil {
		return domain.Quote{}, false, err
	}
	payload, err := base64.StdEncoding.DecodeString(swap.SwapTransaction)
	if err != nil {
		return domain.Quote{}, false, fmt.Errorf("jupiter: decode swap transaction: %w", err)
	}

	labels := make([]string, 0, len(resp.RoutePlan))
	for _, r := range resp.RoutePlan {
		labels = append(labels, r.SwapInfo.Label)
	}
	return domain.Quote{
		InputAmount:    in,
		OutputAmount:   out,
		PriceImpactPct: impact,
		RouteLabels:    labels,
		Payload:        payload,
	}, true, nil
}

// ToBaseUnits converts a UI amount into an integer string of base units,
// truncating anything below the smallest unit.
func ToBaseUnits(amount float64, decimals int) (string, error) {
	d := decimal.NewFromFloat(amount).Shift(int32(decimals)).Truncate(0)
	if !d.IsPositive() {
		return "", fmt.Errorf("jupiter: %w: amount %v is below one base unit", domain.ErrInvalidInput, amount)
	}
	return d.String(), nil
}

// FromBaseUnits converts an integer base-unit string into UI units.
func FromBaseUnits(s string, decimals int) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return d.Shift(-int32(decimals)).InexactFloat64(), nil
}
