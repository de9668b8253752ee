// Package solana signs, submits and confirms swap transactions and reads
// wallet balances over Solana JSON-RPC.
package solana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cascadebot/internal/domain"
)

// NativeMint is the wrapped-SOL mint; balances for it are read from the
// wallet's lamports.
const NativeMint = "So11111111111111111111111111111111111111112"

const (
	defaultPollInterval = 500 * time.Millisecond
	lamportDecimals     = 9
)

// rpcAPI is the subset of *rpc.Client the Client uses.
type rpcAPI interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	RPCURL        string
	SkipPreflight bool
	PollInterval  time.Duration

	// Commitment a transaction must reach before Submit reports success:
	// "confirmed" (default) or "finalized".
	Commitment string

	// DryRun simulates signed transactions instead of sending them.
	DryRun bool
}

// Client implements domain.TransactionExecutor and domain.BalanceProvider.
type Client struct {
	rpc        rpcAPI
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	cfg        ClientConfig
	logger     *slog.Logger
}

// NewClient creates a Client signing with key.
func NewClient(cfg ClientConfig, key solana.PrivateKey, logger *slog.Logger) (*Client, error) {
	if len(key) == 0 {
		return nil, errors.New("solana: private key is required")
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = rpc.MainNetBeta_RPC
	}
	return newClient(rpc.New(cfg.RPCURL), cfg, key, logger), nil
}

func newClient(api rpcAPI, cfg ClientConfig, key solana.PrivateKey, logger *slog.Logger) *Client {
	if cfg.Commitment == "" {
		cfg.Commitment = string(rpc.CommitmentConfirmed)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Client{
		rpc:        api,
		privateKey: key,
		publicKey:  key.PublicKey(),
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "solana")),
	}
}

// Wallet returns the wallet's base58 public key.
func (c *Client) Wallet() string { return c.publicKey.String() }

// Submit signs payload, sends it and waits for the configured commitment.
// Every failure is a *domain.SubmitError; once the transaction has been sent
// the error carries its signature.
func (c *Client) Submit(ctx context.Context, payload []byte) (string, error) {
	tx, err := solana.TransactionFromBytes(payload)
	if err != nil {
		return "", &domain.SubmitError{Reason: domain.SubmitRejected, Err: fmt.Errorf("parse transaction: %w", err)}
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if c.publicKey.Equals(key) {
			return &c.privateKey
		}
		return nil
	})
	if err != nil {
		return "", &domain.SubmitError{Reason: domain.SubmitRejected, Err: fmt.Errorf("sign transaction: %w", err)}
	}

	if c.cfg.DryRun {
		return c.simulate(ctx, tx)
	}

	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       c.cfg.SkipPreflight,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", &domain.SubmitError{Reason: sendReason(ctx, err), Err: fmt.Errorf("send transaction: %w", err)}
	}
	c.logger.InfoContext(ctx, "transaction sent", slog.String("signature", sig.String()))

	if err := c.confirm(ctx, sig); err != nil {
		return "", err
	}
	return sig.String(), nil
}

func (c *Client) simulate(ctx context.Context, tx *solana.Transaction) (string, error) {
	res, err := c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", &domain.SubmitError{Reason: sendReason(ctx, err), Err: fmt.Errorf("simulate transaction: %w", err)}
	}
	if res == nil || res.Value == nil {
		return "", &domain.SubmitError{Reason: domain.SubmitSimulationFailed, Err: errors.New("empty simulation result")}
	}
	if res.Value.Err != nil {
		return "", &domain.SubmitError{
			Reason: domain.SubmitSimulationFailed,
			Err:    fmt.Errorf("simulation error: %v", res.Value.Err),
		}
	}
	sig := ""
	if len(tx.Signatures) > 0 {
		sig = tx.Signatures[0].String()
	}
	c.logger.InfoContext(ctx, "dry-run simulation passed", slog.Int("logs", len(res.Value.Logs)))
	return "dryrun-" + sig, nil
}

// confirm polls the signature status until the configured commitment is
// reached, the transaction fails on chain, or ctx ends.
func (c *Client) confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		statuses, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
		switch {
		case err != nil && ctx.Err() == nil:
			c.logger.WarnContext(ctx, "signature status lookup failed",
				slog.String("signature", sig.String()), slog.String("error", err.Error()))
		case err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil:
			st := statuses.Value[0]
			if st.Err != nil {
				return &domain.SubmitError{
					Reason:    domain.SubmitRejected,
					Signature: sig.String(),
					Err:       fmt.Errorf("transaction failed: %v", st.Err),
				}
			}
			if c.reached(st.ConfirmationStatus) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return &domain.SubmitError{
				Reason:    domain.SubmitTimedOut,
				Signature: sig.String(),
				Err:       fmt.Errorf("awaiting confirmation: %w", ctx.Err()),
			}
		case <-ticker.C:
		}
	}
}

func (c *Client) reached(status rpc.ConfirmationStatusType) bool {
	if status == rpc.ConfirmationStatusFinalized {
		return true
	}
	return status == rpc.ConfirmationStatusConfirmed && c.cfg.Commitment != string(rpc.CommitmentFinalized)
}

func sendReason(ctx context.Context, err error) domain.SubmitReason {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return domain.SubmitTimedOut
	}
	if strings.Contains(strings.ToLower(err.Error()), "simulation failed") {
		return domain.SubmitSimulationFailed
	}
	return domain.SubmitRejected
}

// Balance returns the wallet's balance of mint in UI units. The native mint
// reads lamports; any other mint sums the wallet's token accounts for it.
func (c *Client) Balance(ctx context.Context, mint string) (float64, error) {
	if mint == NativeMint {
		res, err := c.rpc.GetBalance(ctx, c.publicKey, rpc.CommitmentConfirmed)
		if err != nil {
			return 0, fmt.Errorf("solana: get balance: %w", err)
		}
		return decimal.NewFromUint64(res.Value).Shift(-lamportDecimals).InexactFloat64(), nil
	}

	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("solana: invalid mint %q: %w", mint, err)
	}
	res, err := c.rpc.GetTokenAccountsByOwner(ctx, c.publicKey,
		&rpc.GetTokenAccountsConfig{Mint: &mintKey},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingJSONParsed},
	)
	if err != nil {
		return 0, fmt.Errorf("solana: get token accounts: %w", err)
	}

	total := decimal.Zero
	for _, acct := range res.Value {
		if acct == nil || acct.Account.Data == nil {
			continue
		}
		amt, err := parseTokenAmount(acct.Account.Data.GetRawJSON())
		if err != nil {
			return 0, fmt.Errorf("solana: token account %s: %w", acct.Pubkey, err)
		}
		total = total.Add(amt)
	}
	return total.InexactFloat64(), nil
}

// parseTokenAmount reads the base-unit amount and decimals of a jsonParsed
// SPL token account.
func parseTokenAmount(raw json.RawMessage) (decimal.Decimal, error) {
	var parsed struct {
		Parsed struct {
			Info struct {
				TokenAmount struct {
					Amount   string `json:"amount"`
					Decimals int32  `json:"decimals"`
				} `json:"tokenAmount"`
			} `json:"info"`
		} `json:"parsed"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return decimal.Zero, err
	}
	ta := parsed.Parsed.Info.TokenAmount
	if ta.Amount == "" {
		return decimal.Zero, errors.New("missing token amount")
	}
	amt, err := decimal.NewFromString(ta.Amount)
	if err != nil {
		return decimal.Zero, err
	}
	return amt.Shift(-ta.Decimals), nil
}
