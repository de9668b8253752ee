// Package jupiter prices and builds swaps through the Jupiter aggregator.
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// DefaultBaseURL is the keyless Jupiter swap API.
	DefaultBaseURL = "https://lite-api.jup.ag/swap/v1"

	defaultTimeout = 30 * time.Second
)

// ErrNoRoute is returned by GetQuote when Jupiter has no route for the pair
// and amount.
var ErrNoRoute = errors.New("jupiter: no route")

// noRouteCodes are the Jupiter error codes that mean "no liquidity" rather
// than a broken request.
var noRouteCodes = map[string]bool{
	"COULD_NOT_FIND_ANY_ROUTE": true,
	"NO_ROUTES_FOUND":          true,
	"TOKEN_NOT_TRADABLE":       true,
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a REST client for the Jupiter swap API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, httpClient: hc}
}

// GetQuote requests a quote. It returns ErrNoRoute when Jupiter reports that
// no route exists.
func (c *Client) GetQuote(ctx context.Context, p QuoteParams) (*QuoteResponse, error) {
	if p.InputMint == "" || p.OutputMint == "" || p.Amount == "" {
		return nil, fmt.Errorf("jupiter: quote: input mint, output mint and amount are required")
	}
	q := url.Values{}
	q.Set("inputMint", p.InputMint)
	q.Set("outputMint", p.OutputMint)
	q.Set("amount", p.Amount)
	if p.SlippageBps > 0 {
		q.Set("slippageBps", strconv.Itoa(p.SlippageBps))
	}
	if p.SwapMode != "" {
		q.Set("swapMode", p.SwapMode)
	}

	var out QuoteResponse
	if err := c.do(ctx, http.MethodGet, "/quote?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("jupiter: quote %s -> %s: %w", p.InputMint, p.OutputMint, err)
	}
	return &out, nil
}

// BuildSwapTransaction asks Jupiter for the transaction executing quote.
func (c *Client) BuildSwapTransaction(ctx context.Context, p SwapParams) (*SwapResponse, error) {
	if p.QuoteResponse == nil || p.UserPublicKey == "" {
		return nil, fmt.Errorf("jupiter: swap: quote and user public key are required")
	}
	var out SwapResponse
	if err := c.do(ctx, http.MethodPost, "/swap", p, &out); err != nil {
		return nil, fmt.Errorf("jupiter: swap: %w", err)
	}
	if out.SwapTransaction == "" {
		return nil, fmt.Errorf("jupiter: swap: empty transaction")
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && noRouteCodes[apiErr.ErrorCode] {
			return fmt.Errorf("%w: %s", ErrNoRoute, apiErr.Error)
		}
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
