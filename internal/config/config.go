// Package config defines the top-level configuration for the cascade bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CASCADEBOT_* environment variables.
type Config struct {
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`

	Wallet      WalletConfig      `toml:"wallet"`
	Solana      SolanaConfig      `toml:"solana"`
	Jupiter     JupiterConfig     `toml:"jupiter"`
	Trading     TradingConfig     `toml:"trading"`
	Risk        RiskConfig        `toml:"risk"`
	Pairs       []PairConfig      `toml:"pairs"`
	AutoCascade AutoCascadeConfig `toml:"autocascade"`
	Supabase    SupabaseConfig    `toml:"supabase"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Archive     ArchiveConfig     `toml:"archive"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

// WalletConfig selects where the signing key comes from. The first non-empty
// source wins: private_key, keypair_path, encrypted_key_path.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	KeypairPath      string `toml:"keypair_path"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasKey reports whether any key source is configured.
func (w WalletConfig) HasKey() bool {
	return w.PrivateKey != "" || w.KeypairPath != "" || w.EncryptedKeyPath != ""
}

// SolanaConfig holds the RPC endpoint and submission options.
type SolanaConfig struct {
	RPCURL        string   `toml:"rpc_url"`
	Commitment    string   `toml:"commitment"`
	SkipPreflight bool     `toml:"skip_preflight"`
	PollInterval  duration `toml:"poll_interval"`
	// DryRun simulates every transaction instead of sending it.
	DryRun bool `toml:"dry_run"`
}

// JupiterConfig holds the swap aggregator endpoint.
type JupiterConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
	// PriorityFee is "auto", a lamport amount, or empty for the API default.
	PriorityFee string `toml:"priority_fee"`
}

// TradingConfig holds engine-wide trading parameters.
type TradingConfig struct {
	Enabled         bool     `toml:"enabled"`
	DefaultPair     string   `toml:"default_pair"`
	TradeTimeout    duration `toml:"trade_timeout"`
	MaxCascadeDepth int      `toml:"max_cascade_depth"`
	DedupTTL        duration `toml:"dedup_ttl"`
	HistorySize     int      `toml:"history_size"`
	// Timezone is the IANA zone whose midnight resets daily volume.
	Timezone  string   `toml:"timezone"`
	StatusTTL duration `toml:"status_ttl"`
}

// RiskConfig holds risk limits. At the top level they are the defaults for
// every pair; inside [[pairs]] they override them field by field.
type RiskConfig struct {
	MaxTradeNotional  float64 `toml:"max_trade_notional"`
	MaxDailyNotional  float64 `toml:"max_daily_notional"`
	MaxSlippageBps    int     `toml:"max_slippage_bps"`
	MinBalanceReserve float64 `toml:"min_balance_reserve"`
}

// AssetConfig identifies a token.
type AssetConfig struct {
	Symbol   string `toml:"symbol"`
	Mint     string `toml:"mint"`
	Decimals int    `toml:"decimals"`
}

// PairConfig declares a trading pair loaded at startup.
type PairConfig struct {
	ID      string      `toml:"id"`
	Input   AssetConfig `toml:"input"`
	Output  AssetConfig `toml:"output"`
	Rank    int         `toml:"rank"`
	Score   float64     `toml:"score"`
	Enabled *bool       `toml:"enabled"` // nil means enabled
	Limits  RiskConfig  `toml:"limits"`
}

// IsEnabled reports the effective enabled flag.
func (p PairConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// AutoCascadeConfig configures the scheduled cascade.
type AutoCascadeConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	InitialAmount float64  `toml:"initial_amount"`
	PairIDs       []string `toml:"pair_ids"`
	MaxSteps      int      `toml:"max_steps"`
	StopOnFailure bool     `toml:"stop_on_failure"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	Namespace  string `toml:"namespace"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold-storage export of old history.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	BatchLimit    int    `toml:"batch_limit"`
	PartSizeMB    int    `toml:"part_size_mb"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per window per client IP; 0 disables it.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	Cooldown          duration `toml:"cooldown"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		LogLevel: "info",
		Solana: SolanaConfig{
			RPCURL:       "https://api.mainnet-beta.solana.com",
			Commitment:   "confirmed",
			PollInterval: duration{500 * time.Millisecond},
		},
		Jupiter: JupiterConfig{
			BaseURL:     "https://lite-api.jup.ag/swap/v1",
			Timeout:     duration{15 * time.Second},
			PriorityFee: "auto",
		},
		Trading: TradingConfig{
			Enabled:         true,
			TradeTimeout:    duration{60 * time.Second},
			MaxCascadeDepth: 5,
			DedupTTL:        duration{10 * time.Minute},
			HistorySize:     500,
			Timezone:        "UTC",
			StatusTTL:       duration{10 * time.Second},
		},
		Risk: RiskConfig{
			MaxTradeNotional:  1,
			MaxDailyNotional:  10,
			MaxSlippageBps:    50,
			MinBalanceReserve: 0.05,
		},
		AutoCascade: AutoCascadeConfig{
			Interval:      duration{15 * time.Minute},
			StopOnFailure: true,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			Namespace:  "cascadebot",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cascadebot-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
			BatchLimit:    10000,
			PartSizeMB:    8,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:       120,
			RateLimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"trade_failed", "cascade_completed", "cascade_aborted", "risk_rejected"},
			Cooldown: duration{time.Minute},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "cascadebot",
		},
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":       true,
	"monitor":     true,
	"autocascade": true,
	"full":        true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCommitments = map[string]bool{
	"confirmed": true,
	"finalized": true,
}

// Trades reports whether the mode executes trades.
func (c *Config) Trades() bool { return c.Mode != "monitor" }

// RunsAutoCascade reports whether the scheduler runs in this mode.
func (c *Config) RunsAutoCascade() bool {
	return c.Mode == "autocascade" || c.Mode == "full" || (c.Mode == "trade" && c.AutoCascade.Enabled)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, autocascade, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: trading modes sign transactions.
	if c.Trades() && !c.Wallet.HasKey() {
		errs = append(errs, "wallet: one of private_key, keypair_path or encrypted_key_path must be set for mode "+c.Mode)
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Solana
	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if !validCommitments[c.Solana.Commitment] {
		errs = append(errs, fmt.Sprintf("solana: commitment must be confirmed or finalized, got %q", c.Solana.Commitment))
	}

	// Jupiter
	if c.Jupiter.BaseURL == "" {
		errs = append(errs, "jupiter: base_url must not be empty")
	}
	if c.Jupiter.Timeout.Duration <= 0 {
		errs = append(errs, "jupiter: timeout must be positive")
	}
	if fee := c.Jupiter.PriorityFee; fee != "" && fee != "auto" {
		if n, err := strconv.ParseInt(fee, 10, 64); err != nil || n < 0 {
			errs = append(errs, fmt.Sprintf("jupiter: priority_fee must be \"auto\" or a lamport amount, got %q", fee))
		}
	}

	// Trading
	if c.Trading.TradeTimeout.Duration <= 0 {
		errs = append(errs, "trading: trade_timeout must be positive")
	}
	if c.Trading.MaxCascadeDepth < 1 {
		errs = append(errs, "trading: max_cascade_depth must be >= 1")
	}
	if c.Trading.HistorySize < 1 {
		errs = append(errs, "trading: history_size must be >= 1")
	}
	if _, err := time.LoadLocation(c.Trading.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("trading: unknown timezone %q", c.Trading.Timezone))
	}

	// Risk defaults
	errs = append(errs, c.Risk.validate("risk", true)...)

	// Pairs
	ids := make(map[string]bool, len(c.Pairs))
	for i, p := range c.Pairs {
		label := fmt.Sprintf("pairs[%d]", i)
		if p.ID == "" {
			errs = append(errs, label+": id must not be empty")
		} else {
			label = fmt.Sprintf("pairs[%s]", p.ID)
			if ids[p.ID] {
				errs = append(errs, label+": duplicate id")
			}
			ids[p.ID] = true
		}
		errs = append(errs, p.Input.validate(label+".input")...)
		errs = append(errs, p.Output.validate(label+".output")...)
		if p.Input.Mint != "" && p.Input.Mint == p.Output.Mint {
			errs = append(errs, label+": input and output mint must differ")
		}
		errs = append(errs, p.Limits.validate(label+".limits", false)...)
	}
	if c.Trading.DefaultPair != "" && !ids[c.Trading.DefaultPair] {
		errs = append(errs, fmt.Sprintf("trading: default_pair %q is not a configured pair", c.Trading.DefaultPair))
	}

	// AutoCascade
	if c.RunsAutoCascade() {
		if c.AutoCascade.Interval.Duration <= 0 {
			errs = append(errs, "autocascade: interval must be positive")
		}
		if c.AutoCascade.InitialAmount <= 0 {
			errs = append(errs, "autocascade: initial_amount must be positive")
		}
		if c.AutoCascade.MaxSteps < 0 {
			errs = append(errs, "autocascade: max_steps must be >= 0")
		}
		for _, id := range c.AutoCascade.PairIDs {
			if !ids[id] {
				errs = append(errs, fmt.Sprintf("autocascade: pair %q is not a configured pair", id))
			}
		}
	}

	// Supabase
	if c.Mode == "full" && !c.Supabase.Enabled {
		errs = append(errs, "supabase: must be enabled for mode full")
	}
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 {
			errs = append(errs, "supabase: pool_min_conns must be >= 0")
		}
		if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// S3 and archive run only in full mode.
	if c.Mode == "full" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty for mode full")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			errs = append(errs, "s3: access_key and secret_key must be set together")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, fmt.Sprintf("archive: cron must have 5 fields, got %q", c.Archive.Cron))
		}
		if c.Archive.BatchLimit < 1 {
			errs = append(errs, "archive: batch_limit must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
			errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
		}
	}
	if c.Mode == "monitor" && !c.Server.Enabled {
		errs = append(errs, "server: must be enabled for mode monitor")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validate checks risk limits. Defaults must be complete; per-pair
// overrides may leave fields at zero.
func (r RiskConfig) validate(label string, required bool) []string {
	var errs []string
	if r.MaxTradeNotional < 0 || (required && r.MaxTradeNotional == 0) {
		errs = append(errs, label+": max_trade_notional must be positive")
	}
	if r.MaxDailyNotional < 0 || (required && r.MaxDailyNotional == 0) {
		errs = append(errs, label+": max_daily_notional must be positive")
	}
	if r.MaxTradeNotional > 0 && r.MaxDailyNotional > 0 && r.MaxTradeNotional > r.MaxDailyNotional {
		errs = append(errs, label+": max_trade_notional must not exceed max_daily_notional")
	}
	if r.MaxSlippageBps < 0 || r.MaxSlippageBps > 10000 || (required && r.MaxSlippageBps == 0) {
		errs = append(errs, fmt.Sprintf("%s: max_slippage_bps must be 1-10000, got %d", label, r.MaxSlippageBps))
	}
	if r.MinBalanceReserve < 0 {
		errs = append(errs, label+": min_balance_reserve must be >= 0")
	}
	return errs
}

func (a AssetConfig) validate(label string) []string {
	var errs []string
	if a.Symbol == "" {
		errs = append(errs, label+": symbol must not be empty")
	}
	if len(a.Mint) < 32 || len(a.Mint) > 44 {
		errs = append(errs, fmt.Sprintf("%s: mint %q is not a base58 address", label, a.Mint))
	}
	if a.Decimals < 0 || a.Decimals > 18 {
		errs = append(errs, fmt.Sprintf("%s: decimals must be 0-18, got %d", label, a.Decimals))
	}
	return errs
}
