package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CASCADEBOT_"

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CASCADEBOT_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CASCADEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.KeypairPath, "WALLET_KEYPAIR_PATH")
	setStr(&cfg.Wallet.EncryptedKeyPath, "WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "WALLET_KEY_PASSWORD")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "SOLANA_RPC_URL")
	setStr(&cfg.Solana.Commitment, "SOLANA_COMMITMENT")
	setBool(&cfg.Solana.SkipPreflight, "SOLANA_SKIP_PREFLIGHT")
	setDuration(&cfg.Solana.PollInterval, "SOLANA_POLL_INTERVAL")
	setBool(&cfg.Solana.DryRun, "SOLANA_DRY_RUN")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.BaseURL, "JUPITER_BASE_URL")
	setStr(&cfg.Jupiter.APIKey, "JUPITER_API_KEY")
	setDuration(&cfg.Jupiter.Timeout, "JUPITER_TIMEOUT")
	setStr(&cfg.Jupiter.PriorityFee, "JUPITER_PRIORITY_FEE")

	// ── Trading ──
	setBool(&cfg.Trading.Enabled, "TRADING_ENABLED")
	setStr(&cfg.Trading.DefaultPair, "TRADING_DEFAULT_PAIR")
	setDuration(&cfg.Trading.TradeTimeout, "TRADING_TRADE_TIMEOUT")
	setInt(&cfg.Trading.MaxCascadeDepth, "TRADING_MAX_CASCADE_DEPTH")
	setDuration(&cfg.Trading.DedupTTL, "TRADING_DEDUP_TTL")
	setInt(&cfg.Trading.HistorySize, "TRADING_HISTORY_SIZE")
	setStr(&cfg.Trading.Timezone, "TRADING_TIMEZONE")
	setDuration(&cfg.Trading.StatusTTL, "TRADING_STATUS_TTL")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxTradeNotional, "RISK_MAX_TRADE_NOTIONAL")
	setFloat64(&cfg.Risk.MaxDailyNotional, "RISK_MAX_DAILY_NOTIONAL")
	setInt(&cfg.Risk.MaxSlippageBps, "RISK_MAX_SLIPPAGE_BPS")
	setFloat64(&cfg.Risk.MinBalanceReserve, "RISK_MIN_BALANCE_RESERVE")

	// ── AutoCascade ──
	setBool(&cfg.AutoCascade.Enabled, "AUTOCASCADE_ENABLED")
	setDuration(&cfg.AutoCascade.Interval, "AUTOCASCADE_INTERVAL")
	setFloat64(&cfg.AutoCascade.InitialAmount, "AUTOCASCADE_INITIAL_AMOUNT")
	setStringSlice(&cfg.AutoCascade.PairIDs, "AUTOCASCADE_PAIR_IDS")
	setInt(&cfg.AutoCascade.MaxSteps, "AUTOCASCADE_MAX_STEPS")
	setBool(&cfg.AutoCascade.StopOnFailure, "AUTOCASCADE_STOP_ON_FAILURE")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.Namespace, "REDIS_NAMESPACE")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ARCHIVE_CRON")
	setInt(&cfg.Archive.BatchLimit, "ARCHIVE_BATCH_LIMIT")
	setInt(&cfg.Archive.PartSizeMB, "ARCHIVE_PART_SIZE_MB")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "SERVER_RATE_LIMIT_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Cooldown, "NOTIFY_COOLDOWN")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setStr(&cfg.Metrics.Namespace, "METRICS_NAMESPACE")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the prefixed
// environment variable is present and non-empty.
// ---------------------------------------------------------------------------

func getenv(key string) string { return os.Getenv(EnvPrefix + key) }

func setStr(dst *string, key string) {
	if v := getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
