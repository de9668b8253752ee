package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/cascadebot/internal/blob/s3"
	"github.com/alanyoungcy/cascadebot/internal/cache/redis"
	"github.com/alanyoungcy/cascadebot/internal/config"
	"github.com/alanyoungcy/cascadebot/internal/crypto"
	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/metrics"
	"github.com/alanyoungcy/cascadebot/internal/notify"
	"github.com/alanyoungcy/cascadebot/internal/platform/jupiter"
	"github.com/alanyoungcy/cascadebot/internal/platform/solana"
	"github.com/alanyoungcy/cascadebot/internal/server/handler"
	"github.com/alanyoungcy/cascadebot/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application modes
// need. Optional backends are left nil when not configured. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores (Postgres)
	TradeStore   domain.TradeOutcomeStore
	CascadeStore domain.CascadeStore
	AuditStore   domain.AuditStore

	// Caches (Redis)
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	StatusCache domain.StatusCache

	// Blob storage (S3)
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Chain and swap venue. Chain is nil when no wallet key is configured.
	Chain  *solana.Client
	Quotes domain.QuoteClient

	Notifier *notify.Notifier
	Metrics  *metrics.Recorder

	// Checks are the backend checks served by /api/health.
	Checks map[string]handler.Check
}

// needsS3 returns true for modes that require object storage.
func needsS3(mode string) bool { return mode == "full" }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- PostgreSQL (optional history) ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		// Run migrations if enabled.
		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.TradeStore = postgres.NewTradeOutcomeStore(pool)
		deps.CascadeStore = postgres.NewCascadeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.StatusCache = redis.NewStatusCache(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Checks["s3"] = s3Client.Health
		// Archiving needs the Postgres stores it drains.
		if deps.TradeStore != nil && deps.CascadeStore != nil {
			deps.Archiver = s3blob.NewArchiver(writer, reader, deps.TradeStore, deps.CascadeStore, deps.AuditStore,
				s3blob.ArchiverConfig{
					BatchLimit: cfg.Archive.BatchLimit,
					PartSize:   int64(cfg.Archive.PartSizeMB) << 20,
				})
		}
	}

	// --- Wallet and chain ---
	if cfg.Wallet.HasKey() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			KeypairPath:      cfg.Wallet.KeypairPath,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
		chain, err := solana.NewClient(solana.ClientConfig{
			RPCURL:        cfg.Solana.RPCURL,
			SkipPreflight: cfg.Solana.SkipPreflight,
			PollInterval:  cfg.Solana.PollInterval.Duration,
			Commitment:    cfg.Solana.Commitment,
			DryRun:        cfg.Solana.DryRun,
		}, key, logger)
		if err != nil {
			return fail(fmt.Errorf("wire: solana: %w", err))
		}
		deps.Chain = chain
	}

	// --- Jupiter ---
	priorityFee, err := parsePriorityFee(cfg.Jupiter.PriorityFee)
	if err != nil {
		return fail(fmt.Errorf("wire: jupiter: %w", err))
	}
	var wallet string
	if deps.Chain != nil {
		wallet = deps.Chain.Wallet()
	}
	deps.Quotes = jupiter.NewQuoter(
		jupiter.NewClient(jupiter.ClientConfig{
			BaseURL: cfg.Jupiter.BaseURL,
			APIKey:  cfg.Jupiter.APIKey,
			Timeout: cfg.Jupiter.Timeout.Duration,
		}),
		jupiter.QuoterConfig{UserPublicKey: wallet, PriorityFee: priorityFee},
	)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Cooldown.Duration, logger)

	// --- Metrics ---
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		deps.Metrics = metrics.New(cfg.Metrics.Namespace, reg)
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", deps.TradeStore != nil),
		slog.Bool("redis", deps.SignalBus != nil),
		slog.Bool("s3", deps.BlobReader != nil),
		slog.Bool("wallet", deps.Chain != nil),
		slog.Int("notify_senders", len(senders)),
		slog.Bool("metrics", deps.Metrics != nil),
	)

	return deps, cleanup, nil
}

// parsePriorityFee maps the configured fee to the value Jupiter expects:
// the string "auto", a lamport amount, or nil for the API default.
func parsePriorityFee(fee string) (any, error) {
	switch fee {
	case "":
		return nil, nil
	case "auto":
		return fee, nil
	}
	n, err := strconv.ParseInt(fee, 10, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid priority fee %q", fee)
	}
	return n, nil
}

// pairConfigs converts the configured pairs into domain pair definitions.
func pairConfigs(pairs []config.PairConfig) []domain.PairConfig {
	out := make([]domain.PairConfig, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, domain.PairConfig{
			ID:      p.ID,
			Input:   domain.Asset(p.Input),
			Output:  domain.Asset(p.Output),
			Rank:    p.Rank,
			Score:   p.Score,
			Enabled: p.IsEnabled(),
			Limits:  riskLimits(p.Limits),
		})
	}
	return out
}

func riskLimits(r config.RiskConfig) domain.RiskLimits {
	return domain.RiskLimits(r)
}

// balanceAssets lists each distinct asset traded by pairs, in first-seen
// order.
func balanceAssets(pairs []config.PairConfig) []domain.Asset {
	seen := make(map[string]bool)
	var out []domain.Asset
	for _, p := range pairs {
		for _, a := range []config.AssetConfig{p.Input, p.Output} {
			if seen[a.Mint] {
				continue
			}
			seen[a.Mint] = true
			out = append(out, domain.Asset(a))
		}
	}
	return out
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second
