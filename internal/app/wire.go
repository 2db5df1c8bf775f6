package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/parimutuel/internal/blob/s3"
	"github.com/alanyoungcy/parimutuel/internal/cache/redis"
	"github.com/alanyoungcy/parimutuel/internal/clock"
	"github.com/alanyoungcy/parimutuel/internal/config"
	"github.com/alanyoungcy/parimutuel/internal/crypto"
	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/events"
	"github.com/alanyoungcy/parimutuel/internal/metrics"
	"github.com/alanyoungcy/parimutuel/internal/notify"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/middleware"
	"github.com/alanyoungcy/parimutuel/internal/service"
	"github.com/alanyoungcy/parimutuel/internal/store/memory"
	"github.com/alanyoungcy/parimutuel/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	Clock      domain.Clock
	Transactor domain.Transactor
	AuditStore domain.AuditStore

	// Shared infrastructure. Redis-backed when enabled, in-process otherwise.
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archiver is nil unless archiving is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Events   *events.Publisher
	Betting  *service.BettingService

	// Health probes for /api/health, keyed by dependency name.
	Checks map[string]handler.Check
}

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

	deps := &Dependencies{
		Clock:   clock.System{},
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- Store ---
	switch cfg.Storage.Driver {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Transactor = postgres.NewTransactor(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Health
	default:
		logger.WarnContext(ctx, "using in-memory store; state is lost on restart")
		deps.Transactor = memory.New()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Prefix:     cfg.Redis.Prefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = middleware.NewLocalLimiter()
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = events.NewMemoryBus()
	}

	// --- S3 settlement archive (optional) ---
	var s3Client *s3blob.Client
	if cfg.Archive.Enabled {
		var err error
		s3Client, err = s3blob.New(ctx, s3blob.ClientConfig{
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
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.Checks["s3"] = s3Client.Health
	}

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Events ---
	var (
		notifier  events.Notifier
		formatter events.Formatter
	)
	if len(senders) > 0 {
		notifier = deps.Notifier
		formatter = notify.NewFormatter(cfg.Notify.AmountDecimals, cfg.Notify.AmountSymbol).Format
	}
	deps.Events = events.NewPublisher(deps.SignalBus, deps.AuditStore, notifier, formatter, logger)

	// --- Betting service ---
	betting := service.NewBettingService(
		deps.Transactor,
		crypto.NewVerifier(),
		deps.Events,
		deps.Clock,
		bettingConfig(cfg.Market),
		logger,
	).WithMetrics(deps.Metrics)
	if deps.MarketCache != nil {
		betting = betting.WithCache(deps.MarketCache)
	}
	deps.Betting = betting

	if s3Client != nil {
		deps.Archiver = s3blob.NewSettlementArchiver(
			betting,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
		)
	}

	return deps, cleanup, nil
}

func bettingConfig(m config.MarketConfig) service.BettingConfig {
	return service.BettingConfig{
		MinQuestionLen:       m.MinQuestionLen,
		MaxQuestionLen:       m.MaxQuestionLen,
		MinBet:               m.MinBet,
		MaxBet:               m.MaxBet,
		FeeBps:               m.FeeBps,
		AllowEarlyResolution: m.AllowEarlyResolution,
	}
}
