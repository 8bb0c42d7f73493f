package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/auctionhouse/internal/blob/s3"
	"github.com/alanyoungcy/auctionhouse/internal/cache/redis"
	"github.com/alanyoungcy/auctionhouse/internal/config"
	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/notify"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/store/memory"
	"github.com/alanyoungcy/auctionhouse/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency that the modes need.
// Optional parts are nil interfaces when their backend is disabled. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Auctions    domain.AuctionStore
	Bids        domain.BidStore
	Settlements domain.SettlementStore
	Audit       domain.AuditStore
	Identities  domain.IdentityLookup

	// Redis-backed, optional
	HighestBidCache domain.HighestBidCache
	RateLimiter     domain.RateLimiter
	LockManager     domain.LockManager
	SignalBus       domain.SignalBus

	// S3-backed, optional. Archives is set whenever S3 is enabled; Archiver
	// only when the sweeper archives closed auctions.
	Archiver domain.AuctionArchiver
	Archives domain.ArchiveReader

	Notifier *notify.Notifier

	// HealthChecks probes every backend that was wired.
	HealthChecks map[string]handler.HealthCheck
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

	deps := &Dependencies{HealthChecks: map[string]handler.HealthCheck{}}

	// --- Stores ---
	switch cfg.Store.Driver {
	case "memory":
		db := memory.New()
		for _, id := range cfg.Store.Identities {
			db.Identities().Put(domain.Identity{
				SubjectID: id.SubjectID,
				Name:      id.Name,
				Role:      domain.Role(id.Role),
				Active:    id.Active,
			})
		}
		deps.Auctions = db.Auctions()
		deps.Bids = db.Bids()
		deps.Settlements = db.Settlements()
		deps.Audit = db.Audit()
		deps.Identities = db.Identities()
		logger.WarnContext(ctx, "using the in-memory store; nothing survives a restart",
			slog.Int("identities", len(cfg.Store.Identities)),
		)

	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
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
		deps.Auctions = postgres.NewAuctionStore(pool)
		deps.Bids = postgres.NewBidStore(pool)
		deps.Settlements = postgres.NewSettlementStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Identities = postgres.NewIdentityStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
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
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.HighestBidCache = redis.NewHighestBidCache(redisClient, cfg.Redis.HighestBidTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Ledger.BidRateLimit, cfg.Ledger.BidRateWindow.Duration)
		if cfg.Ledger.DistributedLock {
			deps.LockManager = redis.NewLockManager(redisClient)
		}
		if cfg.Realtime.RedisBridge {
			deps.SignalBus = redis.NewSignalBus(redisClient)
		}
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		archiver := s3blob.NewAuctionArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Bids,
			deps.Settlements,
			deps.Audit,
			domain.SystemClock{},
		)
		deps.Archives = archiver
		if cfg.Sweeper.Archive {
			deps.Archiver = archiver
		}
		deps.HealthChecks["s3"] = s3Client.Health
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
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	closers = append(closers, func() { _ = deps.Notifier.Close() })

	return deps, cleanup, nil
}
