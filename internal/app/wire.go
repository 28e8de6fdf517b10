package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/liqwatch/liqwatch/internal/blob/s3"
	"github.com/liqwatch/liqwatch/internal/cache/redis"
	"github.com/liqwatch/liqwatch/internal/config"
	"github.com/liqwatch/liqwatch/internal/domain"
	"github.com/liqwatch/liqwatch/internal/event"
	"github.com/liqwatch/liqwatch/internal/notify"
	"github.com/liqwatch/liqwatch/internal/platform"
	"github.com/liqwatch/liqwatch/internal/platform/aave"
	"github.com/liqwatch/liqwatch/internal/platform/chain"
	"github.com/liqwatch/liqwatch/internal/platform/compound"
	"github.com/liqwatch/liqwatch/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	Users     domain.UserStore
	Alerts    domain.AlertStore
	Events    event.Store

	// In-process event bus
	Bus *event.Bus

	// Redis-backed extras; nil when redis.enabled is false.
	Cache domain.SnapshotCache
	Locks domain.LockManager

	// Protocol adapters
	Registry *platform.Registry

	// Blob storage; nil unless the mode needs object storage.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true when the configuration requires object storage: either
// archive mode itself, or monitor mode with the background archiver enabled.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Archive.Enabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Bus:      event.NewBus(logger),
		Registry: platform.NewRegistry(),
	}

	// --- PostgreSQL ---
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
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Users = postgres.NewUserStore(pool)
	deps.Alerts = postgres.NewAlertStore(pool)
	deps.Events = postgres.NewEventStore(pool)

	// --- Redis (optional) ---
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

		deps.Cache = redis.NewSnapshotCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
	}

	// --- On-chain price feeds (optional, shared by adapters) ---
	var feeds *chain.PriceFeeds
	if cfg.Chain.RPCURL != "" && len(cfg.Chain.Feeds) > 0 {
		chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, chainClient.Close)

		feeds, err = chain.NewPriceFeeds(chainClient, cfg.Chain.Feeds)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain price feeds: %w", err)
		}
	}

	// --- Protocol adapters ---
	if cfg.Aave.Enabled {
		subgraph := aave.NewSubgraphClient(cfg.Aave.SubgraphURL, cfg.Aave.APIKey)
		deps.Registry.Register(aave.New(subgraph, feeds, cfg.Chain.ChainID))
	}
	if cfg.Compound.Enabled {
		deps.Registry.Register(compound.New(cfg.Compound.APIURL, cfg.Chain.ChainID))
	}

	// --- S3 blob storage (only for modes that need object storage) ---
	if needsS3(cfg) {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Positions,
			deps.Events,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.SMTPHost != "" {
		senders = append(senders, notify.NewEmailSender(
			cfg.Notify.SMTPHost,
			cfg.Notify.SMTPPort,
			cfg.Notify.SMTPUser,
			cfg.Notify.SMTPPassword,
			cfg.Notify.EmailFrom,
			cfg.Notify.EmailTo,
		))
	}
	deps.Notifier = notify.NewNotifier(senders, logger)

	return deps, cleanup, nil
}
