package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/avasile/sharescan/internal/blob/s3"
	"github.com/avasile/sharescan/internal/cache/redis"
	"github.com/avasile/sharescan/internal/config"
	"github.com/avasile/sharescan/internal/domain"
	"github.com/avasile/sharescan/internal/jobs"
	"github.com/avasile/sharescan/internal/metadata"
	"github.com/avasile/sharescan/internal/platform/alchemy"
	"github.com/avasile/sharescan/internal/pricing"
	"github.com/avasile/sharescan/internal/scan"
	"github.com/avasile/sharescan/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Provider domain.ChainProvider
	Prices   domain.PriceReader
	Metadata domain.MetadataResolver

	// Redis-backed infrastructure (nil in one-shot scan mode).
	KVCache     domain.KVCache
	JobStore    domain.JobStore
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Optional archives.
	ScanArchive domain.ScanArchive
	BlobWriter  domain.BlobWriter

	Orchestrator *scan.Orchestrator
	Jobs         *jobs.Manager
}

// needsRedis returns true for modes that require caching, job storage, and
// pub/sub. One-shot scans run without any of them.
func needsRedis(mode string) bool {
	return mode == "server"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	mode := strings.ToLower(cfg.Mode)

	// --- Chain provider ---
	provider := alchemy.New(alchemy.Config{
		RPCURL:         providerURL(cfg.Provider),
		PageSize:       cfg.Provider.PageSize,
		MaxRetries:     cfg.Provider.MaxRetries,
		RetryBaseDelay: cfg.Provider.RetryBaseDelay.Duration,
		HTTPTimeout:    cfg.Provider.HTTPTimeout.Duration,
	}, logger)
	deps.Provider = provider
	deps.Prices = pricing.NewReader(provider, logger)

	// --- Metadata resolver ---
	if cfg.Metadata.Enabled {
		deps.Metadata = metadata.NewResolver(metadata.Config{
			IPFSGateway: cfg.Metadata.IPFSGateway,
			HTTPTimeout: cfg.Metadata.HTTPTimeout.Duration,
		}, logger)
	}

	// --- Redis ---
	if needsRedis(mode) {
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

		deps.KVCache = redis.NewKVCache(redisClient)
		deps.JobStore = redis.NewJobStore(redisClient, cfg.Scan.JobTTL.Duration)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- PostgreSQL scan archive ---
	if cfg.Postgres.Enabled && mode == "server" {
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
		deps.ScanArchive = postgres.NewScanStore(pgClient.Pool())
	}

	// --- S3 payload archive ---
	if cfg.S3.Enabled && mode == "server" {
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
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Scan orchestrator ---
	deps.Orchestrator = scan.NewOrchestrator(
		deps.Provider,
		deps.Prices,
		deps.Metadata,
		deps.KVCache,
		scan.Contracts{
			ShareTokens:      cfg.Contracts.ShareTokens,
			Stablecoins:      cfg.Contracts.Stablecoins,
			Pairs:            cfg.Contracts.Pairs,
			PromotionIssuers: cfg.Contracts.PromotionIssuers,
		},
		scan.Options{
			DefaultBudget:       cfg.Scan.DefaultBudget.Duration,
			MaxPages:            cfg.Scan.MaxPages,
			MaxActivity:         cfg.Scan.MaxActivity,
			ReceiptConcurrency:  cfg.Scan.ReceiptConcurrency,
			MetadataConcurrency: cfg.Scan.MetadataConcurrency,
			PriceBatchSize:      cfg.Scan.PriceBatchSize,
			ResultTTL:           cfg.Scan.ResultTTL.Duration,
			MetadataURITemplate: cfg.Metadata.URITemplate,
		},
		logger,
	)

	// --- Job manager (server mode only) ---
	if needsRedis(mode) {
		deps.Jobs = jobs.NewManager(
			deps.Orchestrator,
			deps.JobStore,
			deps.KVCache,
			deps.LockManager,
			deps.SignalBus,
			deps.ScanArchive,
			deps.BlobWriter,
			jobs.Config{
				LockTTL:   cfg.Scan.JobTTL.Duration,
				ResultTTL: cfg.Scan.ResultTTL.Duration,
			},
			logger,
		)
	}

	return deps, cleanup, nil
}

// providerURL appends the provider API key as the final path segment when it
// is configured separately from the base RPC URL.
func providerURL(cfg config.ProviderConfig) string {
	url := strings.TrimRight(cfg.RPCURL, "/")
	if cfg.APIKey != "" && !strings.HasSuffix(url, cfg.APIKey) {
		url += "/" + cfg.APIKey
	}
	return url
}
