package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	s3blob "github.com/quantrail/fixmirror/internal/blob/s3"
	"github.com/quantrail/fixmirror/internal/cache/redis"
	"github.com/quantrail/fixmirror/internal/config"
	"github.com/quantrail/fixmirror/internal/copyrule"
	"github.com/quantrail/fixmirror/internal/domain"
	"github.com/quantrail/fixmirror/internal/engine"
	"github.com/quantrail/fixmirror/internal/fix"
	"github.com/quantrail/fixmirror/internal/locate"
	"github.com/quantrail/fixmirror/internal/refdata"
	"github.com/quantrail/fixmirror/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the gateway needs to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	Orders   domain.OrderStore
	Events   domain.EventStore
	Locates  domain.LocateStore
	RefStore domain.ReferenceStore

	// Reference data and rules
	RefCache  *refdata.Cache
	Evaluator *copyrule.Evaluator

	// Session layer
	Registry *fix.SessionRegistry
	Sender   *fix.Sender
	Guard    *fix.SessionGuard

	// Event bus (NopBus when Redis is not configured)
	Bus domain.EventBus

	// Workflow engines
	LocateEngine  *locate.Engine
	LocateMonitor *locate.Monitor
	Engine        *engine.Engine

	// Archiver is nil when archival is disabled.
	Archiver *s3blob.EventArchiver
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

	deps := &Dependencies{}

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
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Events = postgres.NewEventStore(pool)
	deps.Locates = postgres.NewLocateStore(pool)
	deps.RefStore = postgres.NewReferenceStore(pool)

	// --- Reference data cache ---
	deps.RefCache = refdata.New(deps.RefStore, logger)
	if err := deps.RefCache.Refresh(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: reference data load: %w", err)
	}
	deps.Evaluator = copyrule.New(deps.RefCache, logger)

	// --- Session layer ---
	loc := time.UTC
	if cfg.Fix.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Fix.Timezone)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: timezone %q: %w", cfg.Fix.Timezone, err)
		}
	}
	deps.Registry = fix.NewSessionRegistry()
	deps.Sender = fix.NewSender(deps.Registry, logger)
	deps.Guard = fix.NewSessionGuard(fix.TradingWindow{
		Open:     cfg.Fix.WindowOpen.Duration,
		Close:    cfg.Fix.WindowClose.Duration,
		Location: loc,
	}, logger)

	// --- Redis (optional): locate mapping persistence and the event bus ---
	var mapStore locate.MapStore
	deps.Bus = domain.NopBus{}
	if cfg.Redis.Addr != "" {
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

		mapStore = redis.NewLocateMap(redisClient)
		deps.Bus = redis.NewEventBus(redisClient, cfg.Redis.Stream)
	}

	// --- Locate workflow ---
	mapper := locate.NewMapper(mapStore)
	decision := locate.RateCappedDecision{
		MaxOfferPx: decimal.NewFromFloat(cfg.Locate.MaxOfferPx),
	}
	deps.LocateEngine = locate.NewEngine(
		locate.Config{
			Broker:  cfg.Locate.Broker,
			Timeout: cfg.Locate.Timeout.Duration,
		},
		deps.Locates,
		deps.Orders,
		deps.Events,
		deps.RefCache,
		mapper,
		deps.Sender,
		decision,
		deps.Bus,
		logger,
	)
	deps.LocateMonitor = locate.NewMonitor(deps.LocateEngine, cfg.Locate.MonitorInterval.Duration, logger)

	// --- Replication engine ---
	deps.Engine = engine.New(
		engine.Config{
			Workers:     cfg.Replication.WorkerPoolSize,
			RetryRoutes: cfg.Replication.RetryRoutes,
		},
		deps.Events,
		deps.Orders,
		deps.RefCache,
		deps.Evaluator,
		deps.Sender,
		deps.LocateEngine,
		deps.Bus,
		logger,
	)

	// --- S3 archival (optional) ---
	if cfg.S3.Bucket != "" {
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
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3 bucket check: %w", err)
		}

		if cfg.Archive.Retention.Duration > 0 {
			deps.Archiver = s3blob.NewEventArchiver(
				s3blob.NewWriter(s3Client),
				deps.Events,
				s3blob.ArchiverConfig{
					Retention: cfg.Archive.Retention.Duration,
					Interval:  cfg.Archive.Interval.Duration,
					BatchSize: cfg.Archive.BatchSize,
					Prune:     cfg.Archive.Prune,
				},
				logger,
			)
		}
	}

	return deps, cleanup, nil
}
