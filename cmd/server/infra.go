package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	billingstore "cargolink/internal/billing/store"
	"cargolink/internal/billing/webhook"
	"cargolink/internal/cache"
	cachestore "cargolink/internal/cache/store"
	"cargolink/internal/platform/config"
	"cargolink/internal/platform/database"
	"cargolink/internal/platform/health"
	"cargolink/internal/platform/kafka/producer"
	"cargolink/internal/platform/redis"
	"cargolink/migrations"
)

const (
	sweepInterval     = time.Minute
	poolStatsInterval = 15 * time.Second
)

// infra holds the optional backing services. Each falls back to an
// in-process implementation when its URL is not configured.
type infra struct {
	redis        *redis.Client
	memoryCache  *cachestore.Memory
	cacheStore   cache.Store
	db           *database.Pool
	billingStore webhook.TxRunner
	publisher    producer.Publisher
	kafkaEnabled bool
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rdb != nil {
		in.redis = rdb
		in.cacheStore = cachestore.NewRedis(rdb, cachestore.DefaultRedisPrefix)
		log.Info("cache store: redis")
	} else {
		in.memoryCache = cachestore.NewMemory()
		in.cacheStore = in.memoryCache
		log.Info("cache store: in-process memory")
	}

	pool, err := database.New(ctx, cfg.Database)
	if err != nil {
		in.Close(log)
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if pool != nil {
		if err := database.Migrate(ctx, pool.DB(), migrations.FS); err != nil {
			pool.Close() //nolint:errcheck // best-effort cleanup on init failure
			in.Close(log)
			return nil, fmt.Errorf("migrate: %w", err)
		}
		in.db = pool
		in.billingStore = billingstore.NewPostgres(pool.DB())
		log.Info("billing store: postgres")
	} else {
		in.billingStore = billingstore.NewMemory()
		log.Warn("billing store: in-memory, payments are lost on restart")
	}

	if cfg.Kafka.Brokers != "" {
		p, err := producer.New(producer.DefaultConfig(cfg.Kafka.Brokers), log)
		if err != nil {
			in.Close(log)
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		in.publisher = p
		in.kafkaEnabled = true
		log.Info("kafka producer enabled", "brokers", cfg.Kafka.Brokers)
	} else {
		in.publisher = producer.NewNoopProducer()
	}

	return in, nil
}

func (in *infra) registerChecks(h *health.Handler) {
	if in.db != nil {
		h.RegisterCheck("database", in.db.Health)
	}
	if in.redis != nil {
		// The cache bypasses a failing store, so Redis is not required.
		h.RegisterOptionalCheck("redis", in.redis.Health)
	}
	if in.kafkaEnabled {
		h.RegisterOptionalCheck("kafka", func(ctx context.Context) error {
			if !in.publisher.Healthy(ctx) {
				return fmt.Errorf("kafka brokers unreachable")
			}
			return nil
		})
	}
}

func (in *infra) startBackground(ctx context.Context, g *errgroup.Group) {
	if in.memoryCache != nil {
		g.Go(func() error {
			in.memoryCache.RunSweeper(ctx, sweepInterval)
			return nil
		})
	}
	if in.redis != nil {
		g.Go(func() error {
			in.redis.ReportPoolStats(ctx, poolStatsInterval)
			return nil
		})
	}
}

// Close releases every opened backing service.
func (in *infra) Close(log *slog.Logger) {
	if in.publisher != nil {
		if err := in.publisher.Close(); err != nil {
			log.Warn("close kafka producer", "error", err)
		}
	}
	if in.db != nil {
		if err := in.db.Close(); err != nil {
			log.Warn("close database", "error", err)
		}
	}
	if in.redis != nil {
		if err := in.redis.Close(); err != nil {
			log.Warn("close redis", "error", err)
		}
	}
}
