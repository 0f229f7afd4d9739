package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pricing/internal/cache"
	"github.com/noah-isme/backend-pricing/internal/config"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/pricebook"
	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/store"
	"github.com/noah-isme/backend-pricing/internal/usage"
)

// Store is everything the service reads and settles against.
type Store interface {
	cache.Source
	pricing.DiscountStore
	pricing.PromotionStore
	usage.Store
	Ping(ctx context.Context) error
}

// Backend is an opened Store plus its release function.
type Backend struct {
	Store Store
	Close func()
}

// OpenBackend opens the store selected by cfg.Store. Postgres runs migrations first
// when MigrationsAuto is set; memory is filled from the price book.
func OpenBackend(ctx context.Context, cfg *config.Config, service string, logger zerolog.Logger) (*Backend, error) {
	switch cfg.Store {
	case config.StoreMemory:
		mem := store.NewMemory()
		book, err := pricebook.Load(cfg.PricebookPath)
		if err != nil {
			return nil, fmt.Errorf("load price book: %w", err)
		}
		sum, err := book.Apply(ctx, mem)
		if err != nil {
			return nil, fmt.Errorf("apply price book: %w", err)
		}
		logger.Info().Str("path", cfg.PricebookPath).Stringer("loaded", sum).Msg("memory store ready")
		return &Backend{Store: mem, Close: func() {}}, nil
	case config.StorePostgres:
		if cfg.MigrationsAuto {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := NewPool(ctx, cfg.DatabaseURL, service)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: store.NewPostgres(pool), Close: pool.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// NewPool connects a traced pgx pool and pings it.
func NewPool(ctx context.Context, databaseURL, service string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = service

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// NewRedis connects an instrumented Redis client and pings it.
func NewRedis(ctx context.Context, redisURL string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewCalculator builds the calculator over s, reading prices through the Redis
// cache when rdb is set and the TTL is positive.
func NewCalculator(cfg *config.Config, s Store, rdb *redis.Client, logger zerolog.Logger) (*pricing.Calculator, error) {
	var prices pricing.PriceStore = s
	if rdb != nil && cfg.PriceCacheTTL > 0 {
		prices = cache.NewPriceStore(s, cache.NewJSON(rdb, cfg.PriceCacheTTL), logger)
	}
	return pricing.NewCalculator(pricing.CalculatorConfig{
		Prices:         prices,
		Discounts:      s,
		Promotions:     s,
		AutoPromotions: cfg.AutoPromotions,
		MinMarginPct:   cfg.MinMarginPct,
		Logger:         logger,
	})
}
