package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-pricing/internal/app"
	"github.com/noah-isme/backend-pricing/internal/cache"
	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/pricebook"
	"github.com/noah-isme/backend-pricing/internal/store"
)

func main() {
	path := flag.String("file", "pricebook.yaml", "price book to load")
	migrateFirst := flag.Bool("migrate", true, "apply migrations before seeding")
	purge := flag.Bool("purge-cache", true, "drop cached prices after seeding")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL")).With().Str("component", "seeder").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	book, err := pricebook.Load(*path)
	if err != nil {
		logger.Fatal().Err(err).Msg("load price book")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *migrateFirst {
		if err := store.Migrate(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	pool, err := app.NewPool(ctx, dbURL, "pricing-seeder")
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	sum, err := book.Apply(ctx, store.NewPostgres(pool))
	if err != nil {
		logger.Fatal().Err(err).Stringer("written", sum).Msg("seed price book")
	}
	logger.Info().Str("file", *path).Stringer("written", sum).Msg("price book seeded")

	if redisURL := os.Getenv("REDIS_URL"); *purge && redisURL != "" {
		rdb, err := app.NewRedis(ctx, redisURL, false, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("skip cache purge")
			return
		}
		defer rdb.Close()
		n, err := cache.NewJSON(rdb, time.Minute).Purge(ctx, cache.KeyPattern)
		if err != nil {
			logger.Warn().Err(err).Msg("purge price cache")
			return
		}
		logger.Info().Int("keys", n).Msg("price cache purged")
	}
}
