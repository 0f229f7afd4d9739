package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-pricing/internal/obs"
	"github.com/noah-isme/backend-pricing/internal/store"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(os.Getenv("OBS_LOG_FORMAT"), os.Getenv("OBS_LOG_LEVEL")).With().Str("component", "migrate").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	if *down {
		if err := store.MigrateDown(dbURL); err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
	} else if err := store.Migrate(dbURL); err != nil {
		logger.Fatal().Err(err).Msg("migrate up")
	}

	version, dirty, err := store.MigrationVersion(dbURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("read migration version")
	}
	logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
}
