package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/danharris923/flyerflipper/internal/cli"
	"github.com/danharris923/flyerflipper/internal/config"
	"github.com/danharris923/flyerflipper/internal/db"
	"github.com/danharris923/flyerflipper/internal/feed"
	"github.com/danharris923/flyerflipper/internal/langdetect"
	"github.com/danharris923/flyerflipper/internal/logging"
)

// bootstrap is the shared command setup: env file, config, logger.
func bootstrap(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("initialize logger: %w", err)
	}

	return cfg, logger, nil
}

func connectPool(cfg *config.Config, logger zerolog.Logger) (*db.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("database connection failed")
		return nil, err
	}
	return pool, nil
}

func newFeedClient(cfg *config.Config, logger zerolog.Logger) *feed.Client {
	return feed.NewClient(logger, feed.Options{
		BaseURL:        cfg.FeedBaseURL,
		Locale:         cfg.FeedLocale,
		RatePerSecond:  cfg.FeedRateLimit,
		DetectLanguage: langdetect.DetectISO6391,
	})
}
