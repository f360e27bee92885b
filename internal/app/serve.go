package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danharris923/flyerflipper/internal/cache"
	"github.com/danharris923/flyerflipper/internal/cli"
	"github.com/danharris923/flyerflipper/internal/dealstore"
	"github.com/danharris923/flyerflipper/internal/httpapi"
	"github.com/danharris923/flyerflipper/internal/match"
	"github.com/danharris923/flyerflipper/internal/observability"
	"github.com/danharris923/flyerflipper/internal/places"
	"github.com/danharris923/flyerflipper/internal/scheduler"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8080, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	noScheduler := fs.Bool("no-scheduler", false, "Serve the API without background jobs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	pool, err := connectPool(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	observability.MustRegister()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	feedClient := newFeedClient(cfg, logger)
	deals := dealstore.New(pool, logger)

	matcher, err := match.New(match.Options{})
	if err != nil {
		logger.Error().Err(err).Msg("matcher initialization failed")
		fmt.Fprintf(os.Stderr, "Failed to initialize matcher: %v\n", err)
		return 1
	}

	placesAPI := places.New(logger, places.Options{
		APIKey:        cfg.PlacesAPIKey,
		BaseURL:       cfg.PlacesBaseURL,
		RatePerSecond: cfg.PlacesRateLimit,
	})

	searches := cache.New(ctx, cfg.RedisURL, time.Duration(cfg.SearchCacheTTLMinutes)*time.Minute, logger)
	defer searches.Close()

	sched := scheduler.New(*cfg, feedClient, deals, placesAPI, searches, logger, scheduler.Options{})
	if !*noScheduler {
		if err := sched.Start(); err != nil {
			logger.Error().Err(err).Msg("scheduler start failed")
			fmt.Fprintf(os.Stderr, "Failed to start scheduler: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *shutdownTimeout)
			defer shutdownCancel()
			_ = sched.Shutdown(shutdownCtx)
		}()
	}

	srv := httpapi.NewServer(pool, deals, feedClient, matcher, placesAPI, searches, sched, *cfg, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
