package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danharris923/flyerflipper/internal/cli"
	"github.com/danharris923/flyerflipper/internal/dealstore"
)

func runCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	cutoffDays := fs.Int("cutoff-days", 7, "Delete items whose sale ended more than this many days ago")
	timeout := fs.Duration("timeout", time.Minute, "Cleanup timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *cutoffDays < 1 {
		fmt.Fprintln(os.Stderr, "--cutoff-days must be >= 1")
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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deals := dealstore.New(pool, logger)
	deleted, err := deals.CleanupExpired(ctx, *cutoffDays)
	if err != nil {
		logger.Error().Err(err).Msg("cleanup failed")
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		return 1
	}

	fmt.Printf("Deleted %d expired deals\n", deleted)
	return 0
}
