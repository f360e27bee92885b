package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danharris923/flyerflipper/internal/cli"
	"github.com/danharris923/flyerflipper/internal/dealstore"
	"github.com/danharris923/flyerflipper/internal/feed"
)

func runRefresh(args []string) int {
	fs := flag.NewFlagSet("refresh", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	areaCode := fs.String("postal-code", "", "Canadian postal code to refresh (required)")
	timeout := fs.Duration("timeout", 30*time.Minute, "Overall refresh timeout")
	dryRun := fs.Bool("dry-run", false, "Fetch and report without persisting")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	normalized, err := feed.NormalizeAreaCode(*areaCode)
	if err != nil {
		fmt.Fprintln(os.Stderr, "--postal-code must be a valid Canadian postal code, e.g. K1A0A6")
		return 2
	}

	cfg, logger, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	feedClient := newFeedClient(cfg, logger)
	result, err := feedClient.BulkRefresh(ctx, normalized)
	if err != nil {
		logger.Error().Err(err).Msg("bulk refresh failed")
		fmt.Fprintf(os.Stderr, "Refresh failed: %v\n", err)
		return 1
	}

	summary := map[string]any{
		"postal_code":          normalized,
		"fetched":              result.Total,
		"merchants_processed":  result.MerchantsProcessed,
		"successful_merchants": result.SuccessfulMerchants,
		"failed_merchants":     result.FailedMerchants,
		"errors":               result.Errors,
	}

	if !*dryRun {
		pool, poolErr := connectPool(cfg, logger)
		if poolErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", poolErr)
			return 1
		}
		defer pool.Close()

		deals := dealstore.New(pool, logger)
		upsert, saveErr := deals.Upsert(ctx, result.Items)
		if saveErr != nil {
			logger.Error().Err(saveErr).Msg("deal persistence failed")
			fmt.Fprintf(os.Stderr, "Failed to save deals: %v\n", saveErr)
			return 1
		}
		summary["saved"] = upsert.Saved
		summary["updated"] = upsert.Updated
		summary["skipped"] = upsert.Skipped
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode summary: %v\n", err)
		return 1
	}
	return 0
}
