package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/danharris923/flyerflipper/internal/cli"
	"github.com/danharris923/flyerflipper/internal/feed"
)

const (
	outputFormatTable = "table"
	outputFormatJSON  = "json"
)

func parseOutputFormat(raw string) (string, error) {
	format := strings.TrimSpace(strings.ToLower(raw))
	switch format {
	case "", outputFormatTable:
		return outputFormatTable, nil
	case outputFormatJSON:
		return outputFormatJSON, nil
	default:
		return "", fmt.Errorf("--format must be table or json")
	}
}

func runSearch(args []string) int {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	areaCode := fs.String("postal-code", "", "Canadian postal code (required)")
	query := fs.String("q", "", "Product search query")
	limit := fs.Int("limit", 25, "Maximum results")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 2*time.Minute, "Search timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	outputFormat, err := parseOutputFormat(*format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
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
	result, err := feedClient.Search(ctx, *areaCode, *query, *limit)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidAreaCode) {
			fmt.Fprintln(os.Stderr, "--postal-code must be a valid Canadian postal code, e.g. K1A0A6")
			return 2
		}
		logger.Error().Err(err).Msg("feed search failed")
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode results: %v\n", err)
			return 1
		}
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "MERCHANT\tNAME\tPRICE\tCATEGORY\tSALE ENDS")
	for _, deal := range result.Items {
		fmt.Fprintf(w, "%s\t%s\t$%.2f\t%s\t%s\n",
			deal.MerchantName,
			truncate(deal.Name, 48),
			deal.Price,
			deal.Category,
			deal.SaleEnd.Format("2006-01-02"),
		)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render results: %v\n", err)
		return 1
	}
	fmt.Printf("\n%d deals (%d raw items from feed)\n", result.Total, result.RawCount)
	return 0
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
