package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/danharris923/flyerflipper/internal/cli"
	"github.com/danharris923/flyerflipper/internal/dealstore"
	"github.com/danharris923/flyerflipper/internal/match"
)

func runCompare(args []string) int {
	fs := flag.NewFlagSet("compare", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	product := fs.String("product", "", "Product name to compare (required)")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 30*time.Second, "Query timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *product == "" {
		fmt.Fprintln(os.Stderr, "--product is required")
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

	pool, err := connectPool(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	deals := dealstore.New(pool, logger)
	items, err := deals.ActiveDealsMatching(ctx, *product, 200)
	if err != nil {
		logger.Error().Err(err).Msg("deal lookup failed")
		fmt.Fprintf(os.Stderr, "Comparison failed: %v\n", err)
		return 1
	}
	if len(items) == 0 {
		fmt.Fprintf(os.Stderr, "No active deals found for %q\n", *product)
		return 1
	}

	matcher, err := match.New(match.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize matcher: %v\n", err)
		return 1
	}

	candidates := make([]match.Candidate, len(items))
	for i, item := range items {
		candidates[i] = match.Candidate{Name: item.Name, Price: item.Price}
	}
	ranked := matcher.FilterAndRank(*product, candidates)
	if len(ranked) == 0 {
		fmt.Fprintf(os.Stderr, "No relevant deals found for %q\n", *product)
		return 1
	}

	stores, err := deals.ListStores(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load stores: %v\n", err)
		return 1
	}
	storeNames := make(map[int64]string, len(stores))
	for _, store := range stores {
		storeNames[store.ID] = store.Name
	}

	if outputFormat == outputFormatJSON {
		type comparison struct {
			Name   string  `json:"name"`
			Store  string  `json:"store_name"`
			Price  float64 `json:"price"`
			Score  float64 `json:"match_score"`
			Reason string  `json:"relevance_reason"`
		}
		out := make([]comparison, 0, len(ranked))
		for _, m := range ranked {
			item := items[m.Index]
			out = append(out, comparison{
				Name:   item.Name,
				Store:  storeNames[item.StoreID],
				Price:  item.Price,
				Score:  m.Score,
				Reason: m.Reason,
			})
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode results: %v\n", err)
			return 1
		}
		return 0
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STORE\tNAME\tPRICE\tSCORE\tWHY")
	for _, m := range ranked {
		item := items[m.Index]
		fmt.Fprintf(w, "%s\t%s\t$%.2f\t%.2f\t%s\n",
			storeNames[item.StoreID],
			truncate(item.Name, 48),
			item.Price,
			m.Score,
			m.Reason,
		)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render results: %v\n", err)
		return 1
	}
	return 0
}
