package app

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danharris923/flyerflipper/internal/auth"
)

func runHashKey(args []string) int {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	key := fs.String("key", "", "Admin API key to hash (required)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	hash, err := auth.HashKey(*key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to hash key: %v\n", err)
		return 2
	}

	fmt.Println(hash)
	return 0
}
