// Package app wires the CLI commands together.
package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "serve":
		return runServe(args[1:])
	case "refresh":
		return runRefresh(args[1:])
	case "search":
		return runSearch(args[1:])
	case "compare":
		return runCompare(args[1:])
	case "cleanup":
		return runCleanup(args[1:])
	case "hash-key":
		return runHashKey(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "flyerflipper CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  flyerflipper <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health    Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  serve     Start the API server and background scheduler")
	fmt.Fprintln(os.Stderr, "  refresh   Fetch and persist deals for a postal code")
	fmt.Fprintln(os.Stderr, "  search    Search the flyer feed without persisting")
	fmt.Fprintln(os.Stderr, "  compare   Compare prices for a product across stores")
	fmt.Fprintln(os.Stderr, "  cleanup   Delete expired flyer items")
	fmt.Fprintln(os.Stderr, "  hash-key  Hash an admin API key for ADMIN_KEY_HASH")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"flyerflipper <command> -h\" for command-specific flags.")
}
