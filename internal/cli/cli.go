package cli

import (
	"flag"
	"fmt"
	"strings"
)

// CLIArgs are the command-line arguments for one agent process.
type CLIArgs struct {
	// Addr is the local HTTP listen address.
	Addr string

	// StorageRoot is the base path for the sqlite store and browser profiles.
	StorageRoot string

	// BaseURL is the backend root (required).
	BaseURL string

	// APIKey is the backend API key sent with every request.
	APIKey string

	// Visible opens scan browser windows instead of running headless.
	Visible bool

	// NoAutoScan disables the background scan scheduler.
	NoAutoScan bool

	// RawArgs is the original args slice (useful for debugging/tests).
	RawArgs []string
}

// ParseArgs parses a slice of args and returns CLIArgs. Use in tests by passing
// arbitrary slices. The function is deterministic and does not read os.Args.
func ParseArgs(args []string) (*CLIArgs, error) {
	fs := flag.NewFlagSet("columbus", flag.ContinueOnError)
	var (
		addr       = fs.String("addr", "127.0.0.1:8717", "Local HTTP listen address")
		storage    = fs.String("storage", "~/.config/columbus", "Storage root for database and browser profiles")
		baseURL    = fs.String("base-url", "", "Backend base URL (required)")
		apiKey     = fs.String("api-key", "", "Backend API key")
		visible    = fs.Bool("visible", false, "Open scan browser windows instead of running headless")
		noAutoScan = fs.Bool("no-autoscan", false, "Disable the background scan scheduler")
	)

	// Ensure Parse doesn't write to stdout/stderr in tests
	fs.SetOutput(nil)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if strings.TrimSpace(*baseURL) == "" {
		return nil, fmt.Errorf("missing required -base-url argument")
	}

	return &CLIArgs{
		Addr:        *addr,
		StorageRoot: *storage,
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		APIKey:      *apiKey,
		Visible:     *visible,
		NoAutoScan:  *noAutoScan,
		RawArgs:     args,
	}, nil
}
