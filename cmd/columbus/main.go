// Command columbus runs the brand-visibility scan agent: a local HTTP API
// plus the auto-scan scheduler.
// Usage: columbus -base-url https://backend.example.com [-addr 127.0.0.1:8717]
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/avistalabs/columbus/internal/app"
	"github.com/avistalabs/columbus/internal/cli"
	"github.com/avistalabs/columbus/internal/logging"
)

func main() {
	args, err := cli.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg := app.DefaultConfig()
	cfg.ServerCfg.ListenAddr = args.Addr
	cfg.StorageRoot = args.StorageRoot
	cfg.BackendCfg.BaseURL = args.BaseURL
	cfg.BackendCfg.APIKey = args.APIKey
	cfg.ScanCfg.Visible = args.Visible
	cfg.AutoScan = !args.NoAutoScan

	logger := logging.NewStdoutLogger("columbus")

	application, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("starting application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
