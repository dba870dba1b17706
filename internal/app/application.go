// Package app is the composition root: it builds the storage, backend,
// session, scan, scheduler and HTTP layers and runs them as one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/avistalabs/columbus/internal/autoscan"
	"github.com/avistalabs/columbus/internal/backend"
	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/platform"
	"github.com/avistalabs/columbus/internal/scan"
	"github.com/avistalabs/columbus/internal/server"
	"github.com/avistalabs/columbus/internal/session"
	"github.com/avistalabs/columbus/internal/storage"
)

// Application holds the wired runtime services. Build one with New, run it
// with Run, tear it down with Close.
type Application struct {
	Config *Config
	Logger logging.Logger

	Store     *storage.Store
	Backend   *backend.Client
	Sessions  *session.Manager
	Scanner   *scan.Coordinator
	Scheduler *autoscan.Scheduler
	Server    *server.Server
}

// New constructs the full service graph. Nothing is started yet; browser
// sessions only appear once a scan runs.
func New(cfg *Config, logger logging.Logger) (*Application, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("app")
	}

	root, err := expandPath(cfg.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("expanding storage root path: %w", err)
	}
	cfg.StorageRoot = root

	store, err := storage.Open(root, logger.With(logging.Field{Key: "component", Value: "storage"}))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	client := backend.NewClient(cfg.BackendCfg, store, logger.With(logging.Field{Key: "component", Value: "backend"}))
	sessions := session.NewManager(cfg.SessionCfg, store, logger.With(logging.Field{Key: "component", Value: "session"}))
	driver := session.NewDriver(logger.With(logging.Field{Key: "component", Value: "driver"}))

	scanner := scan.NewCoordinator(cfg.ScanCfg, scan.Deps{
		Sessions: sessions,
		Driver:   driver,
		Tokens:   client,
		Prompts:  client,
		Reporter: client,
		Auth:     store,
		Pacer:    platform.Table{},
		Logger:   logger.With(logging.Field{Key: "component", Value: "scan"}),
	})

	scheduler := autoscan.NewScheduler(autoscan.Deps{
		Tokens:   client,
		Products: client,
		Store:    store,
		Scanner:  scanner,
		Logger:   logger.With(logging.Field{Key: "component", Value: "autoscan"}),
	})

	srv := server.NewServer(cfg.ServerCfg, server.Deps{
		Scanner: scanner,
		Store:   store,
	})

	return &Application{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Backend:   client,
		Sessions:  sessions,
		Scanner:   scanner,
		Scheduler: scheduler,
		Server:    srv,
	}, nil
}

// Run serves the HTTP API and, when enabled, the auto-scan scheduler, until
// ctx is cancelled or the listener fails.
func (a *Application) Run(ctx context.Context) error {
	httpServer := a.Server.HTTPServer()

	if a.Config.AutoScan {
		if err := a.Scheduler.Start(); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening",
			logging.Field{Key: "addr", Value: a.Config.ServerCfg.ListenAddr})
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Close()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	a.Close()
	return nil
}

// Close tears down background work and releases every held resource. Safe to
// call more than once.
func (a *Application) Close() {
	if a.Config.AutoScan {
		a.Scheduler.Stop()
	}
	a.Scanner.Cancel()
	a.Sessions.CloseAll()
	if err := a.Store.Close(); err != nil {
		a.Logger.Warn("closing storage", logging.Field{Key: "error", Value: err.Error()})
	}
	a.Logger.Info("application shut down")
}

func expandPath(p string) (string, error) {
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
