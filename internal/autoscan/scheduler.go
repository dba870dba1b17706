// Package autoscan runs scheduled scans without user interaction. A
// once-a-minute tick checks every configured product against its daily
// schedule and runs whatever is due, one scan at a time.
package autoscan

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/avistalabs/columbus/internal/interfaces"
	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/platform"
	"github.com/avistalabs/columbus/internal/retry"
	"github.com/avistalabs/columbus/internal/storage"
)

// Scanner is the scan entry point the scheduler drives. The scan coordinator
// is the production implementation.
type Scanner interface {
	Start(ctx context.Context, productID string, samples int, platforms []platform.Platform) error
	IsRunning() bool
}

// ConfigStore is the product-config persistence the scheduler reads and
// updates. storage.Store is the production implementation.
type ConfigStore interface {
	AllProductConfigs(ctx context.Context) (map[string]storage.ProductConfig, error)
	ProductConfigFor(ctx context.Context, productID string) (storage.ProductConfig, error)
	SaveProductConfig(ctx context.Context, productID string, cfg storage.ProductConfig) error
}

// ProductSource lists the products the signed-in account can scan.
type ProductSource interface {
	ProductIDs(ctx context.Context, token string) ([]string, error)
}

// Deps are the scheduler's collaborators.
type Deps struct {
	Tokens   interfaces.TokenSource
	Products ProductSource
	Store    ConfigStore
	Scanner  Scanner
	Logger   logging.Logger
}

// Scheduler owns the cron loop. One instance per process.
type Scheduler struct {
	deps Deps
	cron *cron.Cron

	// now and waitPoll are swapped out in tests.
	now      func() time.Time
	waitPoll time.Duration
}

func NewScheduler(deps Deps) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = logging.NewStdoutLogger("autoscan")
	}
	return &Scheduler{
		deps:     deps,
		cron:     cron.New(),
		now:      time.Now,
		waitPoll: 5 * time.Second,
	}
}

// Start begins the once-a-minute schedule check. The returned error only
// signals a bad cron spec, which cannot happen with the fixed expression.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 55*time.Minute)
		defer cancel()
		s.check(ctx)
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.deps.Logger.Info("auto-scan scheduler started")
	return nil
}

// Stop halts the cron loop; a scan already in flight keeps running.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.deps.Logger.Info("auto-scan scheduler stopped")
}

// check is one scheduler pass: refresh auth, discover products, and run every
// scan that is due. Exposed to tests through deterministic clocks.
func (s *Scheduler) check(ctx context.Context) {
	token, err := s.deps.Tokens.EnsureValidToken(ctx)
	if err != nil {
		s.deps.Logger.Debug("not authenticated, skipping check",
			logging.Field{Key: "error", Value: err.Error()})
		return
	}

	var productIDs []string
	err = retry.Do(ctx, 5, 2*time.Second, s.deps.Logger, func() error {
		var fetchErr error
		productIDs, fetchErr = s.deps.Products.ProductIDs(ctx, token)
		return fetchErr
	})
	if err != nil {
		s.deps.Logger.Warn("failed to fetch products",
			logging.Field{Key: "error", Value: err.Error()})
		return
	}
	if len(productIDs) == 0 {
		return
	}

	configs, err := s.deps.Store.AllProductConfigs(ctx)
	if err != nil {
		s.deps.Logger.Warn("failed to load product configs",
			logging.Field{Key: "error", Value: err.Error()})
		return
	}

	accessible := make(map[string]bool, len(productIDs))
	for _, id := range productIDs {
		accessible[id] = true
	}

	// Stable ordering keeps each product's schedule offset consistent
	// between passes.
	var ids []string
	for id := range configs {
		if accessible[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	now := s.now()
	today := now.Format("2006-01-02")
	currentHour := now.Hour()

	for idx, productID := range ids {
		s.checkProduct(ctx, productID, configs[productID], idx, len(ids), today, currentHour)
	}
}

func (s *Scheduler) checkProduct(ctx context.Context, productID string, cfg storage.ProductConfig, productIndex, totalProducts int, today string, currentHour int) {
	log := s.deps.Logger.With(logging.Field{Key: "product_id", Value: productID})

	if !cfg.AutoRunEnabled || len(cfg.ReadyPlatforms) == 0 {
		return
	}

	expected := scheduledTimes(cfg, productIndex, totalProducts)
	isNewDay := cfg.LastAutoScanDate != today

	switch {
	case isNewDay:
		cfg.LastAutoScanDate = today
		cfg.ScansToday = 0
		cfg.ScheduledTimes = expected
		s.saveConfig(ctx, productID, cfg, log)
		log.Info("new day, schedule reset",
			logging.Field{Key: "times", Value: cfg.ScheduledTimes})
	case len(cfg.ScheduledTimes) > 0 && !sameInts(cfg.ScheduledTimes, expected) && cfg.ScansToday == 0:
		// Product set changed; redistribute before anything has run today.
		cfg.ScheduledTimes = expected
		s.saveConfig(ctx, productID, cfg, log)
	case len(cfg.ScheduledTimes) == 0:
		cfg.ScheduledTimes = expected
		s.saveConfig(ctx, productID, cfg, log)
	}

	if cfg.ScansToday >= len(cfg.ScheduledTimes) {
		return
	}
	nextHour := cfg.ScheduledTimes[cfg.ScansToday]
	if currentHour < nextHour {
		return
	}

	if s.deps.Scanner.IsRunning() {
		log.Info("scan already in progress, will retry next check")
		return
	}

	platforms := parsePlatforms(cfg.ReadyPlatforms)
	log.Info("starting scheduled scan",
		logging.Field{Key: "slot", Value: cfg.ScansToday + 1},
		logging.Field{Key: "of", Value: len(cfg.ScheduledTimes)},
		logging.Field{Key: "scheduled_hour", Value: nextHour})

	if err := s.runScan(ctx, productID, cfg.SamplesPerPrompt, platforms); err != nil {
		log.Warn("scheduled scan failed",
			logging.Field{Key: "error", Value: err.Error()})
	}

	// Advance the slot either way so a failing scan is not retried all day.
	updated, err := s.deps.Store.ProductConfigFor(ctx, productID)
	if err != nil {
		log.Warn("failed to reload config after scan",
			logging.Field{Key: "error", Value: err.Error()})
		updated = cfg
	}
	updated.ScansToday++
	updated.LastAutoScanDate = today
	s.saveConfig(ctx, productID, updated, log)
}

// runScan starts the scan and blocks until it has drained, so products run
// strictly one after another.
func (s *Scheduler) runScan(ctx context.Context, productID string, samples int, platforms []platform.Platform) error {
	if err := s.deps.Scanner.Start(ctx, productID, samples, platforms); err != nil {
		return err
	}
	for s.deps.Scanner.IsRunning() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.waitPoll):
		}
	}
	return nil
}

func (s *Scheduler) saveConfig(ctx context.Context, productID string, cfg storage.ProductConfig, log logging.Logger) {
	if err := s.deps.Store.SaveProductConfig(ctx, productID, cfg); err != nil {
		log.Warn("failed to save product config",
			logging.Field{Key: "error", Value: err.Error()})
	}
}

func parsePlatforms(raw []string) []platform.Platform {
	out := make([]platform.Platform, 0, len(raw))
	for _, r := range raw {
		p, err := platform.Parse(r)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}
