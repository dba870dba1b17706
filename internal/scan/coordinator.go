package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/avistalabs/columbus/internal/interfaces"
	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
)

// Precondition errors returned synchronously by Start. Everything that goes
// wrong after Start returns surfaces through the event stream instead.
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoPrompts        = errors.New("no prompts found for this product")
)

// Deps are the external collaborators a Coordinator drives.
type Deps struct {
	Sessions interfaces.SessionProvider
	Driver   interfaces.PlatformDriver
	Tokens   interfaces.TokenSource
	Prompts  interfaces.PromptSource
	Reporter interfaces.Reporter
	Auth     interfaces.AuthStatus
	Pacer    Pacer
	Logger   logging.Logger
}

// Coordinator is the top-level scan state machine: it owns the scan slot,
// fans tasks out into one lane per platform, aggregates lane outcomes into a
// report and exposes progress snapshots, an event stream and cancellation.
type Coordinator struct {
	cfg   Config
	deps  Deps
	state *State

	mu        sync.Mutex
	cancelRun context.CancelFunc

	subsMu sync.Mutex
	subs   map[chan Event]struct{}
}

func NewCoordinator(cfg Config, deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = logging.NewStdoutLogger("scan")
	}
	if deps.Pacer == nil {
		deps.Pacer = platform.Table{}
	}
	return &Coordinator{
		cfg:   cfg,
		deps:  deps,
		state: NewState(),
		subs:  make(map[chan Event]struct{}),
	}
}

// Start validates preconditions synchronously, claims the scan slot, builds
// the task set and kicks off the lanes. It returns before any session work
// happens; the scan completes asynchronously through the event stream.
func (c *Coordinator) Start(ctx context.Context, productID string, samples int, platforms []platform.Platform) error {
	if len(platforms) == 0 {
		platforms = platform.Default()
	}
	if samples < 1 {
		samples = 1
	}

	scanSessionID := uuid.New().String()
	if err := c.state.Begin(scanSessionID, productID); err != nil {
		return err
	}

	token, err := c.deps.Tokens.EnsureValidToken(ctx)
	if err != nil {
		c.state.Abort()
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}

	pr, err := c.deps.Prompts.FetchPrompts(ctx, productID, token)
	if err != nil {
		c.state.Abort()
		return fmt.Errorf("fetching prompts: %w", err)
	}
	if len(pr.Prompts) == 0 {
		c.state.Abort()
		return ErrNoPrompts
	}

	req := Request{
		ProductID:     productID,
		ScanSessionID: scanSessionID,
		Prompts:       pr.Prompts,
		Samples:       samples,
		Platforms:     platforms,
		Regions:       ResolveRegions(pr.Prompts),
	}

	tasks, err := BuildTasks(req, c.deps.Auth)
	if err != nil {
		c.state.Abort()
		return err
	}

	perPlatform := make(map[platform.Platform]int)
	for _, t := range tasks {
		perPlatform[t.Platform]++
	}
	c.state.InitTotals(perPlatform, platforms)
	c.emitProgress()

	c.deps.Logger.Info("scan started",
		logging.Field{Key: "scan_session_id", Value: scanSessionID},
		logging.Field{Key: "product_id", Value: productID},
		logging.Field{Key: "tasks", Value: len(tasks)},
		logging.Field{Key: "regions", Value: req.Regions})

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()

	sink := newResultSink(c.deps.Reporter, c.deps.Logger, token, productID, scanSessionID)
	go c.run(runCtx, tasks, platforms, sink, pr.BrandContext())

	return nil
}

// run executes the scan body: one lane per platform, all concurrent, then
// aggregation and finalization. Runs detached from the Start caller.
func (c *Coordinator) run(ctx context.Context, tasks []Task, requested []platform.Platform, sink *ResultSink, brand model.BrandContext) {
	defer func() {
		c.mu.Lock()
		if c.cancelRun != nil {
			c.cancelRun()
			c.cancelRun = nil
		}
		c.mu.Unlock()
	}()

	byPlatform := make(map[platform.Platform][]Task)
	for _, t := range tasks {
		byPlatform[t.Platform] = append(byPlatform[t.Platform], t)
	}

	var lanes []*lane
	for _, p := range requested {
		laneTasks := byPlatform[p]
		if len(laneTasks) == 0 {
			continue
		}
		lanes = append(lanes, &lane{
			platform: p,
			tasks:    laneTasks,
			state:    c.state,
			sink:     sink,
			logger:   c.deps.Logger.With(logging.Field{Key: "component", Value: "lane:" + p.String()}),
			lc: &lifecycle{
				cfg:           c.cfg,
				state:         c.state,
				sessions:      c.deps.Sessions,
				driver:        c.deps.Driver,
				pacer:         c.deps.Pacer,
				brand:         brand,
				logger:        c.deps.Logger,
				emitProgress:  c.emitProgress,
				emitCountdown: c.emitCountdown,
			},
			emitProgress: c.emitProgress,
		})
	}

	results := make([]LaneResult, len(lanes))
	g, gctx := errgroup.WithContext(ctx)
	for i, l := range lanes {
		i, l := i, l
		g.Go(func() error {
			results[i] = l.run(gctx)
			return nil
		})
	}
	_ = g.Wait()

	var collected, mentioned, cited, failed int
	cancelled := false
	for _, r := range results {
		collected += r.Collected
		mentioned += r.Mentioned
		cited += r.Cited
		failed += r.Failed
		cancelled = cancelled || r.Cancelled
	}

	// Sweep anything a lane left open (should be nothing on the happy path).
	c.deps.Sessions.CloseAll()

	if cancelled || !c.state.Running() {
		c.state.Finish(PhaseCancelled)
		c.deps.Logger.Info("scan cancelled",
			logging.Field{Key: "collected", Value: collected})
		c.emitTerminal(Event{Type: EventCancelled, Phase: PhaseCancelled})
		return
	}

	// Refresh the token once more before finalize; fall back to the one the
	// sink already holds.
	finalToken := ""
	if c.deps.Tokens != nil {
		if t, err := c.deps.Tokens.EnsureValidToken(ctx); err == nil {
			finalToken = t
		}
	}
	sink.Finalize(ctx, finalToken)

	report := model.NewScanReport(len(tasks), collected, mentioned, cited)
	c.state.Finish(PhaseComplete)
	c.deps.Logger.Info("scan complete",
		logging.Field{Key: "total", Value: report.TotalPrompts},
		logging.Field{Key: "collected", Value: report.SuccessfulPrompts},
		logging.Field{Key: "failed", Value: failed},
		logging.Field{Key: "mention_rate", Value: report.MentionRate})
	c.emitTerminal(Event{Type: EventComplete, Phase: PhaseComplete, Report: &report})
}

// Cancel is the emergency stop: it flips the running flag, then force-closes
// every session still registered. Safe to call at any time, including when no
// scan is running, and never blocks on scan work.
func (c *Coordinator) Cancel() {
	labels := c.state.CancelAndDrain()

	c.mu.Lock()
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.mu.Unlock()

	for _, label := range labels {
		c.deps.Sessions.ForceClose(label)
	}
	if len(labels) > 0 {
		c.deps.Logger.Info("cancelled scan, force-closed sessions",
			logging.Field{Key: "count", Value: len(labels)})
	}
}

// Progress returns a read-only snapshot of the scan state.
func (c *Coordinator) Progress() Progress {
	return c.state.Snapshot()
}

// IsRunning reports whether a scan is currently in flight.
func (c *Coordinator) IsRunning() bool {
	return c.state.Running()
}

// Subscribe registers a progress observer. The returned channel is buffered
// and written with non-blocking sends; slow consumers drop events rather than
// stalling lanes. The cancel func must be called when done.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	unsubscribe := func() {
		c.subsMu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.subsMu.Unlock()
	}
	return ch, unsubscribe
}

func (c *Coordinator) emit(ev Event) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Coordinator) emitProgress() {
	snap := c.state.Snapshot()
	c.emit(Event{
		Type:      EventProgress,
		Phase:     snap.Phase,
		Completed: snap.Completed,
		Total:     snap.Total,
		Platforms: snap.Platforms,
	})
}

func (c *Coordinator) emitCountdown(remainingSeconds int) {
	snap := c.state.Snapshot()
	c.emit(Event{
		Type:             EventProgress,
		Phase:            snap.Phase,
		Completed:        snap.Completed,
		Total:            snap.Total,
		Platforms:        snap.Platforms,
		CountdownSeconds: &remainingSeconds,
	})
}

func (c *Coordinator) emitTerminal(ev Event) {
	snap := c.state.Snapshot()
	ev.Completed = snap.Completed
	ev.Total = snap.Total
	ev.Platforms = snap.Platforms
	c.emit(ev)
}
