package scan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
	"github.com/avistalabs/columbus/internal/testutil"
)

// ─── Harness ───────────────────────────────────────────────────────────

type coordinatorFixture struct {
	coord    *Coordinator
	sessions *testutil.DummySessionProvider
	driver   *testutil.DummyDriver
	reporter *testutil.DummyReporter
	prompts  *testutil.DummyPromptSource
	tokens   *testutil.DummyTokenSource
	auth     *testutil.DummyAuth
}

func fastConfig() Config {
	return Config{
		SettleDelay:  5 * time.Millisecond,
		SettlePoll:   time.Millisecond,
		ResponsePoll: 2 * time.Millisecond,
		TwoStepDelay: 2 * time.Millisecond,
	}
}

func newFixture(t *testing.T, prompts []model.Prompt, pacer Pacer) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		sessions: &testutil.DummySessionProvider{},
		driver:   &testutil.DummyDriver{},
		reporter: &testutil.DummyReporter{},
		tokens:   &testutil.DummyTokenSource{},
		auth:     &testutil.DummyAuth{},
		prompts: &testutil.DummyPromptSource{Response: &model.PromptsResponse{
			Product: model.ProductInfo{ID: "prod-1", Brand: "Acme", Domain: "acme.com"},
			Prompts: prompts,
		}},
	}
	if pacer == nil {
		pacer = testutil.FakePacer{Wait: 10 * time.Millisecond, Concurrent: 1}
	}
	f.coord = NewCoordinator(fastConfig(), Deps{
		Sessions: f.sessions,
		Driver:   f.driver,
		Tokens:   f.tokens,
		Prompts:  f.prompts,
		Reporter: f.reporter,
		Auth:     f.auth,
		Pacer:    pacer,
		Logger:   &testutil.DummyLogger{},
	})
	return f
}

func awaitDone(t *testing.T, c *Coordinator) {
	t.Helper()
	require.Eventually(t, func() bool { return !c.IsRunning() },
		5*time.Second, 2*time.Millisecond, "scan did not finish")
}

func awaitTerminal(t *testing.T, events <-chan Event) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event channel closed before terminal event")
			}
			if ev.Type != EventProgress {
				return ev
			}
		case <-deadline:
			t.Fatal("no terminal event")
		}
	}
}

// ─── Scenario ──────────────────────────────────────────────────────────

// One untargeted prompt, one platform, one sample: a single task runs
// acquire → settle → submit → wait → collect → release and produces a report
// with one successful prompt.
func TestCoordinator_SingleTaskScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "best crm?"}}, nil)

	events, unsubscribe := f.coord.Subscribe()
	defer unsubscribe()

	err := f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Claude})
	require.NoError(t, err)

	ev := awaitTerminal(t, events)
	awaitDone(t, f.coord)

	require.Equal(t, EventComplete, ev.Type)
	require.NotNil(t, ev.Report)
	assert.Equal(t, 1, ev.Report.TotalPrompts)
	assert.Equal(t, 1, ev.Report.SuccessfulPrompts)
	assert.Equal(t, 100.0, ev.Report.MentionRate)

	assert.Equal(t, 1, f.sessions.AcquireCount())
	assert.Equal(t, 1, f.sessions.ReleaseCount())
	assert.Empty(t, f.sessions.Open())

	assert.Equal(t, 1, f.reporter.ResultCount())
	assert.Equal(t, 1, f.reporter.FinalizeCount())
	assert.Equal(t, PhaseComplete, f.coord.Progress().Phase)
}

// ─── Preconditions ─────────────────────────────────────────────────────

func TestCoordinator_SecondStartRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "q"}},
		testutil.FakePacer{Wait: 30 * time.Second, Concurrent: 1})

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Claude}))
	err := f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Claude})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	f.coord.Cancel()
	awaitDone(t, f.coord)
}

func TestCoordinator_NotAuthenticated(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "q"}}, nil)
	f.tokens.Err = assert.AnError

	err := f.coord.Start(context.Background(), "prod-1", 1, nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.False(t, f.coord.IsRunning())
	assert.Zero(t, f.sessions.AcquireCount())
}

func TestCoordinator_NoPrompts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)

	err := f.coord.Start(context.Background(), "prod-1", 1, nil)
	assert.ErrorIs(t, err, ErrNoPrompts)
	assert.False(t, f.coord.IsRunning())
}

func TestCoordinator_NoPlatformsAvailable(t *testing.T) {
	t.Parallel()
	// Geo-targeted prompt with nothing authenticated: no admitted pair.
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "q", TargetRegions: []string{"us"}}}, nil)

	err := f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.ChatGPT})
	assert.ErrorIs(t, err, ErrNoPlatforms)
	assert.False(t, f.coord.IsRunning())
	assert.Zero(t, f.sessions.AcquireCount())
}

func TestCoordinator_CanStartAgainAfterCompletion(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "q"}}, nil)

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Gemini}))
	awaitDone(t, f.coord)
	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Gemini}))
	awaitDone(t, f.coord)

	assert.Equal(t, 2, f.sessions.AcquireCount())
}

// ─── Failure isolation & session hygiene ───────────────────────────────

// Every acquired session is released exactly once, whatever the exit path:
// collect success, submit failure, collect failure.
func TestCoordinator_NoOrphanedSessions(t *testing.T) {
	t.Parallel()
	prompts := []model.Prompt{
		{ID: "p1", Text: "a"},
		{ID: "p2", Text: "b"},
		{ID: "p3", Text: "c"},
		{ID: "p4", Text: "d"},
	}
	f := newFixture(t, prompts, nil)
	f.driver.FailSubmits = 1
	f.driver.FailCollects = 1

	events, unsubscribe := f.coord.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Claude}))
	ev := awaitTerminal(t, events)
	awaitDone(t, f.coord)

	require.Equal(t, EventComplete, ev.Type)
	assert.Equal(t, f.sessions.AcquireCount(), f.sessions.ReleaseCount())
	assert.Empty(t, f.sessions.Open())

	require.NotNil(t, ev.Report)
	assert.Equal(t, 4, ev.Report.TotalPrompts)
	assert.Equal(t, 2, ev.Report.SuccessfulPrompts)

	snap := f.coord.Progress()
	assert.Equal(t, 2, snap.Platforms[platform.Claude].Failed)
}

func TestCoordinator_AcquireFailureDoesNotAbortLane(t *testing.T) {
	t.Parallel()
	prompts := []model.Prompt{{ID: "p1", Text: "a"}, {ID: "p2", Text: "b"}}
	f := newFixture(t, prompts, nil)
	f.sessions.FailAcquires = 1

	events, unsubscribe := f.coord.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Gemini}))
	ev := awaitTerminal(t, events)
	awaitDone(t, f.coord)

	require.Equal(t, EventComplete, ev.Type)
	assert.Equal(t, 1, ev.Report.SuccessfulPrompts)
	assert.Equal(t, 1, f.coord.Progress().Platforms[platform.Gemini].Failed)
	assert.Equal(t, f.sessions.AcquireCount(), f.sessions.ReleaseCount())
}

// Reporting failures are swallowed: the in-memory outcome is unaffected.
func TestCoordinator_ReporterFailuresAreBestEffort(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "q"}}, nil)
	f.reporter.SubmitErr = assert.AnError
	f.reporter.FinalizeErr = assert.AnError

	events, unsubscribe := f.coord.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Claude}))
	ev := awaitTerminal(t, events)
	awaitDone(t, f.coord)

	require.Equal(t, EventComplete, ev.Type)
	assert.Equal(t, 1, ev.Report.SuccessfulPrompts)
}

// ─── Rates ─────────────────────────────────────────────────────────────

func TestCoordinator_RatesZeroWhenNothingCollected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "q"}}, nil)
	f.driver.FailCollects = 1

	events, unsubscribe := f.coord.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Claude}))
	ev := awaitTerminal(t, events)
	awaitDone(t, f.coord)

	require.Equal(t, EventComplete, ev.Type)
	assert.Equal(t, 0, ev.Report.SuccessfulPrompts)
	assert.Equal(t, 0.0, ev.Report.MentionRate)
	assert.Equal(t, 0.0, ev.Report.CitationRate)
}

func TestCoordinator_RatesBounded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "a"}, {ID: "p2", Text: "b"}}, nil)
	f.driver.Response = &model.CollectResponse{
		ResponseText:    "Acme is great, see acme.com",
		BrandMentioned:  true,
		CitationPresent: true,
	}

	events, unsubscribe := f.coord.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Claude}))
	ev := awaitTerminal(t, events)
	awaitDone(t, f.coord)

	require.Equal(t, EventComplete, ev.Type)
	assert.Equal(t, 100.0, ev.Report.MentionRate)
	assert.Equal(t, 100.0, ev.Report.CitationRate)
}

// ─── Cancellation ──────────────────────────────────────────────────────

// Cancel during the long response wait: observed within a poll interval, all
// registered sessions force-closed or released, no new sessions acquired
// afterwards, terminal event is cancelled (no report).
func TestCoordinator_CancelDuringWait(t *testing.T) {
	t.Parallel()
	prompts := []model.Prompt{{ID: "p1", Text: "a"}, {ID: "p2", Text: "b"}}
	f := newFixture(t, prompts, testutil.FakePacer{Wait: 30 * time.Second, Concurrent: 1})

	events, unsubscribe := f.coord.Subscribe()
	defer unsubscribe()

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.Claude}))

	// Let the first task get its session open and into the wait.
	require.Eventually(t, func() bool { return f.driver.SubmitCount() >= 1 },
		5*time.Second, 2*time.Millisecond)

	f.coord.Cancel()
	ev := awaitTerminal(t, events)
	awaitDone(t, f.coord)

	assert.Equal(t, EventCancelled, ev.Type)
	assert.Nil(t, ev.Report)
	assert.Equal(t, PhaseCancelled, f.coord.Progress().Phase)
	assert.Empty(t, f.sessions.Open())

	// No further acquisitions once cancelled.
	acquired := f.sessions.AcquireCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, acquired, f.sessions.AcquireCount())
	assert.Equal(t, 1, acquired, "second task must never start")

	// A cancelled scan is not finalized.
	assert.Zero(t, f.reporter.FinalizeCount())

	// Cancelled tasks count as neither collected nor failed.
	snap := f.coord.Progress()
	assert.Equal(t, 0, snap.Platforms[platform.Claude].Collected)
	assert.Equal(t, 0, snap.Platforms[platform.Claude].Failed)
}

func TestCoordinator_CancelWhenIdleIsSafe(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "q"}}, nil)
	f.coord.Cancel()
	assert.False(t, f.coord.IsRunning())
}

// ─── Concurrency shape ─────────────────────────────────────────────────

// Two platforms with max_concurrent=1 still run concurrently relative to each
// other: one lane per platform.
func TestCoordinator_LanesRunConcurrently(t *testing.T) {
	t.Parallel()
	f := newFixture(t, []model.Prompt{{ID: "p1", Text: "q"}},
		testutil.FakePacer{Wait: 150 * time.Millisecond, Concurrent: 1})

	start := time.Now()
	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1,
		[]platform.Platform{platform.ChatGPT, platform.Claude, platform.Gemini}))
	awaitDone(t, f.coord)
	elapsed := time.Since(start)

	assert.Equal(t, 3, f.sessions.AcquireCount())
	// Three sequential lanes would need >450ms of response waits alone.
	assert.Less(t, elapsed, 400*time.Millisecond, "lanes appear to run sequentially")
}

func TestCoordinator_BatchRespectsConcurrencyCap(t *testing.T) {
	t.Parallel()
	prompts := []model.Prompt{
		{ID: "p1", Text: "a"}, {ID: "p2", Text: "b"},
		{ID: "p3", Text: "c"}, {ID: "p4", Text: "d"},
	}
	f := newFixture(t, prompts, testutil.FakePacer{Wait: 50 * time.Millisecond, Concurrent: 2})

	require.NoError(t, f.coord.Start(context.Background(), "prod-1", 1, []platform.Platform{platform.ChatGPT}))

	maxOpen := 0
	require.Eventually(t, func() bool {
		if n := len(f.sessions.Open()); n > maxOpen {
			maxOpen = n
		}
		return !f.coord.IsRunning()
	}, 5*time.Second, time.Millisecond)

	assert.LessOrEqual(t, maxOpen, 2, "batch exceeded the concurrency cap")
	assert.Equal(t, 4, f.sessions.AcquireCount())
	assert.Equal(t, 4, f.reporter.ResultCount())
}
