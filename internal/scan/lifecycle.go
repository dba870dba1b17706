package scan

import (
	"context"
	"time"

	"github.com/avistalabs/columbus/internal/interfaces"
	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
)

// Pacer is the per-platform policy the core consults: fixed response wait,
// session concurrency cap, two-step submission flag. platform.Table is the
// production implementation.
type Pacer interface {
	WaitFor(p platform.Platform) time.Duration
	MaxConcurrent(p platform.Platform) int
	TwoStep(p platform.Platform) bool
}

// taskOutcome is the result of driving one task through its lifecycle.
// Exactly one of response/err is meaningful unless the task was cancelled,
// which counts as neither success nor failure.
type taskOutcome struct {
	task      Task
	response  *model.CollectResponse
	err       error
	cancelled bool
}

// lifecycle drives one task at a time through
// acquire → settle → submit → wait → collect → release.
type lifecycle struct {
	cfg      Config
	state    *State
	sessions interfaces.SessionProvider
	driver   interfaces.PlatformDriver
	pacer    Pacer
	brand    model.BrandContext
	logger   logging.Logger

	emitProgress  func()
	emitCountdown func(remainingSeconds int)
}

// run executes the full session lifecycle for t. The single most important
// invariant lives here: once Acquire succeeds, Release runs on every exit
// path, exactly once, via defer.
func (l *lifecycle) run(ctx context.Context, t Task) taskOutcome {
	if !l.state.Running() {
		return taskOutcome{task: t, cancelled: true}
	}

	handle, err := l.sessions.Acquire(ctx, t.Label, t.Platform, t.Region, l.cfg.Visible)
	if err != nil {
		l.logger.Error("session acquire failed",
			logging.Field{Key: "label", Value: t.Label},
			logging.Field{Key: "error", Value: err.Error()})
		return taskOutcome{task: t, err: err}
	}

	l.state.RegisterSession(t.Label)
	defer func() {
		l.sessions.Release(handle)
		l.state.DeregisterSession(t.Label)
	}()

	// Let the page become interactive before typing.
	if !waitUnlessStopped(ctx, l.state, l.cfg.SettleDelay, l.cfg.SettlePoll) {
		return taskOutcome{task: t, cancelled: true}
	}

	l.state.SetPhase(PhaseSubmitting)
	if err := l.driver.Submit(ctx, handle, t.Prompt.Text); err != nil {
		l.logger.Error("prompt submit failed",
			logging.Field{Key: "label", Value: t.Label},
			logging.Field{Key: "error", Value: err.Error()})
		return taskOutcome{task: t, err: err}
	}

	if l.pacer.TwoStep(t.Platform) {
		if !waitUnlessStopped(ctx, l.state, l.cfg.TwoStepDelay, l.cfg.SettlePoll) {
			return taskOutcome{task: t, cancelled: true}
		}
		// Second submit is best-effort; the first one already landed.
		if err := l.driver.Submit(ctx, handle, t.Prompt.Text); err != nil {
			l.logger.Warn("two-step follow-up submit failed",
				logging.Field{Key: "label", Value: t.Label},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	l.state.MarkSubmitted(t.Platform)
	l.emitProgress()

	l.state.SetPhase(PhaseWaiting)
	l.state.SetPlatformStatus(t.Platform, PlatformWaiting)
	if !waitWithTicks(ctx, l.state, l.pacer.WaitFor(t.Platform), l.cfg.ResponsePoll, l.emitCountdown) {
		return taskOutcome{task: t, cancelled: true}
	}

	l.state.SetPhase(PhaseCollecting)
	resp, err := l.driver.Collect(ctx, handle, l.brand)
	if err != nil {
		return taskOutcome{task: t, err: err}
	}
	return taskOutcome{task: t, response: resp}
}
