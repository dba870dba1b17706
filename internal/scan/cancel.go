package scan

import (
	"context"
	"time"
)

// waitUnlessStopped sleeps for d in poll-sized slices, re-checking the scan's
// running flag and the context between slices. Returns true if the full
// duration elapsed, false if the scan stopped first. This is the one
// poll-and-bail helper behind every suspension point in the core; a cancel is
// observed within roughly one poll interval.
func waitUnlessStopped(ctx context.Context, st *State, d, poll time.Duration) bool {
	return waitWithTicks(ctx, st, d, poll, nil)
}

// waitWithTicks is waitUnlessStopped with an optional per-slice callback
// receiving the whole seconds remaining (used for countdown progress events).
func waitWithTicks(ctx context.Context, st *State, d, poll time.Duration, onTick func(remainingSeconds int)) bool {
	if poll <= 0 {
		poll = time.Second
	}
	deadline := time.Now().Add(d)
	for {
		if !st.Running() || ctx.Err() != nil {
			return false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true
		}
		if onTick != nil {
			onTick(int((remaining + time.Second - 1) / time.Second))
		}
		step := poll
		if remaining < step {
			step = remaining
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}
