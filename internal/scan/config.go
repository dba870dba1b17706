package scan

import "time"

// Config carries the timing knobs of the orchestration core. Production uses
// DefaultConfig; tests shrink the durations.
type Config struct {
	// SettleDelay is how long a fresh session gets to become interactive
	// before the prompt is typed.
	SettleDelay time.Duration

	// SettlePoll is the cancellation poll granularity during short waits
	// (settle and two-step delays).
	SettlePoll time.Duration

	// ResponsePoll is the cancellation poll granularity during the long
	// per-platform response wait.
	ResponsePoll time.Duration

	// TwoStepDelay separates the two submits on two-step platforms.
	TwoStepDelay time.Duration

	// Visible opens sessions as visible windows instead of headless.
	Visible bool
}

func DefaultConfig() Config {
	return Config{
		SettleDelay:  5 * time.Second,
		SettlePoll:   500 * time.Millisecond,
		ResponsePoll: time.Second,
		TwoStepDelay: 4 * time.Second,
	}
}
