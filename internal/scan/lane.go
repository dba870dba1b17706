package scan

import (
	"context"
	"sync"

	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/platform"
)

// LaneResult is one platform's tally after its lane has drained.
type LaneResult struct {
	Platform  platform.Platform
	Collected int
	Mentioned int
	Cited     int
	Failed    int
	Cancelled bool
}

// lane runs all tasks of one platform. Lanes for different platforms run
// concurrently and never block each other; within a lane, tasks execute in
// builder order in batches of the platform's concurrency cap, each batch
// finishing its full lifecycle before the next starts.
type lane struct {
	platform platform.Platform
	tasks    []Task

	lc     *lifecycle
	state  *State
	sink   *ResultSink
	logger logging.Logger

	emitProgress func()
}

func (l *lane) run(ctx context.Context) LaneResult {
	res := LaneResult{Platform: l.platform}
	max := l.lc.pacer.MaxConcurrent(l.platform)
	if max < 1 {
		max = 1
	}

	for start := 0; start < len(l.tasks); start += max {
		if !l.state.Running() || ctx.Err() != nil {
			res.Cancelled = true
			l.state.SetPlatformStatus(l.platform, PlatformCancelled)
			return res
		}

		end := start + max
		if end > len(l.tasks) {
			end = len(l.tasks)
		}
		batch := l.tasks[start:end]
		outcomes := make([]taskOutcome, len(batch))

		var wg sync.WaitGroup
		for i, t := range batch {
			wg.Add(1)
			go func(i int, t Task) {
				defer wg.Done()
				outcomes[i] = l.lc.run(ctx, t)
			}(i, t)
		}
		wg.Wait()

		for _, out := range outcomes {
			switch {
			case out.cancelled:
				res.Cancelled = true
			case out.err != nil:
				res.Failed++
				l.state.MarkFailed(l.platform)
				l.emitProgress()
			default:
				res.Collected++
				if out.response.BrandMentioned {
					res.Mentioned++
				}
				if out.response.CitationPresent {
					res.Cited++
				}
				l.state.MarkCollected(l.platform)
				l.emitProgress()
				l.sink.Submit(ctx, out.task, out.response)
			}
		}
	}

	if l.state.Running() {
		l.state.SetPlatformStatus(l.platform, PlatformComplete)
		l.emitProgress()
	} else {
		res.Cancelled = true
		l.state.SetPlatformStatus(l.platform, PlatformCancelled)
	}
	return res
}
