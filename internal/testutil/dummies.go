// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/avistalabs/columbus/internal/interfaces"
	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ─── Session provider ──────────────────────────────────────────────────

// DummyHandle is a minimal interfaces.SessionHandle.
type DummyHandle struct {
	L string
	P platform.Platform
}

func (h DummyHandle) Label() string               { return h.L }
func (h DummyHandle) Platform() platform.Platform { return h.P }

// DummySessionProvider records every acquire/release/force-close. Set
// FailLabels[label] = true to make Acquire fail for that label, FailAcquires
// to fail the first N acquires regardless of label, AcquireDelay to slow
// acquisition down.
type DummySessionProvider struct {
	AcquireDelay time.Duration
	FailLabels   map[string]bool
	FailAcquires int

	mu           sync.Mutex
	Acquired     []string
	Released     []string
	ForceClosed  []string
	openSessions map[string]bool
}

func (d *DummySessionProvider) Acquire(ctx context.Context, label string, p platform.Platform, region string, visible bool) (interfaces.SessionHandle, error) {
	if d.AcquireDelay > 0 {
		select {
		case <-time.After(d.AcquireDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailLabels != nil && d.FailLabels[label] {
		return nil, errAcquire
	}
	if d.FailAcquires > 0 {
		d.FailAcquires--
		return nil, errAcquire
	}
	if d.openSessions == nil {
		d.openSessions = make(map[string]bool)
	}
	d.Acquired = append(d.Acquired, label)
	d.openSessions[label] = true
	return DummyHandle{L: label, P: p}, nil
}

func (d *DummySessionProvider) Release(handle interfaces.SessionHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.openSessions[handle.Label()] {
		return
	}
	delete(d.openSessions, handle.Label())
	d.Released = append(d.Released, handle.Label())
}

func (d *DummySessionProvider) ForceClose(label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ForceClosed = append(d.ForceClosed, label)
	delete(d.openSessions, label)
}

func (d *DummySessionProvider) CloseAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for label := range d.openSessions {
		d.ForceClosed = append(d.ForceClosed, label)
		delete(d.openSessions, label)
	}
}

// Open returns the labels of sessions still open.
func (d *DummySessionProvider) Open() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.openSessions))
	for label := range d.openSessions {
		out = append(out, label)
	}
	return out
}

// AcquireCount returns how many sessions were acquired so far.
func (d *DummySessionProvider) AcquireCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Acquired)
}

// ReleaseCount returns how many sessions were released so far.
func (d *DummySessionProvider) ReleaseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Released)
}

// ─── Platform driver ───────────────────────────────────────────────────

// DummyDriver implements interfaces.PlatformDriver. Responses default to a
// brand-mentioning answer; set SubmitFail/CollectFail per label to force
// errors, or Response to override the collected payload.
type DummyDriver struct {
	SubmitFail   map[string]bool
	CollectFail  map[string]bool
	FailSubmits  int
	FailCollects int
	Response     *model.CollectResponse

	mu        sync.Mutex
	Submitted []string
	Collected []string
}

func (d *DummyDriver) Submit(ctx context.Context, handle interfaces.SessionHandle, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SubmitFail != nil && d.SubmitFail[handle.Label()] {
		return errSubmit
	}
	if d.FailSubmits > 0 {
		d.FailSubmits--
		return errSubmit
	}
	d.Submitted = append(d.Submitted, handle.Label())
	return nil
}

func (d *DummyDriver) Collect(ctx context.Context, handle interfaces.SessionHandle, brand model.BrandContext) (*model.CollectResponse, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CollectFail != nil && d.CollectFail[handle.Label()] {
		return nil, errCollect
	}
	if d.FailCollects > 0 {
		d.FailCollects--
		return nil, errCollect
	}
	d.Collected = append(d.Collected, handle.Label())
	if d.Response != nil {
		resp := *d.Response
		return &resp, nil
	}
	return &model.CollectResponse{
		ResponseText:    "answer mentioning " + brand.Brand,
		BrandMentioned:  true,
		CitationPresent: false,
		Sentiment:       "neutral",
	}, nil
}

// SubmitCount returns how many prompts were submitted so far.
func (d *DummyDriver) SubmitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Submitted)
}

// ─── Backend collaborators ─────────────────────────────────────────────

// DummyTokenSource returns a fixed token, or Err when set.
type DummyTokenSource struct {
	Token string
	Err   error
}

func (d *DummyTokenSource) EnsureValidToken(ctx context.Context) (string, error) {
	if d.Err != nil {
		return "", d.Err
	}
	if d.Token == "" {
		return "test-token", nil
	}
	return d.Token, nil
}

// DummyPromptSource serves a fixed prompts response.
type DummyPromptSource struct {
	Response *model.PromptsResponse
	Err      error
}

func (d *DummyPromptSource) FetchPrompts(ctx context.Context, productID, token string) (*model.PromptsResponse, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	if d.Response != nil {
		return d.Response, nil
	}
	return &model.PromptsResponse{}, nil
}

// DummyReporter records submitted results and finalize calls.
type DummyReporter struct {
	SubmitErr   error
	FinalizeErr error

	mu        sync.Mutex
	Results   []*model.ScanResultRecord
	Finalized []string
}

func (d *DummyReporter) SubmitResult(ctx context.Context, token string, rec *model.ScanResultRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SubmitErr != nil {
		return d.SubmitErr
	}
	d.Results = append(d.Results, rec)
	return nil
}

func (d *DummyReporter) FinalizeScan(ctx context.Context, token, scanSessionID, productID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FinalizeErr != nil {
		return d.FinalizeErr
	}
	d.Finalized = append(d.Finalized, scanSessionID)
	return nil
}

// ResultCount returns how many results were submitted so far.
func (d *DummyReporter) ResultCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Results)
}

// FinalizeCount returns how many finalize calls were made so far.
func (d *DummyReporter) FinalizeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Finalized)
}

// DummyAuth marks (region, platform) pairs authenticated via the Pairs map,
// keyed "region/platform".
type DummyAuth struct {
	Pairs map[string]bool
}

func (d *DummyAuth) IsRegionPlatformAuthenticated(region string, p platform.Platform) bool {
	if d.Pairs == nil {
		return false
	}
	return d.Pairs[region+"/"+p.String()]
}

// ─── Pacer ─────────────────────────────────────────────────────────────

// FakePacer is a scan.Pacer with fixed answers, fast enough for tests.
type FakePacer struct {
	Wait       time.Duration
	Concurrent int
	TwoSteps   map[platform.Platform]bool
}

func (f FakePacer) WaitFor(platform.Platform) time.Duration { return f.Wait }

func (f FakePacer) MaxConcurrent(platform.Platform) int {
	if f.Concurrent < 1 {
		return 1
	}
	return f.Concurrent
}

func (f FakePacer) TwoStep(p platform.Platform) bool { return f.TwoSteps[p] }

// ─── Errors ────────────────────────────────────────────────────────────

type dummyErr string

func (e dummyErr) Error() string { return string(e) }

const (
	errAcquire dummyErr = "dummy acquire fail"
	errSubmit  dummyErr = "dummy submit fail"
	errCollect dummyErr = "dummy collect fail"
)
