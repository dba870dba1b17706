// Package session provisions isolated browser sessions over chromedp. Each
// scan task gets its own browser context, keyed by the task label; sessions
// for geo-targeted regions reuse a per-(region, platform) user data directory
// so platform logins persist between scans.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/avistalabs/columbus/internal/interfaces"
	"github.com/avistalabs/columbus/internal/logging"
	"github.com/avistalabs/columbus/internal/platform"
)

// DataDirs hands out the persistent profile directory for a (region,
// platform) pair. storage.Store is the production implementation.
type DataDirs interface {
	SessionDataDir(region string, p platform.Platform) (string, error)
}

// Config tunes browser provisioning.
type Config struct {
	// NavigateTimeout bounds the initial navigation to the platform URL.
	NavigateTimeout time.Duration
	// IdleAfter is how long the network must stay quiet before the page is
	// considered settled after navigation.
	IdleAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		NavigateTimeout: 30 * time.Second,
		IdleAfter:       2 * time.Second,
	}
}

// Session is one live browser context. It satisfies interfaces.SessionHandle.
type Session struct {
	label    string
	platform platform.Platform
	region   string

	ctx         context.Context
	cancelCtx   context.CancelFunc
	cancelAlloc context.CancelFunc
}

func (s *Session) Label() string               { return s.label }
func (s *Session) Platform() platform.Platform { return s.platform }

// Context exposes the chromedp context for drivers.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) close() {
	s.cancelCtx()
	s.cancelAlloc()
}

// Manager owns all live sessions. It implements interfaces.SessionProvider;
// Release and ForceClose are idempotent so the cancel sweep can race the
// per-task deferred release without double-closing.
type Manager struct {
	cfg    Config
	dirs   DataDirs
	logger logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, dirs DataDirs, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewStdoutLogger("session")
	}
	return &Manager{
		cfg:      cfg,
		dirs:     dirs,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Acquire launches a browser context for the label, navigates it to the
// platform's chat URL and waits for the network to go idle. On any error
// nothing is left open.
func (m *Manager) Acquire(ctx context.Context, label string, p platform.Platform, region string, visible bool) (interfaces.SessionHandle, error) {
	m.mu.Lock()
	if _, exists := m.sessions[label]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %q already open", label)
	}
	m.mu.Unlock()

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if visible {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if m.dirs != nil && region != "" {
		dir, err := m.dirs.SessionDataDir(region, p)
		if err != nil {
			return nil, fmt.Errorf("session data dir for %s/%s: %w", region, p, err)
		}
		opts = append(opts, chromedp.UserDataDir(dir))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelCtx := chromedp.NewContext(allocCtx)

	s := &Session{
		label:       label,
		platform:    p,
		region:      region,
		ctx:         browserCtx,
		cancelCtx:   cancelCtx,
		cancelAlloc: cancelAlloc,
	}

	navCtx, cancelNav := context.WithTimeout(browserCtx, m.cfg.NavigateTimeout)
	defer cancelNav()

	idle := waitNetworkIdle(browserCtx, m.cfg.IdleAfter)

	url := platform.BehaviorFor(p).URL
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		s.close()
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}

	select {
	case <-idle:
	case <-navCtx.Done():
		// Page kept loading; proceed with whatever rendered so far.
		m.logger.Warn("network never went idle, continuing",
			logging.Field{Key: "label", Value: label})
	}

	m.mu.Lock()
	m.sessions[label] = s
	m.mu.Unlock()

	m.logger.Debug("session acquired",
		logging.Field{Key: "label", Value: label},
		logging.Field{Key: "platform", Value: p.String()},
		logging.Field{Key: "region", Value: region})
	return s, nil
}

// Release closes the handle's browser context. Closing a session that is
// already gone is a no-op.
func (m *Manager) Release(handle interfaces.SessionHandle) {
	if handle == nil {
		return
	}
	m.closeLabel(handle.Label())
}

// ForceClose closes a session by label, for the cancel sweep.
func (m *Manager) ForceClose(label string) {
	m.closeLabel(label)
}

// CloseAll tears down every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]string, 0, len(m.sessions))
	for label := range m.sessions {
		all = append(all, label)
	}
	m.mu.Unlock()
	for _, label := range all {
		m.closeLabel(label)
	}
}

// Open returns the labels of currently open sessions.
func (m *Manager) Open() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for label := range m.sessions {
		out = append(out, label)
	}
	return out
}

func (m *Manager) closeLabel(label string) {
	m.mu.Lock()
	s, ok := m.sessions[label]
	if ok {
		delete(m.sessions, label)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	s.close()
	m.logger.Debug("session closed", logging.Field{Key: "label", Value: label})
}
