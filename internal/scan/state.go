package scan

import (
	"errors"
	"sync"

	"github.com/avistalabs/columbus/internal/platform"
)

// Phase is the coarse position of the whole scan.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseInitializing Phase = "initializing"
	PhaseSubmitting   Phase = "submitting"
	PhaseWaiting      Phase = "waiting"
	PhaseCollecting   Phase = "collecting"
	PhaseCancelled    Phase = "cancelled"
	PhaseComplete     Phase = "complete"
)

// Per-platform status strings surfaced in progress events.
const (
	PlatformPending    = "pending"
	PlatformReady      = "ready"
	PlatformSubmitting = "submitting"
	PlatformWaiting    = "waiting"
	PlatformComplete   = "complete"
	PlatformSkipped    = "skipped"
	PlatformCancelled  = "cancelled"
)

// ErrAlreadyRunning rejects a start while a scan is in flight. Only one scan
// may run per process.
var ErrAlreadyRunning = errors.New("scan already in progress")

// PlatformProgress is the per-platform progress record.
type PlatformProgress struct {
	Status    string `json:"status"`
	Total     int    `json:"total"`
	Submitted int    `json:"submitted"`
	Collected int    `json:"collected"`
	Failed    int    `json:"failed"`
}

// State is the single piece of cross-lane mutable scan state. Every access
// goes through a short critical section; the lock is never held across a
// blocking call.
type State struct {
	mu sync.Mutex

	running       bool
	phase         Phase
	scanSessionID string
	productID     string

	totalTasks     int
	completedTasks int
	platforms      map[platform.Platform]*PlatformProgress

	// Labels of sessions currently open, for forced cleanup on cancel.
	sessionLabels []string
}

// Progress is a point-in-time read-only snapshot of State.
type Progress struct {
	Running   bool                                   `json:"running"`
	Phase     Phase                                  `json:"phase"`
	Completed int                                    `json:"current"`
	Total     int                                    `json:"total"`
	Platforms map[platform.Platform]PlatformProgress `json:"platforms"`
}

func NewState() *State {
	return &State{phase: PhaseIdle, platforms: make(map[platform.Platform]*PlatformProgress)}
}

// Begin atomically claims the single scan slot. It fails with
// ErrAlreadyRunning and no side effects if a scan is already running.
func (s *State) Begin(scanSessionID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.phase = PhaseInitializing
	s.scanSessionID = scanSessionID
	s.productID = productID
	s.totalTasks = 0
	s.completedTasks = 0
	s.platforms = make(map[platform.Platform]*PlatformProgress)
	s.sessionLabels = nil
	return nil
}

// Abort releases the scan slot after a precondition failure, before any lane
// has started.
func (s *State) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.phase = PhaseIdle
}

// InitTotals records the task fan-out: overall total plus per-platform
// totals. Requested platforms with zero admitted tasks are marked skipped.
func (s *State) InitTotals(perPlatform map[platform.Platform]int, requested []platform.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTasks = 0
	for _, p := range requested {
		n := perPlatform[p]
		status := PlatformReady
		if n == 0 {
			status = PlatformSkipped
		}
		s.platforms[p] = &PlatformProgress{Status: status, Total: n}
		s.totalTasks += n
	}
}

// Running reports whether the scan is still live. Every suspension point in
// the core polls this.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetPhase moves the scan phase while it is still running. Transitions after
// cancellation are dropped so lanes racing a cancel cannot resurrect the scan.
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.phase = p
	}
}

// Finish tears the scan down into its terminal phase.
func (s *State) Finish(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.phase = p
}

// SetPlatformStatus sets one platform's status string.
func (s *State) SetPlatformStatus(p platform.Platform, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.platforms[p]; ok {
		ps.Status = status
	}
}

// MarkSubmitted counts one submitted prompt for the platform.
func (s *State) MarkSubmitted(p platform.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.platforms[p]; ok {
		ps.Submitted++
		ps.Status = PlatformSubmitting
	}
}

// MarkCollected counts one collected response for the platform and advances
// the overall completion counter.
func (s *State) MarkCollected(p platform.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.platforms[p]; ok {
		ps.Collected++
	}
	s.completedTasks++
}

// MarkFailed counts one failed task for the platform. Failures never abort
// sibling tasks.
func (s *State) MarkFailed(p platform.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ps, ok := s.platforms[p]; ok {
		ps.Failed++
	}
}

// RegisterSession tracks an open session label for forced cleanup on cancel.
func (s *State) RegisterSession(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLabels = append(s.sessionLabels, label)
}

// DeregisterSession drops a label once its owner has released the session.
func (s *State) DeregisterSession(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.sessionLabels {
		if l == label {
			s.sessionLabels = append(s.sessionLabels[:i], s.sessionLabels[i+1:]...)
			break
		}
	}
}

// CancelAndDrain flips the scan into the cancelled state and hands back every
// registered session label for force-closing. Safe to call at any time.
func (s *State) CancelAndDrain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running && s.phase != PhaseCancelled {
		return nil
	}
	s.running = false
	s.phase = PhaseCancelled
	labels := s.sessionLabels
	s.sessionLabels = nil
	return labels
}

// Snapshot returns a copy of the current progress. No side effects.
func (s *State) Snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	platforms := make(map[platform.Platform]PlatformProgress, len(s.platforms))
	for p, ps := range s.platforms {
		platforms[p] = *ps
	}
	return Progress{
		Running:   s.running,
		Phase:     s.phase,
		Completed: s.completedTasks,
		Total:     s.totalTasks,
		Platforms: platforms,
	}
}
