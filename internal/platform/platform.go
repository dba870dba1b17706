// Package platform enumerates the AI chat platforms a scan can target and the
// per-platform pacing policy: entry URL, fixed response wait, session
// concurrency cap and whether submission is a two-step flow.
package platform

import (
	"fmt"
	"strings"
	"time"
)

// Platform is a closed identifier for a supported chat platform.
type Platform string

const (
	ChatGPT      Platform = "chatgpt"
	Claude       Platform = "claude"
	Gemini       Platform = "gemini"
	Perplexity   Platform = "perplexity"
	GoogleAIO    Platform = "google_aio"
	GoogleAIMode Platform = "google_ai_mode"
)

// Behavior is the per-platform policy consulted by the scan core. It is pure
// configuration: no state, no failure mode.
type Behavior struct {
	// URL is the page a fresh session navigates to.
	URL string

	// DisplayName is the human-readable platform name.
	DisplayName string

	// ResponseWait is how long to let the platform generate before collecting.
	ResponseWait time.Duration

	// MaxConcurrent caps simultaneously open sessions for this platform.
	MaxConcurrent int

	// TwoStep marks platforms that need a follow-up submit after the first
	// one settles (Google AI Mode re-issues the query on its results page).
	TwoStep bool
}

var behaviors = map[Platform]Behavior{
	ChatGPT:      {URL: "https://chatgpt.com/", DisplayName: "ChatGPT", ResponseWait: 45 * time.Second, MaxConcurrent: 2},
	Claude:       {URL: "https://claude.ai/new", DisplayName: "Claude", ResponseWait: 45 * time.Second, MaxConcurrent: 1},
	Gemini:       {URL: "https://gemini.google.com/app", DisplayName: "Gemini", ResponseWait: 45 * time.Second, MaxConcurrent: 1},
	Perplexity:   {URL: "https://www.perplexity.ai/", DisplayName: "Perplexity", ResponseWait: 40 * time.Second, MaxConcurrent: 2},
	GoogleAIO:    {URL: "https://www.google.com/", DisplayName: "Google AI Overview", ResponseWait: 30 * time.Second, MaxConcurrent: 1},
	GoogleAIMode: {URL: "https://www.google.com/", DisplayName: "Google AI Mode", ResponseWait: 60 * time.Second, MaxConcurrent: 1, TwoStep: true},
}

// defaultBehavior is the conservative fallback for platforms this build does
// not know a policy for.
var defaultBehavior = Behavior{ResponseWait: 45 * time.Second, MaxConcurrent: 1}

// Default is the platform set scanned when a request names none.
func Default() []Platform {
	return []Platform{ChatGPT, Claude, Gemini, Perplexity, GoogleAIO}
}

// All returns every known platform in stable order.
func All() []Platform {
	return []Platform{ChatGPT, Claude, Gemini, Perplexity, GoogleAIO, GoogleAIMode}
}

// Parse maps a wire identifier onto a Platform.
func Parse(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := behaviors[p]; !ok {
		return "", fmt.Errorf("unknown platform %q", s)
	}
	return p, nil
}

// BehaviorFor returns the platform's policy, or the conservative default for
// an unknown platform.
func BehaviorFor(p Platform) Behavior {
	if b, ok := behaviors[p]; ok {
		return b
	}
	return defaultBehavior
}

func (p Platform) String() string { return string(p) }

// DisplayName returns the human-readable platform name.
func (p Platform) DisplayName() string {
	if b, ok := behaviors[p]; ok {
		return b.DisplayName
	}
	return string(p)
}

// Table is the production Pacer: a stateless view over the behavior table.
type Table struct{}

// WaitFor returns the fixed response wait for p.
func (Table) WaitFor(p Platform) time.Duration { return BehaviorFor(p).ResponseWait }

// MaxConcurrent returns the session concurrency cap for p.
func (Table) MaxConcurrent(p Platform) int {
	if n := BehaviorFor(p).MaxConcurrent; n > 0 {
		return n
	}
	return 1
}

// TwoStep reports whether p needs a follow-up submit.
func (Table) TwoStep(p Platform) bool { return BehaviorFor(p).TwoStep }
