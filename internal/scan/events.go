package scan

import (
	"github.com/avistalabs/columbus/internal/model"
	"github.com/avistalabs/columbus/internal/platform"
)

// EventType distinguishes rolling progress events from terminal outcomes.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventCancelled EventType = "cancelled"
	EventError     EventType = "error"
)

// Event is what progress observers receive on every state change. Terminal
// events carry either a report (complete) or an error string; a cancelled
// scan produces neither.
type Event struct {
	Type      EventType                              `json:"type"`
	Phase     Phase                                  `json:"phase"`
	Completed int                                    `json:"current"`
	Total     int                                    `json:"total"`
	Platforms map[platform.Platform]PlatformProgress `json:"platforms"`

	// CountdownSeconds is set while a lane sits in its response wait.
	CountdownSeconds *int `json:"countdownSeconds,omitempty"`

	Report *model.ScanReport `json:"report,omitempty"`
	Error  string            `json:"error,omitempty"`
}
