package focus

import (
	"time"

	"github.com/ashureev/focusforge/internal/domain"
)

// EventType names an engine event sent to the client.
type EventType string

// Event types emitted by the Controller.
const (
	EventSessionStarted EventType = "session_started"
	EventSessionTime    EventType = "session_time"
	EventEyeState       EventType = "eye_state"
	EventAlertRaised    EventType = "alert_raised"
	EventAlertCleared   EventType = "alert_cleared"
	EventSessionEnded   EventType = "session_ended"
)

// EyeReport is the payload of an eye_state event.
type EyeReport struct {
	IsOpen         bool    `json:"isOpen"`
	ClosedDuration float64 `json:"closedDuration"`
	Confidence     float64 `json:"confidence"`
}

// Event is a single engine notification. Only the fields relevant to Type
// are set.
type Event struct {
	Type      EventType `json:"type"`
	At        time.Time `json:"at"`
	SessionID string    `json:"sessionId,omitempty"`

	// session_time
	Seconds float64 `json:"seconds,omitempty"`
	Clock   string  `json:"clock,omitempty"`

	*EyeReport

	// alert_raised
	Phrase string `json:"phrase,omitempty"`

	// session_started, session_ended
	Session *domain.FocusSession `json:"session,omitempty"`
}

// Sink receives controller events. Emit must not call back into the Controller.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) { f(ev) }

// Recorder receives session metrics.
type Recorder interface {
	SessionStarted(userID string)
	FrameAnalyzed(degenerate bool)
	AlertRaised(userID string)
	SessionEnded(userID string, duration time.Duration, incidents int)
}

type nopRecorder struct{}

func (nopRecorder) SessionStarted(string) {}
func (nopRecorder) FrameAnalyzed(bool) {}
func (nopRecorder) AlertRaised(string) {}
func (nopRecorder) SessionEnded(string, time.Duration, int) {}
