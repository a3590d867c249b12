package stats

import (
	"time"

	"github.com/stellarlinkco/docarena/internal/run"
)

// EventType identifies a call or phase lifecycle event.
type EventType string

const (
	EventRunStarted    EventType = "run_started"
	EventPhaseChanged  EventType = "phase_changed"
	EventCallStarted   EventType = "call_started"
	EventCallSucceeded EventType = "call_succeeded"
	EventCallFailed    EventType = "call_failed"
	EventCallRetried   EventType = "call_retried"
	EventDocCompleted  EventType = "doc_completed"
	EventRunFinished   EventType = "run_finished"
)

// Event is one typed lifecycle event published by pipeline stages. The
// broadcaster is the sole consumer; producers never mutate snapshots
// directly.
type Event struct {
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Phase     run.Phase `json:"phase,omitempty"`
	SourceDoc string    `json:"source_doc,omitempty"`
	// Call names the call stream the event belongs to, e.g. a document
	// tuple or judge/criterion pair. Success on a call stream clears that
	// stream's recorded error.
	Call      string    `json:"call,omitempty"`
	Err       string    `json:"err,omitempty"`
	DocsTotal int       `json:"docs_total,omitempty"`
	At        time.Time `json:"at"`
}
