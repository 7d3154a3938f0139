package domain

import "time"

// EventType identifies a lifecycle event
type EventType string

const (
	// Host -> orchestrator
	EventTypeAboutToRun      EventType = "unit.about_to_run"
	EventTypeFinished        EventType = "unit.finished"
	EventTypeFocusChanged    EventType = "unit.focus_changed"
	EventTypeRevertRequested EventType = "unit.revert_requested"
	EventTypeSessionStart    EventType = "session.start"

	// Orchestrator -> host
	EventTypeRunUnit   EventType = "host.run_unit"
	EventTypeHostError EventType = "host.error"

	// Notifications
	EventTypeCheckpointRecorded EventType = "checkpoint.recorded"
	EventTypeReverted           EventType = "checkpoint.reverted"
	EventTypeCascadeCompleted   EventType = "checkpoint.cascade_completed"
)

// Event is a lifecycle event flowing through the orchestrator
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	UnitID    string                 `json:"unit_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Rerun reports whether the host flagged an about-to-run event as a
// re-execution of a unit it believes was already run.
func (e Event) Rerun() bool {
	if e.Data == nil {
		return false
	}
	v, _ := e.Data["rerun"].(bool)
	return v
}
