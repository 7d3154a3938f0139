package orchestrator

import (
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
)

// Phase names a manager state
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseCommitting       Phase = "committing"
	PhaseRunning          Phase = "running"
	PhaseReverting        Phase = "reverting"
	PhaseCascadeReplaying Phase = "cascade_replaying"
)

// State is one of Idle, Committing, Running, Reverting or CascadeReplaying
type State interface {
	Phase() Phase
	// UnitID is the unit the state concerns, empty when idle
	UnitID() string
	cascade() *Cascade
}

// Cascade is an in-flight replay of units in document order. TargetID is
// the reverted unit and stays empty for a session start replay.
type Cascade struct {
	TargetID  string
	Remaining []domain.Unit
	Total     int
	StartedAt time.Time
}

func newCascade(targetID string, units []domain.Unit) *Cascade {
	remaining := make([]domain.Unit, len(units))
	copy(remaining, units)
	return &Cascade{
		TargetID:  targetID,
		Remaining: remaining,
		Total:     len(units),
		StartedAt: time.Now(),
	}
}

// Idle waits for the next event
type Idle struct{}

// Committing waits for the backend commit taken before UnitID runs
type Committing struct {
	Unit    string
	Cascade *Cascade
}

// Running waits for the host to report UnitID finished
type Running struct {
	Unit    string
	Cascade *Cascade
}

// Reverting waits for the backend to restore TargetID's checkpoint
type Reverting struct {
	Target string
}

// CascadeReplaying sits between two units of a cascade
type CascadeReplaying struct {
	Cascade *Cascade
}

func (Idle) Phase() Phase             { return PhaseIdle }
func (Committing) Phase() Phase       { return PhaseCommitting }
func (Running) Phase() Phase          { return PhaseRunning }
func (Reverting) Phase() Phase        { return PhaseReverting }
func (CascadeReplaying) Phase() Phase { return PhaseCascadeReplaying }

func (Idle) UnitID() string               { return "" }
func (s Committing) UnitID() string       { return s.Unit }
func (s Running) UnitID() string          { return s.Unit }
func (s Reverting) UnitID() string        { return s.Target }
func (s CascadeReplaying) UnitID() string { return s.Cascade.TargetID }

func (Idle) cascade() *Cascade               { return nil }
func (s Committing) cascade() *Cascade       { return s.Cascade }
func (s Running) cascade() *Cascade          { return s.Cascade }
func (Reverting) cascade() *Cascade          { return nil }
func (s CascadeReplaying) cascade() *Cascade { return s.Cascade }

// pendingRevert returns the unit whose revert has not finished replaying
func pendingRevert(s State) string {
	if r, ok := s.(Reverting); ok {
		return r.Target
	}
	if c := s.cascade(); c != nil {
		return c.TargetID
	}
	return ""
}
