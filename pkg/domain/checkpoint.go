package domain

import "time"

// Checkpoint is a backend snapshot taken immediately before a unit ran
type Checkpoint struct {
	SessionID   string    `json:"session_id"`
	UnitID      string    `json:"unit_id"`
	Hash        string    `json:"hash"`
	CommittedAt time.Time `json:"committed_at"`
	// Replay is set when the commit was taken as part of a cascade
	Replay bool `json:"replay,omitempty"`
}
