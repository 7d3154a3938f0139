// Package orchestrator implements the commit/revert orchestration state machine.
//
// The manager coordinates cell execution against a versioned backend by:
//   - Committing external state right before every unit runs
//   - Reverting to a unit's checkpoint when the unit is re-run
//   - Replaying the reverted unit and every unit after it, in document order
//   - Serializing all host events through a single-consumer queue
//
// The index maps each unit to the hash committed immediately before its last run.
package orchestrator
