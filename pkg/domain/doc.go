// Package domain defines the core types shared by the orchestrator, the
// adapters and the API layer.
//
// Types:
//   - Unit: one cell of the host document, identified by an opaque id
//   - Checkpoint: a backend snapshot hash taken right before a unit ran
//   - Event: a host lifecycle notification or control request
//   - Error: coded errors surfaced to the host
package domain
