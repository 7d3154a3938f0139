// Package http provides the HTTP REST API implementation.
//
// The host pushes its document and lifecycle events here; events are
// published on the unit events topic and reach the orchestrator through
// the listener. The server also exposes:
//   - Orchestrator status and the checkpoint index
//   - Checkpoint history for a session
//   - Health checks
//   - Prometheus metrics
package http
