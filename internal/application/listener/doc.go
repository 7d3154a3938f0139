// Package listener connects the event bus to the orchestrator.
//
// The listener subscribes to host events and submits them to the
// orchestrator queue in arrival order. The health monitor polls the
// orchestrator status and feeds metrics, logs and the gRPC health service.
package listener
