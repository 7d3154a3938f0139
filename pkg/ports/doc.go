// Package ports defines the interfaces between the orchestrator and its
// collaborators: the notebook host, the versioning backend, the event bus,
// checkpoint history storage and metrics.
package ports
