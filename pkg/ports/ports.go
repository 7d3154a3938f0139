package ports

import (
	"context"
	"errors"
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
)

// Backend is the versioned external state store
type Backend interface {
	// Commit snapshots the current external state and returns its hash
	Commit(ctx context.Context) (string, error)
	// Revert restores the external state to a previously committed hash
	Revert(ctx context.Context, hash string) error
}

// Host is the notebook host that owns the document and runs its units
type Host interface {
	// ListUnits returns the current document in host order
	ListUnits(ctx context.Context) ([]domain.Unit, error)
	// RunUnit asks the host to execute a unit. Completion is signaled
	// asynchronously with a finished event.
	RunUnit(ctx context.Context, unitID string) error
	// ReportError surfaces an orchestration failure to the user
	ReportError(ctx context.Context, unitID string, err error) error
}

// EventHandler processes a single event
type EventHandler func(ctx context.Context, event domain.Event) error

// ErrNoSubscribers is returned by buses that deliver synchronously when
// nobody is subscribed to the topic an event was published on
var ErrNoSubscribers = errors.New("no subscribers for topic")

// EventBus transports events between the host-facing API and the orchestrator
type EventBus interface {
	// Publish delivers an event. Synchronous buses return the first handler
	// error, or ErrNoSubscribers when the topic has no subscriber.
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}

// CheckpointHistory is an append-only journal of checkpoints taken in a session
type CheckpointHistory interface {
	Append(ctx context.Context, cp domain.Checkpoint) error
	List(ctx context.Context, sessionID string) ([]domain.Checkpoint, error)
	Delete(ctx context.Context, sessionID string) error
	// Sessions returns every session that has a journal
	Sessions(ctx context.Context) ([]string, error)
}

// MetricsCollector records orchestration metrics
type MetricsCollector interface {
	RecordCommit(status string, duration time.Duration)
	RecordRevert(status string, duration time.Duration)
	RecordUnitRun(replay bool)
	RecordCascade(length int)
	RecordError(code string)
	RecordDeferred()
	SetQueueDepth(depth int)
	SetPhase(phase string)
}

// Bus topics
const (
	TopicUnitEvents       = "unit.events"
	TopicHostCommands     = "host.commands"
	TopicCheckpointEvents = "checkpoint.events"
)
