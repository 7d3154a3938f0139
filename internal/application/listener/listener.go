package listener

import (
	"context"
	"fmt"
	"sync"

	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/aescanero/cellvert/pkg/ports"
	"go.uber.org/zap"
)

// Submitter accepts host events for processing
type Submitter interface {
	Submit(event domain.Event) error
	SessionID() string
}

// Listener feeds host events from the event bus into the orchestrator
type Listener struct {
	eventBus  ports.EventBus
	submitter Submitter
	logger    *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// New creates a new listener
func New(eventBus ports.EventBus, submitter Submitter, logger *zap.Logger) *Listener {
	return &Listener{
		eventBus:  eventBus,
		submitter: submitter,
		logger:    logger,
	}
}

// Start subscribes to the unit events topic
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return fmt.Errorf("listener already started")
	}

	subCtx, cancel := context.WithCancel(ctx)
	if err := l.eventBus.Subscribe(subCtx, ports.TopicUnitEvents, l.handle); err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to %s: %w", ports.TopicUnitEvents, err)
	}

	l.cancel = cancel
	l.started = true

	l.logger.Info("event listener started", zap.String("topic", ports.TopicUnitEvents))
	return nil
}

// Stop cancels the subscription
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return
	}

	l.cancel()
	l.started = false
	l.logger.Info("event listener stopped")
}

// handle forwards a single bus event
func (l *Listener) handle(ctx context.Context, event domain.Event) error {
	switch event.Type {
	case domain.EventTypeAboutToRun,
		domain.EventTypeFinished,
		domain.EventTypeFocusChanged,
		domain.EventTypeRevertRequested,
		domain.EventTypeSessionStart:
	default:
		l.logger.Debug("ignoring event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
		return nil
	}

	if event.SessionID != "" && event.SessionID != l.submitter.SessionID() {
		l.logger.Warn("ignoring event from another session",
			zap.String("event_id", event.ID),
			zap.String("session_id", event.SessionID))
		return nil
	}

	if err := l.submitter.Submit(event); err != nil {
		l.logger.Error("failed to submit event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		return err
	}

	return nil
}
