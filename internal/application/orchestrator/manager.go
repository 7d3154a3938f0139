package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/aescanero/cellvert/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrClosed is returned by Submit after Shutdown
var ErrClosed = errors.New("orchestrator is shut down")

// Options configures a Manager
type Options struct {
	// SessionID tags history entries and published events
	SessionID string

	// HostEchoesRuns is set when the host emits an about-to-run event for
	// units started through RunUnit. Each issued run then swallows one echo.
	HostEchoesRuns bool
}

// Manager drives the checkpoint/revert/replay protocol
type Manager struct {
	backend   ports.Backend
	host      ports.Host
	eventBus  ports.EventBus
	history   ports.CheckpointHistory
	metrics   ports.MetricsCollector
	validator *Validator
	logger    *zap.Logger

	sessionID      string
	hostEchoesRuns bool

	index *Index
	queue *eventQueue

	mu         sync.RWMutex
	state      State
	since      time.Time
	deferred   []domain.Event
	activeUnit string
	echoes     map[string]int

	// submitted - settled is the number of events not yet fully handled
	submitted atomic.Int64
	settled   atomic.Int64

	done   chan struct{}
	cancel context.CancelFunc
}

// Status is a point-in-time view of the manager
type Status struct {
	SessionID     string    `json:"session_id"`
	Phase         Phase     `json:"phase"`
	UnitID        string    `json:"unit_id,omitempty"`
	PendingRevert string    `json:"pending_revert,omitempty"`
	ActiveUnit    string    `json:"active_unit,omitempty"`
	QueueDepth    int       `json:"queue_depth"`
	Deferred      int       `json:"deferred"`
	Backlog       int64     `json:"backlog"`
	Checkpoints   int       `json:"checkpoints"`
	Since         time.Time `json:"since"`
}

// NewManager creates a new orchestrator manager. eventBus and history are optional.
func NewManager(
	backend ports.Backend,
	host ports.Host,
	eventBus ports.EventBus,
	history ports.CheckpointHistory,
	metrics ports.MetricsCollector,
	validator *Validator,
	logger *zap.Logger,
	opts Options,
) *Manager {
	sessionID := opts.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	return &Manager{
		backend:        backend,
		host:           host,
		eventBus:       eventBus,
		history:        history,
		metrics:        metrics,
		validator:      validator,
		logger:         logger,
		sessionID:      sessionID,
		hostEchoesRuns: opts.HostEchoesRuns,
		index:          NewIndex(),
		queue:          newEventQueue(),
		state:          Idle{},
		since:          time.Now(),
		echoes:         make(map[string]int),
	}
}

// SessionID returns the session this manager belongs to
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Index returns the checkpoint index
func (m *Manager) Index() *Index {
	return m.index
}

// Submit queues an event for the manager loop
func (m *Manager) Submit(event domain.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.submitted.Add(1)
	if !m.queue.Enqueue(event) {
		m.submitted.Add(-1)
		return ErrClosed
	}

	m.metrics.SetQueueDepth(m.queue.Len())
	return nil
}

// Status returns the current manager status
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return Status{
		SessionID:     m.sessionID,
		Phase:         m.state.Phase(),
		UnitID:        m.state.UnitID(),
		PendingRevert: pendingRevert(m.state),
		ActiveUnit:    m.activeUnit,
		QueueDepth:    m.queue.Len(),
		Deferred:      len(m.deferred),
		Backlog:       m.submitted.Load() - m.settled.Load(),
		Checkpoints:   m.index.Len(),
		Since:         m.since,
	}
}

// Start runs the manager loop in the background
func (m *Manager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("orchestrator loop stopped", zap.Error(err))
		}
	}()
}

// Run processes events until ctx is cancelled or the queue is closed.
// It is the only goroutine that touches the state machine.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("orchestrator started", zap.String("session_id", m.sessionID))

	for {
		if event, ok := m.next(); ok {
			if !m.handle(ctx, event) {
				m.settled.Add(1)
			}
			m.metrics.SetQueueDepth(m.queue.Len())
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, open := <-m.queue.Wait():
			if !open && m.queue.Len() == 0 {
				m.logger.Info("orchestrator queue closed", zap.String("session_id", m.sessionID))
				return nil
			}
		}
	}
}

// Shutdown stops accepting events and waits for the loop to exit
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	m.queue.Close()

	if m.done == nil {
		return nil
	}

	select {
	case <-m.done:
	case <-ctx.Done():
		m.cancel()
		return fmt.Errorf("shutdown timeout")
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

// next returns deferred events first once the manager is idle, so they
// keep their arrival order relative to anything queued after them.
func (m *Manager) next() (domain.Event, bool) {
	m.mu.Lock()
	if _, idle := m.state.(Idle); idle && len(m.deferred) > 0 {
		event := m.deferred[0]
		m.deferred[0] = domain.Event{}
		m.deferred = m.deferred[1:]
		m.mu.Unlock()
		return event, true
	}
	m.mu.Unlock()

	return m.queue.TryDequeue()
}

// handle processes one event. It returns true when the event was deferred.
func (m *Manager) handle(ctx context.Context, event domain.Event) bool {
	switch event.Type {
	case domain.EventTypeFocusChanged:
		m.mu.Lock()
		m.activeUnit = event.UnitID
		m.mu.Unlock()
		m.logger.Debug("active unit changed", zap.String("unit_id", event.UnitID))
		return false

	case domain.EventTypeFinished:
		m.handleFinished(ctx, event)
		return false

	case domain.EventTypeAboutToRun, domain.EventTypeRevertRequested, domain.EventTypeSessionStart:
		if event.Type != domain.EventTypeSessionStart {
			event.UnitID = m.resolveUnit(event.UnitID)
			if event.UnitID == "" {
				m.fail(ctx, domain.NewError(domain.ErrCodeUnknownUnit, "", "event carries no unit and no unit is focused", nil))
				return false
			}
		}

		if event.Type == domain.EventTypeAboutToRun && m.consumeEcho(event.UnitID) {
			m.logger.Debug("ignoring host echo of issued run", zap.String("unit_id", event.UnitID))
			return false
		}

		if !m.idle() {
			m.deferEvent(event)
			return true
		}

		switch event.Type {
		case domain.EventTypeAboutToRun:
			m.handleAboutToRun(ctx, event)
		case domain.EventTypeRevertRequested:
			m.startRevert(ctx, event.UnitID)
		case domain.EventTypeSessionStart:
			m.startSession(ctx)
		}
		return false

	default:
		m.logger.Warn("ignoring unknown event type",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)))
		return false
	}
}

// resolveUnit uses the event's unit when present and the focused unit otherwise
func (m *Manager) resolveUnit(unitID string) string {
	if unitID != "" {
		return unitID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeUnit
}

func (m *Manager) deferEvent(event domain.Event) {
	m.mu.Lock()
	current := m.state
	m.deferred = append(m.deferred, event)
	m.mu.Unlock()

	conflict := domain.NewError(domain.ErrCodeConcurrentCycle, event.UnitID,
		fmt.Sprintf("cycle in flight for %q, event queued", current.UnitID()), nil)

	m.metrics.RecordDeferred()
	m.logger.Info("deferring event until current cycle resolves",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("phase", string(current.Phase())),
		zap.Error(conflict))
}

// handleAboutToRun decides between a first-run commit and a revert-and-replay
func (m *Manager) handleAboutToRun(ctx context.Context, event domain.Event) {
	units, err := m.host.ListUnits(ctx)
	if err != nil {
		m.fail(ctx, domain.NewError(domain.ErrCodeHostFailure, event.UnitID, "failed to list units", err))
		return
	}

	pos := domain.IndexOf(units, event.UnitID)
	if pos < 0 {
		m.fail(ctx, domain.NewError(domain.ErrCodeUnknownUnit, event.UnitID, "unit is not part of the document", nil))
		return
	}

	unit := units[pos]
	if !unit.Runnable() {
		m.logger.Debug("passing through non-runnable unit",
			zap.String("unit_id", unit.ID),
			zap.String("kind", string(unit.Kind)))
		return
	}

	if _, ok := m.index.Lookup(unit.ID); ok {
		m.revertAndReplay(ctx, unit.ID, units)
		return
	}

	if event.Rerun() {
		m.fail(ctx, domain.NewError(domain.ErrCodeMissingCheckpoint, unit.ID, "host reports a re-run but no checkpoint was recorded", nil))
		return
	}

	m.commitAndRun(ctx, unit, nil)
}

// startRevert handles an explicit revert request
func (m *Manager) startRevert(ctx context.Context, targetID string) {
	if _, ok := m.index.Lookup(targetID); !ok {
		m.fail(ctx, domain.NewError(domain.ErrCodeMissingCheckpoint, targetID, "no checkpoint recorded", nil))
		return
	}

	units, err := m.host.ListUnits(ctx)
	if err != nil {
		m.fail(ctx, domain.NewError(domain.ErrCodeHostFailure, targetID, "failed to list units", err))
		return
	}

	m.revertAndReplay(ctx, targetID, units)
}

// revertAndReplay restores targetID's checkpoint and replays it and every
// unit after it in the order captured here.
func (m *Manager) revertAndReplay(ctx context.Context, targetID string, units []domain.Unit) {
	hash, ok := m.index.Lookup(targetID)
	if !ok {
		m.fail(ctx, domain.NewError(domain.ErrCodeMissingCheckpoint, targetID, "no checkpoint recorded", nil))
		return
	}

	pos := domain.IndexOf(units, targetID)
	if pos < 0 {
		m.fail(ctx, domain.NewError(domain.ErrCodeUnknownUnit, targetID, "unit is not part of the document", nil))
		return
	}

	m.setState(Reverting{Target: targetID})

	m.logger.Info("reverting to checkpoint",
		zap.String("unit_id", targetID),
		zap.String("hash", hash))

	start := time.Now()
	if err := m.backend.Revert(ctx, hash); err != nil {
		m.metrics.RecordRevert("failed", time.Since(start))
		m.setState(Idle{})
		m.fail(ctx, asBackendError(targetID, "revert failed", err))
		return
	}
	m.metrics.RecordRevert("success", time.Since(start))

	m.publish(ctx, domain.EventTypeReverted, targetID, map[string]interface{}{
		"hash": hash,
	})

	m.advance(ctx, newCascade(targetID, units[pos:]))
}

// startSession commits and runs every runnable unit of the document in order
func (m *Manager) startSession(ctx context.Context) {
	units, err := m.host.ListUnits(ctx)
	if err != nil {
		m.fail(ctx, domain.NewError(domain.ErrCodeHostFailure, "", "failed to list units", err))
		return
	}

	if err := m.validator.Validate(units); err != nil {
		m.fail(ctx, domain.NewError(domain.ErrCodeUnknownUnit, "", "invalid document", err))
		return
	}

	m.logger.Info("starting session replay",
		zap.String("session_id", m.sessionID),
		zap.Int("units", len(units)))

	m.advance(ctx, newCascade("", units))
}

// advance runs the next runnable unit of the cascade, or completes it
func (m *Manager) advance(ctx context.Context, c *Cascade) {
	m.setState(CascadeReplaying{Cascade: c})

	for len(c.Remaining) > 0 {
		next := c.Remaining[0]
		c.Remaining = c.Remaining[1:]

		if !next.Runnable() {
			m.logger.Debug("cascade passing through non-runnable unit",
				zap.String("unit_id", next.ID),
				zap.String("kind", string(next.Kind)))
			continue
		}

		m.commitAndRun(ctx, next, c)
		return
	}

	m.setState(Idle{})
	m.metrics.RecordCascade(c.Total)

	m.logger.Info("cascade completed",
		zap.String("target_unit_id", c.TargetID),
		zap.Int("units", c.Total),
		zap.Duration("duration", time.Since(c.StartedAt)))

	m.publish(ctx, domain.EventTypeCascadeCompleted, c.TargetID, map[string]interface{}{
		"units": c.Total,
	})
}

// commitAndRun checkpoints the current state and then asks the host to run unit
func (m *Manager) commitAndRun(ctx context.Context, unit domain.Unit, c *Cascade) {
	m.setState(Committing{Unit: unit.ID, Cascade: c})

	start := time.Now()
	hash, err := m.backend.Commit(ctx)
	if err != nil {
		m.metrics.RecordCommit("failed", time.Since(start))
		m.setState(Idle{})
		if c != nil {
			m.logger.Warn("cascade aborted",
				zap.String("target_unit_id", c.TargetID),
				zap.Int("skipped", len(c.Remaining)))
		}
		m.fail(ctx, asBackendError(unit.ID, "commit failed", err))
		return
	}
	m.metrics.RecordCommit("success", time.Since(start))

	m.index.Record(unit.ID, hash)

	cp := domain.Checkpoint{
		SessionID:   m.sessionID,
		UnitID:      unit.ID,
		Hash:        hash,
		CommittedAt: time.Now(),
		Replay:      c != nil && c.TargetID != "",
	}
	m.appendHistory(ctx, cp)

	m.logger.Info("checkpoint recorded",
		zap.String("unit_id", unit.ID),
		zap.String("hash", hash),
		zap.Bool("replay", cp.Replay))

	m.publish(ctx, domain.EventTypeCheckpointRecorded, unit.ID, map[string]interface{}{
		"hash":   hash,
		"replay": cp.Replay,
	})

	m.setState(Running{Unit: unit.ID, Cascade: c})
	m.armEcho(unit.ID)

	if err := m.host.RunUnit(ctx, unit.ID); err != nil {
		m.consumeEcho(unit.ID)
		m.setState(Idle{})
		m.fail(ctx, domain.NewError(domain.ErrCodeHostFailure, unit.ID, "failed to run unit", err))
		return
	}

	m.metrics.RecordUnitRun(c != nil)
}

// handleFinished completes the running unit and continues any cascade
func (m *Manager) handleFinished(ctx context.Context, event domain.Event) {
	m.mu.RLock()
	running, ok := m.state.(Running)
	m.mu.RUnlock()

	if !ok || running.Unit != event.UnitID {
		m.logger.Warn("ignoring finished event for unit that is not running",
			zap.String("unit_id", event.UnitID),
			zap.String("running_unit_id", m.Status().UnitID))
		return
	}

	m.logger.Debug("unit finished", zap.String("unit_id", event.UnitID))

	if running.Cascade != nil {
		m.advance(ctx, running.Cascade)
		return
	}

	m.setState(Idle{})
}

func (m *Manager) idle() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.state.(Idle)
	return ok
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.since = time.Now()
	m.mu.Unlock()

	m.metrics.SetPhase(string(s.Phase()))
}

func (m *Manager) armEcho(unitID string) {
	if !m.hostEchoesRuns {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.echoes[unitID]++
}

func (m *Manager) consumeEcho(unitID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.echoes[unitID] == 0 {
		return false
	}
	m.echoes[unitID]--
	if m.echoes[unitID] == 0 {
		delete(m.echoes, unitID)
	}
	return true
}

// fail logs, counts and reports an error to the host
func (m *Manager) fail(ctx context.Context, err *domain.Error) {
	m.metrics.RecordError(string(err.Code))
	m.logger.Error("orchestration failed",
		zap.String("code", string(err.Code)),
		zap.String("unit_id", err.UnitID),
		zap.Error(err))

	if reportErr := m.host.ReportError(ctx, err.UnitID, err); reportErr != nil {
		m.logger.Error("failed to report error to host",
			zap.String("unit_id", err.UnitID),
			zap.Error(reportErr))
	}
}

func (m *Manager) appendHistory(ctx context.Context, cp domain.Checkpoint) {
	if m.history == nil {
		return
	}

	if err := m.history.Append(ctx, cp); err != nil {
		m.logger.Warn("failed to append checkpoint history",
			zap.String("unit_id", cp.UnitID),
			zap.Error(err))
	}
}

// publish sends a notification to the checkpoint events topic
func (m *Manager) publish(ctx context.Context, eventType domain.EventType, unitID string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}

	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: m.sessionID,
		UnitID:    unitID,
		Timestamp: time.Now(),
		Data:      data,
	}

	if err := m.eventBus.Publish(ctx, ports.TopicCheckpointEvents, event); err != nil {
		// Notifications are optional, nobody listening is fine
		if errors.Is(err, ports.ErrNoSubscribers) {
			m.logger.Debug("no listener for checkpoint event",
				zap.String("type", string(eventType)),
				zap.String("unit_id", unitID))
			return
		}
		m.logger.Error("failed to publish checkpoint event",
			zap.String("type", string(eventType)),
			zap.String("unit_id", unitID),
			zap.Error(err))
	}
}

// asBackendError keeps coded backend errors and classifies anything else as unavailable
func asBackendError(unitID, message string, err error) *domain.Error {
	var de *domain.Error
	if errors.As(err, &de) && (de.Code == domain.ErrCodeBackendUnavailable || de.Code == domain.ErrCodeBackendProtocol) {
		return domain.NewError(de.Code, unitID, message, err)
	}
	return domain.NewError(domain.ErrCodeBackendUnavailable, unitID, message, err)
}
