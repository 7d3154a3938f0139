package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/aescanero/cellvert/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bridge implements ports.Host over the event bus. The host pushes its
// document through SetUnits and receives commands on ports.TopicHostCommands.
type Bridge struct {
	eventBus  ports.EventBus
	sessionID string
	logger    *zap.Logger

	mu        sync.RWMutex
	units     []domain.Unit
	updatedAt time.Time
}

// NewBridge creates a host bridge
func NewBridge(eventBus ports.EventBus, sessionID string, logger *zap.Logger) *Bridge {
	return &Bridge{
		eventBus:  eventBus,
		sessionID: sessionID,
		logger:    logger,
	}
}

// SetUnits replaces the document ordering
func (b *Bridge) SetUnits(units []domain.Unit) {
	cp := make([]domain.Unit, len(units))
	copy(cp, units)

	b.mu.Lock()
	b.units = cp
	b.updatedAt = time.Now()
	b.mu.Unlock()

	b.logger.Debug("host document updated", zap.Int("units", len(cp)))
}

// UpdatedAt returns when the document was last pushed
func (b *Bridge) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// ListUnits returns the latest document ordering
func (b *Bridge) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	units := make([]domain.Unit, len(b.units))
	copy(units, b.units)
	return units, nil
}

// RunUnit publishes a run command for the host
func (b *Bridge) RunUnit(ctx context.Context, unitID string) error {
	if err := b.send(ctx, domain.EventTypeRunUnit, unitID, nil); err != nil {
		return fmt.Errorf("failed to request run of %s: %w", unitID, err)
	}
	return nil
}

// ReportError publishes an error notification for the host
func (b *Bridge) ReportError(ctx context.Context, unitID string, err error) error {
	data := map[string]interface{}{
		"message": err.Error(),
		"code":    string(domain.CodeOf(err)),
	}
	if sendErr := b.send(ctx, domain.EventTypeHostError, unitID, data); sendErr != nil {
		return fmt.Errorf("failed to report error: %w", sendErr)
	}
	return nil
}

func (b *Bridge) send(ctx context.Context, eventType domain.EventType, unitID string, data map[string]interface{}) error {
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		SessionID: b.sessionID,
		UnitID:    unitID,
		Timestamp: time.Now(),
		Data:      data,
	}

	return b.eventBus.Publish(ctx, ports.TopicHostCommands, event)
}
