package listener

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/cellvert/pkg/adapters/events/memory"
	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/aescanero/cellvert/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *fakeSubmitter) Submit(event domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSubmitter) SessionID() string { return "s1" }

func (f *fakeSubmitter) received() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Event, len(f.events))
	copy(out, f.events)
	return out
}

func publish(t *testing.T, bus ports.EventBus, event domain.Event) error {
	t.Helper()
	return bus.Publish(context.Background(), ports.TopicUnitEvents, event)
}

func TestListener_ForwardsHostEventsInOrder(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	sub := &fakeSubmitter{}
	l := New(bus, sub, zaptest.NewLogger(t))

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.NoError(t, publish(t, bus, domain.Event{ID: "1", Type: domain.EventTypeAboutToRun, UnitID: "a"}))
	require.NoError(t, publish(t, bus, domain.Event{ID: "2", Type: domain.EventTypeFinished, UnitID: "a", SessionID: "s1"}))
	require.NoError(t, publish(t, bus, domain.Event{ID: "3", Type: domain.EventTypeFocusChanged, UnitID: "b"}))

	got := sub.received()
	require.Len(t, got, 3)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "2", got[1].ID)
	assert.Equal(t, "3", got[2].ID)
}

func TestListener_IgnoresForeignEvents(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	sub := &fakeSubmitter{}
	l := New(bus, sub, zaptest.NewLogger(t))
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	require.NoError(t, publish(t, bus, domain.Event{Type: domain.EventTypeRunUnit, UnitID: "a"}))
	require.NoError(t, publish(t, bus, domain.Event{Type: domain.EventTypeAboutToRun, UnitID: "a", SessionID: "other"}))

	assert.Empty(t, sub.received())
}

func TestListener_PropagatesSubmitError(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	sub := &fakeSubmitter{err: errors.New("closed")}
	l := New(bus, sub, zaptest.NewLogger(t))
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	err := publish(t, bus, domain.Event{Type: domain.EventTypeAboutToRun, UnitID: "a"})
	assert.Error(t, err)
}

func TestListener_StartTwice(t *testing.T) {
	l := New(memory.NewInMemoryEventBus(), &fakeSubmitter{}, zaptest.NewLogger(t))
	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	assert.Error(t, l.Start(context.Background()))
}

func TestListener_StopUnsubscribes(t *testing.T) {
	bus := memory.NewInMemoryEventBus()
	sub := &fakeSubmitter{}
	l := New(bus, sub, zaptest.NewLogger(t))
	require.NoError(t, l.Start(context.Background()))

	l.Stop()

	assert.Eventually(t, func() bool {
		return bus.SubscriberCount(ports.TopicUnitEvents) == 0
	}, time.Second, 10*time.Millisecond)
}
