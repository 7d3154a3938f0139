package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/cellvert/pkg/adapters/storage/memory"
	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// traceLog records backend and host calls in the order they happen
type traceLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *traceLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *traceLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

type fakeBackend struct {
	mu         sync.Mutex
	trace      *traceLog
	commits    int
	commitErrs []error
	revertErr  error
	reverts    []string
}

func (b *fakeBackend) Commit(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.commitErrs) > 0 {
		err := b.commitErrs[0]
		b.commitErrs = b.commitErrs[1:]
		if err != nil {
			b.trace.add("commit:error")
			return "", err
		}
	}

	b.commits++
	hash := fmt.Sprintf("c%d", b.commits)
	b.trace.add("commit:" + hash)
	return hash, nil
}

func (b *fakeBackend) Revert(ctx context.Context, hash string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reverts = append(b.reverts, hash)
	if b.revertErr != nil {
		b.trace.add("revert:error")
		return b.revertErr
	}
	b.trace.add("revert:" + hash)
	return nil
}

func (b *fakeBackend) failCommits(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commitErrs = errs
}

func (b *fakeBackend) failReverts(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.revertErr = err
}

func (b *fakeBackend) revertCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.reverts...)
}

type fakeHost struct {
	mu         sync.Mutex
	units      []domain.Unit
	trace      *traceLog
	mgr        *Manager
	autoFinish bool
	echo       bool
	runErr     error
	reported   []error
}

func (h *fakeHost) ListUnits(ctx context.Context) ([]domain.Unit, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Unit(nil), h.units...), nil
}

func (h *fakeHost) RunUnit(ctx context.Context, unitID string) error {
	h.mu.Lock()
	runErr, echo, autoFinish := h.runErr, h.echo, h.autoFinish
	h.mu.Unlock()

	if runErr != nil {
		return runErr
	}

	h.trace.add("run:" + unitID)

	if echo {
		_ = h.mgr.Submit(domain.Event{Type: domain.EventTypeAboutToRun, UnitID: unitID})
	}
	if autoFinish {
		_ = h.mgr.Submit(domain.Event{Type: domain.EventTypeFinished, UnitID: unitID})
	}
	return nil
}

func (h *fakeHost) configure(autoFinish, echo bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoFinish = autoFinish
	h.echo = echo
}

func (h *fakeHost) failRuns(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runErr = err
}

func (h *fakeHost) ReportError(ctx context.Context, unitID string, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reported = append(h.reported, err)
	return nil
}

func (h *fakeHost) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.reported...)
}

type nopMetrics struct{}

func (nopMetrics) RecordCommit(string, time.Duration) {}
func (nopMetrics) RecordRevert(string, time.Duration) {}
func (nopMetrics) RecordUnitRun(bool)                 {}
func (nopMetrics) RecordCascade(int)                  {}
func (nopMetrics) RecordError(string)                 {}
func (nopMetrics) RecordDeferred()                    {}
func (nopMetrics) SetQueueDepth(int)                  {}
func (nopMetrics) SetPhase(string)                    {}

type harness struct {
	mgr     *Manager
	backend *fakeBackend
	host    *fakeHost
	history *memory.InMemoryCheckpointHistory
	trace   *traceLog
}

func code(ids ...string) []domain.Unit {
	units := make([]domain.Unit, len(ids))
	for i, id := range ids {
		units[i] = domain.Unit{ID: id, Kind: domain.UnitKindCode}
	}
	return units
}

func newHarness(t *testing.T, units []domain.Unit) *harness {
	t.Helper()

	trace := &traceLog{}
	backend := &fakeBackend{trace: trace}
	host := &fakeHost{units: units, trace: trace, autoFinish: true, echo: true}
	history := memory.NewInMemoryCheckpointHistory()

	mgr := NewManager(backend, host, nil, history, nopMetrics{}, NewValidator(), zaptest.NewLogger(t), Options{
		SessionID:      "session-1",
		HostEchoesRuns: true,
	})
	host.mgr = mgr

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mgr.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{mgr: mgr, backend: backend, host: host, history: history, trace: trace}
}

func (h *harness) submit(t *testing.T, eventType domain.EventType, unitID string) {
	t.Helper()
	require.NoError(t, h.mgr.Submit(domain.Event{Type: eventType, UnitID: unitID}))
}

func (h *harness) submitRerun(t *testing.T, unitID string) {
	t.Helper()
	require.NoError(t, h.mgr.Submit(domain.Event{
		Type:   domain.EventTypeAboutToRun,
		UnitID: unitID,
		Data:   map[string]interface{}{"rerun": true},
	}))
}

// waitIdle waits until every submitted event is handled and the manager is idle
func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.mgr.Status()
		return s.Phase == PhaseIdle && s.Backlog == 0
	}, 2*time.Second, 5*time.Millisecond)
}

// waitRunning waits until unitID is running with nothing else to handle
func (h *harness) waitRunning(t *testing.T, unitID string, deferred int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.mgr.Status()
		return s.Phase == PhaseRunning && s.UnitID == unitID &&
			s.QueueDepth == 0 && s.Backlog == int64(deferred) && s.Deferred == deferred
	}, 2*time.Second, 5*time.Millisecond)
}
