package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	eventsmemory "github.com/aescanero/cellvert/pkg/adapters/events/memory"
	"github.com/aescanero/cellvert/pkg/adapters/host"
	"github.com/aescanero/cellvert/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// startSession runs the initial commit+run pass over the document
func startSession(t *testing.T, h *harness) {
	t.Helper()
	h.submit(t, domain.EventTypeSessionStart, "")
	h.waitIdle(t)
}

// assertCommitPrecedesRun checks that every run is immediately preceded by a successful commit
func assertCommitPrecedesRun(t *testing.T, trace []string) {
	t.Helper()
	for i, entry := range trace {
		if !strings.HasPrefix(entry, "run:") {
			continue
		}
		require.Greater(t, i, 0, "run without preceding commit: %v", trace)
		prev := trace[i-1]
		assert.True(t, strings.HasPrefix(prev, "commit:") && prev != "commit:error",
			"run %q preceded by %q", entry, prev)
	}
}

func TestManager_SessionStartThenRevertReplays(t *testing.T) {
	h := newHarness(t, code("U1", "U2", "U3"))

	startSession(t, h)

	assert.Equal(t, []string{
		"commit:c1", "run:U1",
		"commit:c2", "run:U2",
		"commit:c3", "run:U3",
	}, h.trace.all())
	assert.Equal(t, map[string]string{"U1": "c1", "U2": "c2", "U3": "c3"}, h.mgr.Index().Snapshot())

	// Re-running U2 reverts to c2 and replays U2 and U3
	h.submit(t, domain.EventTypeAboutToRun, "U2")
	h.waitIdle(t)

	assert.Equal(t, []string{
		"commit:c1", "run:U1",
		"commit:c2", "run:U2",
		"commit:c3", "run:U3",
		"revert:c2",
		"commit:c4", "run:U2",
		"commit:c5", "run:U3",
	}, h.trace.all())
	assert.Equal(t, map[string]string{"U1": "c1", "U2": "c4", "U3": "c5"}, h.mgr.Index().Snapshot())
	assertCommitPrecedesRun(t, h.trace.all())
	assert.Empty(t, h.host.errors())
}

func TestManager_FirstRunCommitsBeforeRunning(t *testing.T) {
	h := newHarness(t, code("U1", "U2"))

	h.submit(t, domain.EventTypeAboutToRun, "U1")
	h.waitIdle(t)

	assert.Equal(t, []string{"commit:c1", "run:U1"}, h.trace.all())

	hash, ok := h.mgr.Index().Lookup("U1")
	require.True(t, ok)
	assert.Equal(t, "c1", hash)
	assert.Empty(t, h.backend.revertCalls())
}

func TestManager_CascadeCoversEveryFollowingUnitOnce(t *testing.T) {
	units := []domain.Unit{
		{ID: "U1", Kind: domain.UnitKindCode},
		{ID: "M1", Kind: domain.UnitKindMarkdown},
		{ID: "U2", Kind: domain.UnitKindCode},
		{ID: "U3", Kind: domain.UnitKindCode},
		{ID: "U4", Kind: domain.UnitKindCode},
	}
	h := newHarness(t, units)
	startSession(t, h)

	before := len(h.trace.all())
	h.submit(t, domain.EventTypeAboutToRun, "U2")
	h.waitIdle(t)

	assert.Equal(t, []string{
		"revert:c2",
		"commit:c5", "run:U2",
		"commit:c6", "run:U3",
		"commit:c7", "run:U4",
	}, h.trace.all()[before:])

	_, ok := h.mgr.Index().Lookup("M1")
	assert.False(t, ok, "non-runnable units are never checkpointed")
}

func TestManager_NonRunnableUnitPassesThrough(t *testing.T) {
	h := newHarness(t, []domain.Unit{{ID: "M1", Kind: domain.UnitKindMarkdown}})

	h.submit(t, domain.EventTypeAboutToRun, "M1")
	h.waitIdle(t)

	assert.Empty(t, h.trace.all())
	assert.Empty(t, h.host.errors())
}

func TestManager_RevertWithoutCheckpointIsFatal(t *testing.T) {
	h := newHarness(t, code("U1", "U2"))

	h.submit(t, domain.EventTypeRevertRequested, "U1")
	h.waitIdle(t)

	assert.Empty(t, h.backend.revertCalls())
	assert.Empty(t, h.trace.all())
	assert.Equal(t, 0, h.mgr.Index().Len())

	reported := h.host.errors()
	require.Len(t, reported, 1)
	assert.True(t, domain.IsMissingCheckpoint(reported[0]))
}

func TestManager_RerunFlagWithoutCheckpointIsFatal(t *testing.T) {
	h := newHarness(t, code("U1"))

	h.submitRerun(t, "U1")
	h.waitIdle(t)

	assert.Empty(t, h.trace.all())
	reported := h.host.errors()
	require.Len(t, reported, 1)
	assert.True(t, domain.IsMissingCheckpoint(reported[0]))
}

func TestManager_CommitFailureFailsClosed(t *testing.T) {
	h := newHarness(t, code("U1"))
	h.backend.failCommits(errors.New("connection refused"))

	h.submit(t, domain.EventTypeAboutToRun, "U1")
	h.waitIdle(t)

	assert.Equal(t, []string{"commit:error"}, h.trace.all())
	assert.Equal(t, 0, h.mgr.Index().Len())

	reported := h.host.errors()
	require.Len(t, reported, 1)
	assert.Equal(t, domain.ErrCodeBackendUnavailable, domain.CodeOf(reported[0]))
}

func TestManager_CommitProtocolErrorKeepsCode(t *testing.T) {
	h := newHarness(t, code("U1"))
	h.backend.failCommits(domain.NewError(domain.ErrCodeBackendProtocol, "", "empty hash", nil))

	h.submit(t, domain.EventTypeAboutToRun, "U1")
	h.waitIdle(t)

	reported := h.host.errors()
	require.Len(t, reported, 1)
	assert.Equal(t, domain.ErrCodeBackendProtocol, domain.CodeOf(reported[0]))
	assert.Equal(t, 0, h.mgr.Index().Len())
}

func TestManager_EventsDuringCycleAreQueued(t *testing.T) {
	h := newHarness(t, code("U1", "U2", "U3"))
	h.host.configure(false, false)

	h.submit(t, domain.EventTypeAboutToRun, "U1")
	h.waitRunning(t, "U1", 0)

	h.submit(t, domain.EventTypeAboutToRun, "U3")
	h.waitRunning(t, "U1", 1)

	assert.Equal(t, []string{"commit:c1", "run:U1"}, h.trace.all())

	h.submit(t, domain.EventTypeFinished, "U1")
	h.waitRunning(t, "U3", 0)

	assert.Equal(t, []string{"commit:c1", "run:U1", "commit:c2", "run:U3"}, h.trace.all())

	h.submit(t, domain.EventTypeFinished, "U3")
	h.waitIdle(t)
}

func TestManager_PendingRevertClearedAfterLastUnit(t *testing.T) {
	h := newHarness(t, code("U1", "U2", "U3"))
	startSession(t, h)
	h.host.configure(false, false)

	h.submit(t, domain.EventTypeAboutToRun, "U2")
	h.waitRunning(t, "U2", 0)
	assert.Equal(t, "U2", h.mgr.Status().PendingRevert)

	// A second revert while one is pending is queued, not interleaved
	h.submit(t, domain.EventTypeRevertRequested, "U1")
	h.waitRunning(t, "U2", 1)

	h.submit(t, domain.EventTypeFinished, "U2")
	h.waitRunning(t, "U3", 1)
	assert.Equal(t, "U2", h.mgr.Status().PendingRevert)

	h.host.configure(true, true)
	h.submit(t, domain.EventTypeFinished, "U3")
	h.waitIdle(t)

	assert.Empty(t, h.mgr.Status().PendingRevert)
	assert.Equal(t, []string{"c2", "c1"}, h.backend.revertCalls())
	assert.Equal(t, map[string]string{"U1": "c6", "U2": "c7", "U3": "c8"}, h.mgr.Index().Snapshot())
	assertCommitPrecedesRun(t, h.trace.all())
}

func TestManager_RevertFailureLeavesIndexUntouched(t *testing.T) {
	h := newHarness(t, code("U1", "U2", "U3"))
	startSession(t, h)
	h.backend.failReverts(errors.New("timeout"))

	before := len(h.trace.all())
	h.submit(t, domain.EventTypeAboutToRun, "U2")
	h.waitIdle(t)

	assert.Equal(t, []string{"revert:error"}, h.trace.all()[before:])
	assert.Equal(t, map[string]string{"U1": "c1", "U2": "c2", "U3": "c3"}, h.mgr.Index().Snapshot())
	assert.Empty(t, h.mgr.Status().PendingRevert)

	reported := h.host.errors()
	require.Len(t, reported, 1)
	assert.True(t, domain.IsBackendFailure(reported[0]))
}

func TestManager_CommitFailureAbortsCascade(t *testing.T) {
	h := newHarness(t, code("U1", "U2", "U3"))
	startSession(t, h)
	h.backend.failCommits(nil, errors.New("disk full"))

	before := len(h.trace.all())
	h.submit(t, domain.EventTypeAboutToRun, "U2")
	h.waitIdle(t)

	assert.Equal(t, []string{"revert:c2", "commit:c4", "run:U2", "commit:error"}, h.trace.all()[before:])
	assert.Equal(t, map[string]string{"U1": "c1", "U2": "c4", "U3": "c3"}, h.mgr.Index().Snapshot())
	assert.Len(t, h.host.errors(), 1)
}

func TestManager_FocusIsFallbackOnly(t *testing.T) {
	h := newHarness(t, code("U1", "U2", "U3"))
	startSession(t, h)

	// Payload wins over focus
	h.submit(t, domain.EventTypeFocusChanged, "U3")
	h.submit(t, domain.EventTypeAboutToRun, "U2")
	h.waitIdle(t)
	assert.Equal(t, []string{"c2"}, h.backend.revertCalls())

	// Empty payload falls back to the focused unit
	h.submit(t, domain.EventTypeAboutToRun, "")
	h.waitIdle(t)
	assert.Equal(t, []string{"c2", "c5"}, h.backend.revertCalls())
	assert.Equal(t, "U3", h.mgr.Status().ActiveUnit)
}

func TestManager_UnresolvableUnits(t *testing.T) {
	h := newHarness(t, code("U1"))

	h.submit(t, domain.EventTypeAboutToRun, "")
	h.submit(t, domain.EventTypeAboutToRun, "ghost")
	h.waitIdle(t)

	assert.Empty(t, h.trace.all())
	reported := h.host.errors()
	require.Len(t, reported, 2)
	for _, err := range reported {
		assert.Equal(t, domain.ErrCodeUnknownUnit, domain.CodeOf(err))
	}
}

func TestManager_StrayFinishedIgnored(t *testing.T) {
	h := newHarness(t, code("U1"))

	h.submit(t, domain.EventTypeFinished, "U1")
	h.waitIdle(t)

	assert.Empty(t, h.trace.all())
	assert.Empty(t, h.host.errors())
}

func TestManager_HostRunFailure(t *testing.T) {
	h := newHarness(t, code("U1"))
	h.host.failRuns(errors.New("kernel dead"))

	h.submit(t, domain.EventTypeAboutToRun, "U1")
	h.waitIdle(t)

	reported := h.host.errors()
	require.Len(t, reported, 1)
	assert.Equal(t, domain.ErrCodeHostFailure, domain.CodeOf(reported[0]))
}

func TestManager_InvalidDocumentRejectedOnStart(t *testing.T) {
	h := newHarness(t, []domain.Unit{
		{ID: "U1", Kind: domain.UnitKindCode},
		{ID: "U1", Kind: domain.UnitKindCode},
	})

	startSession(t, h)

	assert.Empty(t, h.trace.all())
	assert.Len(t, h.host.errors(), 1)
}

func TestManager_HistoryRecordsEveryCheckpoint(t *testing.T) {
	h := newHarness(t, code("U1", "U2"))
	startSession(t, h)

	h.submit(t, domain.EventTypeAboutToRun, "U1")
	h.waitIdle(t)

	entries, err := h.history.List(context.Background(), "session-1")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "c1", entries[0].Hash)
	assert.False(t, entries[0].Replay)
	assert.Equal(t, "U1", entries[2].UnitID)
	assert.Equal(t, "c3", entries[2].Hash)
	assert.True(t, entries[2].Replay)
}

func TestManager_ShutdownRejectsSubmit(t *testing.T) {
	trace := &traceLog{}
	host := &fakeHost{units: code("U1"), trace: trace}
	mgr := NewManager(&fakeBackend{trace: trace}, host, nil, nil, nopMetrics{}, NewValidator(), zap.NewNop(), Options{})
	host.mgr = mgr

	assert.NotEmpty(t, mgr.SessionID())

	mgr.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	assert.ErrorIs(t, mgr.Submit(domain.Event{Type: domain.EventTypeAboutToRun, UnitID: "U1"}), ErrClosed)
}

type errorMetrics struct {
	nopMetrics
	mu    sync.Mutex
	codes []string
}

func (m *errorMetrics) RecordError(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
}

func (m *errorMetrics) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.codes...)
}

// With no host connected the run command cannot be delivered, so the
// manager must fail the unit instead of waiting for a finish forever.
func TestManager_NoHostConnectedFailsRun(t *testing.T) {
	logger := zaptest.NewLogger(t)
	bus := eventsmemory.NewInMemoryEventBus()
	bridge := host.NewBridge(bus, "session-1", logger)
	bridge.SetUnits(code("U1", "U2"))

	trace := &traceLog{}
	metrics := &errorMetrics{}
	mgr := NewManager(&fakeBackend{trace: trace}, bridge, bus, nil, metrics, NewValidator(), logger, Options{
		SessionID:      "session-1",
		HostEchoesRuns: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = mgr.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	require.NoError(t, mgr.Submit(domain.Event{Type: domain.EventTypeAboutToRun, UnitID: "U1"}))
	require.NoError(t, mgr.Submit(domain.Event{Type: domain.EventTypeAboutToRun, UnitID: "U2"}))

	require.Eventually(t, func() bool {
		s := mgr.Status()
		return s.Phase == PhaseIdle && s.Backlog == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"commit:c1", "commit:c2"}, trace.all())
	assert.Equal(t, []string{string(domain.ErrCodeHostFailure), string(domain.ErrCodeHostFailure)}, metrics.all())
	assert.Equal(t, 0, mgr.Status().Deferred)
}
