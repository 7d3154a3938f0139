package listener

import (
	"sync"
	"time"

	"github.com/aescanero/cellvert/internal/application/orchestrator"
	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// StatusSource reports the orchestrator status
type StatusSource interface {
	Status() orchestrator.Status
}

// HealthRecorder receives health check results
type HealthRecorder interface {
	RecordHealth(healthy bool, backlog int64, checkpoints int)
}

// HealthMonitor periodically checks the orchestrator
type HealthMonitor struct {
	source     StatusSource
	recorder   HealthRecorder
	grpcHealth *health.Server
	interval   time.Duration
	stuckAfter time.Duration
	logger     *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	last    *HealthStatus
}

// HealthStatus represents the health of the orchestrator
type HealthStatus struct {
	Phase       orchestrator.Phase
	UnitID      string
	InPhase     time.Duration
	Backlog     int64
	Checkpoints int
	Healthy     bool
	Timestamp   time.Time
}

// NewHealthMonitor creates a new health monitor. recorder and grpcHealth are optional.
func NewHealthMonitor(source StatusSource, recorder HealthRecorder, grpcHealth *health.Server, interval, stuckAfter time.Duration, logger *zap.Logger) *HealthMonitor {
	return &HealthMonitor{
		source:     source,
		recorder:   recorder,
		grpcHealth: grpcHealth,
		interval:   interval,
		stuckAfter: stuckAfter,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	h.Check()
	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)

	if h.grpcHealth != nil {
		h.grpcHealth.Shutdown()
	}
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.Check()
		}
	}
}

// Check evaluates the orchestrator once and publishes the result
func (h *HealthMonitor) Check() *HealthStatus {
	status := h.GetStatus()

	h.mu.Lock()
	h.last = status
	h.mu.Unlock()

	h.logger.Debug("orchestrator health check",
		zap.String("phase", string(status.Phase)),
		zap.String("unit_id", status.UnitID),
		zap.Duration("in_phase", status.InPhase),
		zap.Int64("backlog", status.Backlog),
		zap.Int("checkpoints", status.Checkpoints),
		zap.Bool("healthy", status.Healthy))

	if h.recorder != nil {
		h.recorder.RecordHealth(status.Healthy, status.Backlog, status.Checkpoints)
	}

	if h.grpcHealth != nil {
		serving := healthpb.HealthCheckResponse_SERVING
		if !status.Healthy {
			serving = healthpb.HealthCheckResponse_NOT_SERVING
		}
		h.grpcHealth.SetServingStatus("", serving)
	}

	if !status.Healthy {
		h.logger.Warn("backend call exceeded stuck threshold",
			zap.String("phase", string(status.Phase)),
			zap.String("unit_id", status.UnitID),
			zap.Duration("in_phase", status.InPhase))
	} else if status.Phase == orchestrator.PhaseRunning && status.InPhase > h.stuckAfter {
		// Units have no execution timeout.
		h.logger.Info("unit still running",
			zap.String("unit_id", status.UnitID),
			zap.Duration("in_phase", status.InPhase))
	}

	return status
}

// GetStatus computes the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	s := h.source.Status()
	now := time.Now()
	inPhase := now.Sub(s.Since)

	healthy := true
	switch s.Phase {
	case orchestrator.PhaseCommitting, orchestrator.PhaseReverting:
		healthy = inPhase <= h.stuckAfter
	}

	return &HealthStatus{
		Phase:       s.Phase,
		UnitID:      s.UnitID,
		InPhase:     inPhase,
		Backlog:     s.Backlog,
		Checkpoints: s.Checkpoints,
		Healthy:     healthy,
		Timestamp:   now,
	}
}

// IsHealthy returns the result of the last check
func (h *HealthMonitor) IsHealthy() bool {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()

	if last == nil {
		return h.GetStatus().Healthy
	}
	return last.Healthy
}
