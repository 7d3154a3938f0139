package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordCommit("success", 10*time.Millisecond)
	c.RecordCommit("success", 20*time.Millisecond)
	c.RecordCommit("failure", time.Millisecond)
	c.RecordRevert("success", time.Millisecond)
	c.RecordUnitRun(true)
	c.RecordUnitRun(false)
	c.RecordUnitRun(true)
	c.RecordError("MISSING_CHECKPOINT")
	c.RecordDeferred()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.commits.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.commits.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reverts.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.unitRuns.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("MISSING_CHECKPOINT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.deferred))
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.SetQueueDepth(3)
	c.SetPhase("running")
	c.SetPhase("reverting")
	c.RecordHealth(true, 2, 5)

	assert.Equal(t, 3.0, testutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.phase.WithLabelValues("running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.phase.WithLabelValues("reverting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.healthy))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.backlog))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.checkpoints))
}

func TestCollector_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCollector(prometheus.NewRegistry())
		NewCollector(prometheus.NewRegistry())
	})
}
