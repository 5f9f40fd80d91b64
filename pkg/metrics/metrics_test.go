package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"peerd/pkg/model"
)

func TestBird(t *testing.T) {
	m := NewBird(prometheus.NewRegistry())

	m.CycleDone(model.CycleEvent{Outcome: model.CycleDeferred})
	m.CycleDone(model.CycleEvent{Outcome: model.CycleWritten, Lines: 3, Timestamp: time.Unix(1700000000, 0)})
	m.RetryScheduled(0)
	m.RetryStale()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("deferred")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Cycles.WithLabelValues("written")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Peers))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastWrite))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Stale))
}

func TestReconfigureHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBird(reg)

	m.CycleDone(model.CycleEvent{Outcome: model.CycleWritten})
	m.CycleDone(model.CycleEvent{Outcome: model.CycleWritten, Reconfigure: 20 * time.Millisecond})
	m.CycleDone(model.CycleEvent{Outcome: model.CycleFailed, Reconfigure: time.Second})

	families, err := reg.Gather()
	assert.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "peerd_bird_reconfigure_duration_seconds" {
			assert.EqualValues(t, 2, f.GetMetric()[0].GetHistogram().GetSampleCount())
			return
		}
	}
	t.Fatal("histogram not registered")
}
