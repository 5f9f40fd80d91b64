package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"peerd/pkg/model"
)

// Bird exports update cycle metrics. It implements bird.Observer and
// bird.RetryObserver.
type Bird struct {
	Cycles    *prometheus.CounterVec
	Retries   prometheus.Counter
	Stale     prometheus.Counter
	Peers     prometheus.Gauge
	LastWrite prometheus.Gauge
	// Reconfigure observes control socket round trips, failed ones included.
	Reconfigure prometheus.Histogram
}

// NewBird creates and registers the metrics with reg.
func NewBird(reg prometheus.Registerer) *Bird {
	m := &Bird{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "peerd_bird_cycles_total",
			Help: "Total number of BIRD update cycles by outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerd_bird_retries_scheduled_total",
			Help: "Total number of delayed BIRD updates scheduled.",
		}),
		Stale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "peerd_bird_retries_stale_total",
			Help: "Total number of delayed BIRD updates dropped because a newer request superseded them.",
		}),
		Peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerd_bird_peers",
			Help: "Number of BGP protocols in the last written configuration.",
		}),
		LastWrite: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "peerd_bird_last_write_timestamp_seconds",
			Help: "Unix time of the last successful configuration write.",
		}),
		Reconfigure: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerd_bird_reconfigure_duration_seconds",
			Help:    "Duration of BIRD configure requests on the control socket.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.Retries, m.Stale, m.Peers, m.LastWrite, m.Reconfigure)
	}
	return m
}

func (m *Bird) CycleDone(ev model.CycleEvent) {
	m.Cycles.WithLabelValues(string(ev.Outcome)).Inc()
	if ev.Reconfigure > 0 {
		m.Reconfigure.Observe(ev.Reconfigure.Seconds())
	}
	if ev.Outcome == model.CycleWritten {
		m.Peers.Set(float64(ev.Lines))
		m.LastWrite.Set(float64(ev.Timestamp.Unix()))
	}
}

func (m *Bird) RetryScheduled(uint32) { m.Retries.Inc() }

func (m *Bird) RetryStale() { m.Stale.Inc() }
