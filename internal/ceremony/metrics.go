package ceremony

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	phasesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ceremony",
		Name:      "phases_completed_total",
		Help:      "Number of ceremony phases completed, by phase.",
	}, []string{"phase"})

	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ceremony",
		Name:      "phase_duration_seconds",
		Help:      "Wall-clock duration of each ceremony phase.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
	}, []string{"phase"})

	beaconWait = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ceremony",
		Name:      "beacon_wait_seconds",
		Help:      "Seconds the host slept waiting for the derived beacon round.",
	})
)

// observePhase records completion and duration of a phase.
func observePhase(phase Phase, started time.Time) {
	phasesCompleted.WithLabelValues(string(phase)).Inc()
	phaseDuration.WithLabelValues(string(phase)).Observe(time.Since(started).Seconds())
}
