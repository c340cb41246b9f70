package autodeploy

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var jobDurationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 900}

type metrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	running  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploydeck",
			Subsystem: "autodeploy",
			Name:      "jobs_total",
			Help:      "Auto-deploy jobs by final state",
		}, []string{"project", "state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deploydeck",
			Subsystem: "autodeploy",
			Name:      "job_duration_seconds",
			Help:      "Wall time of auto-deploy script runs",
			Buckets:   jobDurationBuckets,
		}, []string{"project", "state"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "deploydeck",
			Subsystem: "autodeploy",
			Name:      "jobs_running",
			Help:      "Auto-deploy scripts currently executing",
		}),
	}
	if reg == nil {
		return m
	}
	m.jobs = register(reg, m.jobs)
	m.duration = register(reg, m.duration)
	m.running = register(reg, m.running)
	return m
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}
