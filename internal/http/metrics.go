package httpx

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/deploydeck/internal/domain"
)

var histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20}

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploydeck",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "deploydeck",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploydeck",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})

		r.logLines = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploydeck",
			Subsystem: "reader",
			Name:      "log_lines_total",
			Help:      "Log lines scanned and matched per read",
		}, []string{"kind", "source", "result"})

		r.webhookOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "deploydeck",
			Subsystem: "webhook",
			Name:      "deliveries_total",
			Help:      "Webhook deliveries by response outcome",
		}, []string{"outcome"})

		r.requestTotal = registerCounterVec(r.requestTotal)
		r.rateLimitHits = registerCounterVec(r.rateLimitHits)
		r.logLines = registerCounterVec(r.logLines)
		r.webhookOutcomes = registerCounterVec(r.webhookOutcomes)
		if err := prometheus.Register(r.requestLatency); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					r.requestLatency = existing
				}
			}
		}
		r.metricsInitialized = true
	})
}

func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) handleMetrics() http.Handler {
	return promhttp.Handler()
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordRead(kind string, meta domain.ReadMeta) {
	if !r.metricsInitialized {
		return
	}
	r.logLines.WithLabelValues(kind, meta.Source, "scanned").Add(float64(meta.LinesScanned))
	r.logLines.WithLabelValues(kind, meta.Source, "matched").Add(float64(meta.LinesMatched))
}

func (r *Router) recordWebhook(outcome string) {
	if !r.metricsInitialized {
		return
	}
	r.webhookOutcomes.WithLabelValues(outcome).Inc()
}
