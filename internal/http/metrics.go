package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

// registerOnce returns the collector already registered under the same
// descriptor, so routers built against a shared registry reuse one series.
func registerOnce[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	return c
}

func (r *Router) initMetrics() {
	labels := []string{"method", "route", "status"}
	r.requestTotal = registerOnce(r.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deploywatch",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Count of processed HTTP requests",
	}, labels))
	r.requestLatency = registerOnce(r.registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "deploywatch",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution of HTTP handlers",
		Buckets:   latencyBuckets,
	}, labels))
	r.rateLimitHits = registerOnce(r.registerer, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "deploywatch",
		Subsystem: "http",
		Name:      "rate_limit_hits_total",
		Help:      "Deploy triggers refused by the rate limiter",
	}))
	r.deployTriggers = registerOnce(r.registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "deploywatch",
		Subsystem: "http",
		Name:      "deploy_triggers_total",
		Help:      "Deploy hook triggers by outcome",
	}, []string{"outcome"}))
}

func (r *Router) recordRequest(method, route string, status int, took time.Duration) {
	code := strconv.Itoa(status)
	r.requestTotal.WithLabelValues(method, route, code).Inc()
	r.requestLatency.WithLabelValues(method, route, code).Observe(took.Seconds())
}
