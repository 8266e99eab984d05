// Package metrics exposes Prometheus collectors for providers, caches,
// analyses and monitoring.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypto-risk-scorer/internal/analyzer"
	"crypto-risk-scorer/internal/cache"
	"crypto-risk-scorer/internal/fetcher"
	"crypto-risk-scorer/internal/service"
)

const namespace = "riskscope"

// Registry holds every collector on a private prometheus.Registry.
type Registry struct {
	reg *prometheus.Registry

	ProviderRequests *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
	Analyses         *prometheus.CounterVec
	Fallbacks        *prometheus.CounterVec
	MonitorTicks     *prometheus.CounterVec
	MonitorAlerts    *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
}

// New creates and registers all collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Upstream provider requests by outcome",
			},
			[]string{"provider", "outcome"},
		),

		ProviderLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Upstream provider request latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"provider"},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Cache lookups by backend and result",
			},
			[]string{"backend", "result"},
		),

		Analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "analyses_total",
				Help:      "Completed analyses by risk level",
			},
			[]string{"level", "fallback"},
		),

		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallback_substitutions_total",
				Help:      "Inputs replaced by fallback stand-ins",
			},
			[]string{"component"},
		),

		MonitorTicks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_ticks_total",
				Help:      "Monitoring ticks by outcome",
			},
			[]string{"outcome"},
		),

		MonitorAlerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "monitor_alerts_total",
				Help:      "Monitoring alerts by kind",
			},
			[]string{"kind"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "method", "code"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.ProviderRequests,
		r.ProviderLatency,
		r.CacheLookups,
		r.Analyses,
		r.Fallbacks,
		r.MonitorTicks,
		r.MonitorAlerts,
		r.HTTPRequests,
		r.HTTPDuration,
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveProviderRequest implements fetcher.Observer.
func (r *Registry) ObserveProviderRequest(provider, outcome string, elapsed time.Duration) {
	r.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	r.ProviderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// CacheLookup implements cache.Recorder.
func (r *Registry) CacheLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(backend, result).Inc()
}

// FallbackUsed implements analyzer.Recorder.
func (r *Registry) FallbackUsed(component string) {
	r.Fallbacks.WithLabelValues(component).Inc()
}

// AnalysisCompleted implements service.Recorder.
func (r *Registry) AnalysisCompleted(level string, fallback bool) {
	flag := "false"
	if fallback {
		flag = "true"
	}
	r.Analyses.WithLabelValues(level, flag).Inc()
}

// MonitorTick implements service.Recorder.
func (r *Registry) MonitorTick(outcome string) {
	r.MonitorTicks.WithLabelValues(outcome).Inc()
}

// MonitorAlert implements service.Recorder.
func (r *Registry) MonitorAlert(kind string) {
	r.MonitorAlerts.WithLabelValues(kind).Inc()
}

// ObserveHTTP records one served request.
func (r *Registry) ObserveHTTP(route, method string, code int, elapsed time.Duration) {
	r.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

var (
	_ fetcher.Observer  = (*Registry)(nil)
	_ cache.Recorder    = (*Registry)(nil)
	_ analyzer.Recorder = (*Registry)(nil)
	_ service.Recorder  = (*Registry)(nil)
)
