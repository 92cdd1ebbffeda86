// Package metrics instruments pipeline runs for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lorawan-server/lorawan-analytics/internal/analytics"
)

const namespace = "lorawan_analytics"

// Sources of a pipeline run.
const (
	SourceREST     = "rest"
	SourceUpstream = "upstream"
	SourceNATS     = "nats"
)

// PrometheusMetrics holds the collectors of the service. A nil
// *PrometheusMetrics records nothing.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec // by source
	framesProcessed  prometheus.Counter
	warnings         *prometheus.CounterVec // by warning code
	pipelineDuration prometheus.Histogram
	upstreamRequests *prometheus.CounterVec // by HTTP status, "error" on transport failure
}

// NewPrometheusMetrics registers the collectors on a private registry.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		registry: reg,
		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by request source",
		}, []string{"source"}),
		framesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_processed_total",
			Help:      "Frames passed through the pipeline",
		}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Frame warnings by code",
		}, []string{"code"}),
		pipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time spent computing one bundle",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}),
		upstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Frame queries sent to the upstream service by outcome",
		}, []string{"status"}),
	}
}

// ObservePipeline records one completed run.
func (m *PrometheusMetrics) ObservePipeline(source string, b *analytics.Bundle, took time.Duration) {
	if m == nil || b == nil {
		return
	}
	m.pipelineRuns.WithLabelValues(source).Inc()
	m.framesProcessed.Add(float64(b.TotalFrames))
	m.pipelineDuration.Observe(took.Seconds())
	for _, w := range b.Warnings {
		m.warnings.WithLabelValues(w.Code).Inc()
	}
}

// ObserveUpstream records an upstream query outcome. A status of 0 means
// the request did not complete.
func (m *PrometheusMetrics) ObserveUpstream(status int) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.upstreamRequests.WithLabelValues(label).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
