// Package metrics exposes Prometheus instrumentation for the
// orchestration pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the pipeline's Prometheus collectors. One instance is
// created at wiring time and shared by reference; collectors are safe for
// concurrent use.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	GenerationRounds prometheus.Histogram
	SkillCallsTotal  *prometheus.CounterVec
	UsageRejections  prometheus.Counter
	RoutingTier      *prometheus.CounterVec
}

// New creates a fresh registry with all pipeline collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrium",
			Name:      "requests_total",
			Help:      "Orchestrated requests by channel and outcome.",
		}, []string{"channel", "outcome"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "atrium",
			Name:      "request_duration_seconds",
			Help:      "End-to-end request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"channel"}),
		GenerationRounds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "atrium",
			Name:      "generation_rounds",
			Help:      "Model/tool rounds consumed per request.",
			Buckets:   prometheus.LinearBuckets(1, 1, 10),
		}),
		SkillCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrium",
			Name:      "skill_calls_total",
			Help:      "Skill executions by name and result code.",
		}, []string{"skill", "code"}),
		UsageRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "atrium",
			Name:      "usage_rejections_total",
			Help:      "Requests rejected by the usage pre-check.",
		}),
		RoutingTier: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "atrium",
			Name:      "routing_decisions_total",
			Help:      "Routing decisions by tier (mention, keyword, semantic, fallback).",
		}, []string{"tier"}),
	}
}
