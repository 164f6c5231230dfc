// Package metrics defines the prometheus metrics the gateway exposes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"modelrelay/internal/core"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "modelrelay_request_duration_seconds",
			Help:    "Total time taken for gateway requests in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"endpoint", "model"},
	)

	UpstreamAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_upstream_attempts_total",
			Help: "Adapter invokes by vendor, model and outcome",
		},
		[]string{"vendor", "model", "outcome"},
	)

	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_fallbacks_total",
			Help: "Requests re-routed to a fallback model",
		},
		[]string{"from", "to"},
	)

	PromptTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_prompt_tokens_total",
			Help: "Total prompt tokens consumed",
		},
		[]string{"model"},
	)

	CompletionTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_completion_tokens_total",
			Help: "Total completion tokens consumed",
		},
		[]string{"model"},
	)

	CostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_cost_usd_total",
			Help: "Accumulated list-price cost in USD",
		},
		[]string{"model"},
	)

	JobsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_jobs_enqueued_total",
			Help: "Jobs accepted by the queue",
		},
		[]string{"priority"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_jobs_completed_total",
			Help: "Jobs finished by terminal state",
		},
		[]string{"state"},
	)

	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modelrelay_queue_depth",
			Help: "Jobs currently waiting or delayed",
		},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modelrelay_response_codes_total",
			Help: "HTTP responses by path and status code",
		},
		[]string{"path", "status_code"},
	)
)

// RouterHooks feeds routing events into the upstream metrics. It is the
// production implementation of the router's Hooks interface.
type RouterHooks struct{}

func (RouterHooks) ObserveAttempt(vendor core.Vendor, model string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(core.AsError(err).Code)
	}
	UpstreamAttempts.WithLabelValues(string(vendor), model, outcome).Inc()
}

func (RouterHooks) ObserveFallback(from, to string) {
	Fallbacks.WithLabelValues(from, to).Inc()
}

// ObserveUsage records the token and cost counters for one accounted call.
func ObserveUsage(model string, usage core.Usage, costUSD float64) {
	PromptTokens.WithLabelValues(model).Add(float64(usage.PromptTokens))
	CompletionTokens.WithLabelValues(model).Add(float64(usage.CompletionTokens))
	CostUSD.WithLabelValues(model).Add(costUSD)
}
