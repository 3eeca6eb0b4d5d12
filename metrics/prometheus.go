// Package metrics exposes Prometheus metrics for LLM calls, workflows,
// activities and the event broker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richinex/agentpatterns/model"
)

// Recorder owns a private Prometheus registry. It implements
// llm.Recorder and workflow.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	llmRequests *prometheus.CounterVec
	llmTokens   *prometheus.CounterVec
	llmDuration *prometheus.HistogramVec

	workflows        *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec

	activities       *prometheus.CounterVec
	activityAttempts *prometheus.CounterVec
	activityDuration *prometheus.HistogramVec
	activityReplays  *prometheus.CounterVec

	eventsDropped *prometheus.CounterVec
}

// New creates a recorder with Go runtime and process collectors
// registered alongside the application metrics.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		llmRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of LLM requests by provider, model, operation and status",
			},
			[]string{"provider", "model", "operation", "status"},
		),
		llmTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"provider", "model", "type"},
		),
		llmDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider", "model", "operation"},
		),
		workflows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_instances_total",
				Help: "Workflow instances that reached a terminal status",
			},
			[]string{"workflow", "status"},
		),
		workflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_duration_seconds",
				Help:    "Wall time from workflow start to terminal status",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
			[]string{"workflow"},
		),
		activities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_activities_total",
				Help: "Executed workflow activities by outcome",
			},
			[]string{"activity", "status"},
		),
		activityAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_activity_attempts_total",
				Help: "Activity attempts including retries",
			},
			[]string{"activity"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_activity_duration_seconds",
				Help:    "Duration of activity executions including retries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"activity"},
		),
		activityReplays: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_activity_replays_total",
				Help: "Activity results served from history instead of executing",
			},
			[]string{"activity"},
		),
		eventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pubsub_events_dropped_total",
				Help: "Events dropped because a subscriber buffer was full",
			},
			[]string{"topic"},
		),
	}
}

// ObserveRequest records a completed LLM request.
func (r *Recorder) ObserveRequest(provider, modelName, operation string, promptTokens, completionTokens int, success bool, duration time.Duration) {
	r.llmRequests.WithLabelValues(provider, modelName, operation, statusLabel(success)).Inc()
	if success {
		r.llmTokens.WithLabelValues(provider, modelName, "prompt").Add(float64(promptTokens))
		r.llmTokens.WithLabelValues(provider, modelName, "completion").Add(float64(completionTokens))
	}
	r.llmDuration.WithLabelValues(provider, modelName, operation).Observe(duration.Seconds())
}

// WorkflowFinished records an instance reaching a terminal status.
func (r *Recorder) WorkflowFinished(workflow string, status model.WorkflowStatus, duration time.Duration) {
	r.workflows.WithLabelValues(workflow, string(status)).Inc()
	r.workflowDuration.WithLabelValues(workflow).Observe(duration.Seconds())
}

// ActivityFinished records one activity execution.
func (r *Recorder) ActivityFinished(activity string, success bool, attempts int, duration time.Duration) {
	r.activities.WithLabelValues(activity, statusLabel(success)).Inc()
	r.activityAttempts.WithLabelValues(activity).Add(float64(attempts))
	r.activityDuration.WithLabelValues(activity).Observe(duration.Seconds())
}

// ActivityReplayed records a result served from history.
func (r *Recorder) ActivityReplayed(activity string) {
	r.activityReplays.WithLabelValues(activity).Inc()
}

// EventDropped records an event a slow subscriber missed.
func (r *Recorder) EventDropped(topic string) {
	r.eventsDropped.WithLabelValues(topic).Inc()
}

// Gatherer returns the registry for tests and custom exporters.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
