package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Agent loop turns and step consumption
//   - Gateway request performance and token usage
//   - Tool execution patterns and latencies
//   - Circuit breaker trips and preflight denials
//   - Retrieval index ingest and search activity
//   - Task queue transitions
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.ToolExecutions.WithLabelValues("read_file", "success").Inc()
type Metrics struct {
	// LoopTurns counts completed loop turns by outcome.
	// Labels: outcome (final|max_steps|task_budget|error)
	LoopTurns *prometheus.CounterVec

	// LoopSteps measures steps consumed per turn.
	// Buckets: 1, 2, 4, 8, 16, 32, 64
	LoopSteps prometheus.Histogram

	// GatewayRequestDuration measures gateway call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	GatewayRequestDuration *prometheus.HistogramVec

	// GatewayRequests counts gateway calls by provider and status.
	// Labels: provider, model, status (success|error)
	GatewayRequests *prometheus.CounterVec

	// GatewayTokens tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	GatewayTokens *prometheus.CounterVec

	// ToolExecutions counts tool invocations.
	// Labels: tool, status (success|error|denied|skipped)
	ToolExecutions *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// BreakerTrips counts circuit breaker trips.
	// Labels: kind (fingerprint|intent), intent
	BreakerTrips *prometheus.CounterVec

	// PreflightDenials counts preflight rejections by reason class.
	// Labels: reason (planner_mode|circuit_breaker|intent_exhausted|path_gate)
	PreflightDenials *prometheus.CounterVec

	// IngestedFiles counts files processed by the retrieval index.
	// Labels: status (indexed|skipped|failed)
	IngestedFiles *prometheus.CounterVec

	// IngestedChunks counts chunks added and removed during ingest.
	// Labels: op (added|removed)
	IngestedChunks *prometheus.CounterVec

	// VectorOps counts vector store operations.
	// Labels: op (add|remove|prune|search|rebuild)
	VectorOps *prometheus.CounterVec

	// SearchDuration measures retrieval search latency in seconds.
	// Labels: kind (keyword|semantic)
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s
	SearchDuration *prometheus.HistogramVec

	// TaskTransitions counts task state transitions.
	// Labels: to (queued|running|done|failed)
	TaskTransitions *prometheus.CounterVec

	// Errors tracks errors by component and taxonomy tag.
	// Labels: component (loop|executor|workspace|index|queue), blocked_by
	Errors *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return NewMetricsWith(nil)
}

// NewMetricsWith creates metrics registered against the given registerer.
// A nil registerer uses the Prometheus default registry. Tests pass their own
// registry to avoid duplicate registration panics.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LoopTurns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_loop_turns_total",
				Help: "Total number of completed loop turns by outcome",
			},
			[]string{"outcome"},
		),

		LoopSteps: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "anvil_loop_steps_per_turn",
				Help:    "Steps consumed per loop turn",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
		),

		GatewayRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_gateway_request_duration_seconds",
				Help:    "Duration of LLM gateway requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		GatewayRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_gateway_requests_total",
				Help: "Total number of LLM gateway requests",
			},
			[]string{"provider", "model", "status"},
		),

		GatewayTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_gateway_tokens_total",
				Help: "Total tokens consumed by gateway requests",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		BreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_breaker_trips_total",
				Help: "Total circuit breaker trips by kind",
			},
			[]string{"kind", "intent"},
		),

		PreflightDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_preflight_denials_total",
				Help: "Total preflight rejections by reason class",
			},
			[]string{"reason"},
		),

		IngestedFiles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_ingested_files_total",
				Help: "Total files processed by the retrieval index",
			},
			[]string{"status"},
		),

		IngestedChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_ingested_chunks_total",
				Help: "Total chunks added and removed during ingest",
			},
			[]string{"op"},
		),

		VectorOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_vector_ops_total",
				Help: "Total vector store operations",
			},
			[]string{"op"},
		),

		SearchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "anvil_search_duration_seconds",
				Help:    "Duration of retrieval searches in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"kind"},
		),

		TaskTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_task_transitions_total",
				Help: "Total task state transitions by target state",
			},
			[]string{"to"},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "anvil_errors_total",
				Help: "Total errors by component and taxonomy tag",
			},
			[]string{"component", "blocked_by"},
		),
	}
}
