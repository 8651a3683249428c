package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rahul/intake/internal/workflow"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "intake_build_info",
			Help: "Build information of the intake service",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	WorkflowOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_workflow_operations_total",
			Help: "Workflow driver operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	WorkflowOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_workflow_operation_duration_seconds",
			Help:    "Duration of workflow driver operations, collaborator calls included",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"operation"},
	)

	IntentClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_intent_classifications_total",
			Help: "Classifier decisions",
		},
		[]string{"intent"},
	)

	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_llm_requests_total",
			Help: "Total number of model provider requests",
		},
		[]string{"phase", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_llm_request_duration_seconds",
			Help:    "Duration of model provider requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"phase"},
	)

	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_llm_tokens_total",
			Help: "Tokens reported by the model provider",
		},
		[]string{"phase", "kind"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_tool_calls_total",
			Help: "Responder tool calls by tool and policy effect",
		},
		[]string{"tool", "effect"},
	)
)

// RecordLLMRequest records one model call.
func RecordLLMRequest(phase string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LLMRequestsTotal.WithLabelValues(phase, status).Inc()
	LLMRequestDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// WorkflowRecorder feeds driver outcomes into the workflow metrics.
type WorkflowRecorder struct{}

func (WorkflowRecorder) ObserveOperation(op string, kind workflow.Kind, d time.Duration) {
	outcome := "ok"
	if kind != workflow.KindUnknown {
		outcome = kind.String()
	}
	WorkflowOperationsTotal.WithLabelValues(op, outcome).Inc()
	WorkflowOperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (WorkflowRecorder) ObserveIntent(wantsUpdate bool) {
	intent := "confirm"
	if wantsUpdate {
		intent = "update"
	}
	IntentClassificationsTotal.WithLabelValues(intent).Inc()
}

const unmatchedPath = "unmatched"

// Middleware records request counts and latency using the chi route pattern
// as the path label, or "unmatched" when no route matched.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		Track()
		defer Untrack()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Raw paths would give every unknown URL its own series.
		path := unmatchedPath
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
