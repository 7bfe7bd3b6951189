package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "text2sql_build_info",
			Help: "Build information of text2sql",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal state",
		},
		[]string{"state"},
	)

	RunsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "text2sql_pipeline_runs_in_flight",
			Help: "Number of pipeline runs currently executing",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "text2sql_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"stage"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_pipeline_retries_total",
			Help: "Total number of regeneration retries by reason",
		},
		[]string{"reason"},
	)

	SecurityVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_security_verdicts_total",
			Help: "Total number of security verdicts by outcome and risk level",
		},
		[]string{"safe", "risk_level"},
	)

	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_executions_total",
			Help: "Total number of SQL executions by dialect and error type",
		},
		[]string{"dialect", "error_type"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "text2sql_execution_duration_seconds",
			Help:    "Duration of SQL executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"dialect"},
	)

	ModelCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_model_calls_total",
			Help: "Total number of model completion calls by provider and status",
		},
		[]string{"provider", "status"},
	)

	ModelCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "text2sql_model_call_duration_seconds",
			Help:    "Duration of model completion calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"provider"},
	)

	ModelCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_model_cache_total",
			Help: "Model response cache lookups by result",
		},
		[]string{"result"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_mcp_tool_calls_total",
			Help: "Total number of MCP tool calls by tool and status",
		},
		[]string{"tool", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "text2sql_mcp_tool_call_duration_seconds",
			Help:    "Duration of MCP tool calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"tool"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "text2sql_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "text2sql_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Middleware records HTTP metrics labelled by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
