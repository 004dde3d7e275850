// Package metrics exposes gateway counters via Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives gateway measurements. Implementations must be
// safe for concurrent use.
type Recorder interface {
	// ToolCall counts a finished tool call with its result label
	ToolCall(tool, result string)
	// Failure counts a pipeline failure by kind
	Failure(kind string)
	// RateLimitHit counts a request denied by the rate limiter
	RateLimitHit()
	// SetActiveSessions tracks the live session count
	SetActiveSessions(n int)
}

// NopRecorder discards all measurements.
type NopRecorder struct{}

var _ Recorder = NopRecorder{}

func (NopRecorder) ToolCall(string, string) {}
func (NopRecorder) Failure(string)          {}
func (NopRecorder) RateLimitHit()           {}
func (NopRecorder) SetActiveSessions(int)   {}

// PrometheusRecorder publishes measurements to a Prometheus registry.
type PrometheusRecorder struct {
	toolCalls      *prometheus.CounterVec
	failures       *prometheus.CounterVec
	rateLimitHits  prometheus.Counter
	activeSessions prometheus.Gauge
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the gateway metrics with the given
// registerer, typically prometheus.DefaultRegisterer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		toolCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_guard",
			Name:      "toolcalls_total",
			Help:      "Tool calls processed, labelled by tool and result.",
		}, []string{"tool", "result"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp_guard",
			Name:      "failures_total",
			Help:      "Pipeline failures, labelled by failure kind.",
		}, []string{"kind"}),
		rateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mcp_guard",
			Name:      "rate_limit_hits_total",
			Help:      "Requests denied by the rate limiter.",
		}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcp_guard",
			Name:      "active_sessions",
			Help:      "Sessions currently live.",
		}),
	}
}

func (r *PrometheusRecorder) ToolCall(tool, result string) {
	r.toolCalls.WithLabelValues(tool, result).Inc()
}

func (r *PrometheusRecorder) Failure(kind string) {
	r.failures.WithLabelValues(kind).Inc()
}

func (r *PrometheusRecorder) RateLimitHit() {
	r.rateLimitHits.Inc()
}

func (r *PrometheusRecorder) SetActiveSessions(n int) {
	r.activeSessions.Set(float64(n))
}

// NewTelemetryServer builds the HTTP server that exposes /metrics and
// a trivial health endpoint. The caller owns its lifecycle.
func NewTelemetryServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
