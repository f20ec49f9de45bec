// Package metrics exposes Prometheus instrumentation for the agent-gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the agent-gateway.
type Metrics struct {
	// Token minting
	TokensMinted    prometheus.Counter
	TokenMintErrors prometheus.Counter

	// Session proxy
	SessionsCreated     prometheus.Counter
	SessionCreateErrors prometheus.Counter
	SessionCreateTime   prometheus.Histogram

	// HTTP surface
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RequestsInFlight    prometheus.Gauge
	AuthFailures        prometheus.Counter
}

// New creates and registers all gateway metrics on the default registerer.
func New() *Metrics {
	return &Metrics{
		TokensMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_tokens_minted_total",
			Help: "Total number of participant tokens minted",
		}),
		TokenMintErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_token_mint_errors_total",
			Help: "Total number of token minting failures",
		}),
		SessionsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_created_total",
			Help: "Total number of agent sessions created upstream",
		}),
		SessionCreateErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_session_create_errors_total",
			Help: "Total number of upstream session creation failures",
		}),
		SessionCreateTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_session_create_duration_seconds",
			Help:    "Latency of upstream session creation calls",
			Buckets: prometheus.DefBuckets,
		}),
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		RequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_http_requests_in_flight",
			Help: "API requests currently being served",
		}),
		AuthFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Total number of rejected caller credentials",
		}),
	}
}
