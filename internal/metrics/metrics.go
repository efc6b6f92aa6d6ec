// Package metrics exposes the sidecar's prometheus counters, gauges, and
// histograms, and the /metrics HTTP server they're served from.
//
// Grounded on tamecalm-signal-proxy/internal/proxy/metrics.go's
// promauto vector declarations and MetricsServer/Start/Shutdown shape,
// relabeled for connect/detect/dispatch/cache concerns instead of
// per-SNI relay counters.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectsTotal counts accepted connections by direction; the inbound
	// accept loop records every connection, gateway ones included, as
	// "inbound".
	ConnectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_connects_total",
		Help: "Total accepted connections by direction",
	}, []string{"direction"})

	// ActiveConns tracks connections currently being served.
	ActiveConns = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "meshproxy_active_connections",
		Help: "Connections currently being served, by direction",
	}, []string{"direction"})

	// DetectOutcomesTotal counts protocol-detection results by detector
	// (tls, http) and outcome (matched, not_matched, timeout).
	DetectOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_detect_outcomes_total",
		Help: "Protocol detection outcomes by detector and result",
	}, []string{"detector", "outcome"})

	// TLSHandshakesTotal counts local TLS terminations by result.
	TLSHandshakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_tls_handshakes_total",
		Help: "Local TLS terminations by result",
	}, []string{"result"})

	// CacheSize reports the live entry count of the per-target service
	// cache.
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "meshproxy_service_cache_size",
		Help: "Entries currently held in the per-target service cache",
	})

	// CacheBuildsTotal counts per-key service constructions (spec §4.8's
	// single-flight build count).
	CacheBuildsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshproxy_service_cache_builds_total",
		Help: "Per-key service constructions performed by the cache",
	})

	// GatewayLoopRejectionsTotal counts requests rejected for carrying
	// this proxy's own identity in an existing Forwarded header.
	GatewayLoopRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "meshproxy_gateway_loop_rejections_total",
		Help: "Gateway requests rejected for a Forwarded loop back to this proxy",
	})

	// ErrorsTotal counts errors by kind (see internal/errkind).
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_errors_total",
		Help: "Total errors observed, by kind",
	}, []string{"kind"})

	// DispatchDuration measures time spent waiting on stack readiness
	// before a call is dispatched or fail-fasted.
	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshproxy_dispatch_duration_seconds",
		Help:    "Time spent waiting for stack readiness before dispatch",
		Buckets: prometheus.DefBuckets,
	})

	// EndpointRTT records observed per-call latency feeding the EWMA
	// balancer.
	EndpointRTT = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "meshproxy_endpoint_rtt_seconds",
		Help:    "Observed per-call endpoint latency",
		Buckets: prometheus.DefBuckets,
	})

	// RouteResponseClassTotal counts a profile route's matched requests
	// by the response classification its route spec assigns them (spec
	// §3's "response-class rules (request match → classification)").
	RouteResponseClassTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_route_response_class_total",
		Help: "Per-route response classification outcomes",
	}, []string{"route", "class"})

	// RouteRetriesTotal counts retries spent against a route's retry
	// budget (spec §4.5/§7's retryable Io/Timeout recovery).
	RouteRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshproxy_route_retries_total",
		Help: "Retries performed per matched route, bounded by its retry budget",
	}, []string{"route"})
)

// Server wraps the HTTP server exposing /metrics.
type Server struct {
	server *http.Server
}

// NewServer returns a metrics server bound to addr, not yet listening.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{server: &http.Server{Addr: addr, Handler: mux}}
}

// Start begins serving metrics in the background. errs receives the
// terminal error, if any, once the server stops.
func (s *Server) Start(errs chan<- error) {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
	}()
}

// Shutdown gracefully stops the metrics server within grace.
func (s *Server) Shutdown(ctx context.Context, grace time.Duration) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
