package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Request metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Access decision metrics
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_access_decisions_total",
			Help: "Access decisions by outcome",
		},
		[]string{"outcome"},
	)

	// Session metrics
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_sessions_created_total",
			Help: "Total anonymous sessions issued",
		},
	)

	SessionsInvalid = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_sessions_invalid_total",
			Help: "Presented session tokens that were rejected",
		},
		[]string{"reason"},
	)

	SessionsSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_sessions_swept_total",
			Help: "Expired sessions removed by the background sweep",
		},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatgate_sessions_active",
			Help: "Sessions held in storage after the last sweep",
		},
	)

	// Usage metrics
	UsageSecondsConsumed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatgate_usage_seconds_consumed_total",
			Help: "Total quota seconds charged to sessions",
		},
	)

	// Rate limiting metrics
	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatgate_rate_limited_total",
			Help: "Requests rejected by the per-address rate limiter",
		},
		[]string{"bucket"},
	)

	TrackedAddresses = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatgate_rate_limit_tracked_addresses",
			Help: "Client addresses with a live rate window",
		},
	)

	// Upstream metrics
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatgate_upstream_duration_seconds",
			Help:    "Reply generation latency in seconds",
			Buckets: []float64{.25, .5, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		DecisionsTotal,
		SessionsCreated,
		SessionsInvalid,
		SessionsSwept,
		SessionsActive,
		UsageSecondsConsumed,
		RateLimitedTotal,
		TrackedAddresses,
		UpstreamDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
