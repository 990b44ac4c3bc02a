package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/storm-alert-relay/internal/domain"
	"github.com/couchcryptid/storm-alert-relay/internal/observability"
)

// AlertSubmitter hands an accepted alert to background processing. Submit
// returns false when the alert could not be queued.
type AlertSubmitter interface {
	Submit(alert domain.Alert) bool
}

// Option configures optional server routes.
type Option func(*Server)

// WithTestAlerts enables POST /alerts/test for synthetic alerts.
func WithTestAlerts() Option {
	return func(s *Server) { s.testAlerts = true }
}

// WithClock overrides the time source for synthetic alerts.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Server) { s.clock = clock }
}

// Server exposes the alert webhook plus health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	alerts     AlertSubmitter
	testAlerts bool
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /alerts, /healthz, /readyz, and
// /metrics routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, alerts AlertSubmitter,
	metrics *observability.Metrics, logger *slog.Logger, opts ...Option,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		alerts:  alerts,
		clock:   clockwork.NewRealClock(),
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("POST /alerts", s.handleAlert)
	if s.testAlerts {
		mux.HandleFunc("POST /alerts/test", s.handleTestAlert)
	}
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr, "test_alerts", s.testAlerts)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}
