package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
	"github.com/alanyoungcy/telemgps/internal/server/handler"
	"github.com/alanyoungcy/telemgps/internal/server/middleware"
	"github.com/alanyoungcy/telemgps/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	URLToken     string // required on POST /telem
	APIKey       string // guards read and admin routes; empty disables
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RateLimit applies to POST /telem when a limiter is supplied.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health  *handler.HealthHandler
	Ingest  *handler.IngestHandler
	Metrics *handler.MetricsHandler
	Export  *handler.ExportHandler
	Status  *handler.StatusHandler
	Archive *handler.ArchiveHandler
	Stream  *handler.StreamHandler // nil without a signal bus
}

// Server is the telemetry receiver's HTTP and WebSocket front end.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the logging and CORS
// middleware. limiter and wsHub may be nil.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(cfg, handlers, limiter, wsHub, logger),
			ReadTimeout:  orDefault(cfg.ReadTimeout, 15*time.Second),
			WriteTimeout: orDefault(cfg.WriteTimeout, 30*time.Second),
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter builds the handler tree without binding a listener.
func NewRouter(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.APIKey)
	guarded := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth(fn))
	}

	mux.HandleFunc("GET /health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	var ingest http.Handler = http.HandlerFunc(handlers.Ingest.Ingest)
	if limiter != nil && cfg.RateLimit > 0 {
		ingest = middleware.RateLimit(limiter, "ingest", cfg.RateLimit, cfg.RateLimitWindow, logger)(ingest)
	}
	mux.Handle("POST /telem", middleware.QueryToken(cfg.URLToken)(ingest))

	guarded("GET /metrics/heartbeat", handlers.Metrics.Heartbeat)
	guarded("GET /metrics/market", handlers.Metrics.Market)
	guarded("GET /metrics/rollup", handlers.Metrics.Rollup)

	guarded("GET /export/trades.csv", handlers.Export.Trades)
	guarded("GET /export/market.csv", handlers.Export.Markets)

	guarded("GET /api/status", handlers.Status.GetStatus)
	guarded("POST /api/archive/trigger", handlers.Archive.Trigger)
	guarded("GET /api/archive/status", handlers.Archive.Status)

	if handlers.Stream != nil {
		guarded("GET /api/stream", handlers.Stream.Recent)
	}
	if wsHub != nil {
		guarded("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
