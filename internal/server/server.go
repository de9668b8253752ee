package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cascadebot/internal/domain"
	"github.com/alanyoungcy/cascadebot/internal/server/handler"
	"github.com/alanyoungcy/cascadebot/internal/server/middleware"
	"github.com/alanyoungcy/cascadebot/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// ReadOnly leaves out every endpoint that trades or changes state.
	ReadOnly bool

	RateLimit       int // requests per window per client IP; 0 disables
	RateLimitWindow time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Optional
// handlers may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Trade   *handler.TradeHandler
	Pairs   *handler.PairHandler
	Cascade *handler.CascadeHandler
	History *handler.HistoryHandler
	Archive *handler.ArchiveHandler
	Metrics http.Handler
}

// Extras are the optional collaborators of the middleware chain.
type Extras struct {
	Hub      *ws.Hub
	Limiter  domain.RateLimiter
	Recorder middleware.HTTPRecorder
}

// Server is the HTTP + WebSocket API of the bot.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain applied.
func NewServer(cfg Config, handlers Handlers, extras Extras, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()
	registerRoutes(mux, cfg, handlers, extras.Hub)

	var h http.Handler = mux
	if extras.Limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(extras.Limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	h = middleware.Logging(logger, extras.Recorder)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	readTimeout, writeTimeout := cfg.ReadTimeout, cfg.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 90 * time.Second
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

func registerRoutes(mux *http.ServeMux, cfg Config, handlers Handlers, hub *ws.Hub) {
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/pairs", handlers.Pairs.ListPairs)
	mux.HandleFunc("GET /api/pairs/{id}", handlers.Pairs.GetPair)

	mux.HandleFunc("GET /api/trades", handlers.History.ListTrades)
	mux.HandleFunc("GET /api/trades/recent", handlers.History.RecentTrades)
	mux.HandleFunc("GET /api/cascades/recent", handlers.History.RecentCascades)
	if handlers.History.HasAudit() {
		mux.HandleFunc("GET /api/audit", handlers.History.ListAudit)
	}
	if handlers.Cascade != nil {
		mux.HandleFunc("GET /api/cascades/{id}", handlers.Cascade.GetCascade)
	}

	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archive.ListArchives)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archive.GetArchive)
	}

	if !cfg.ReadOnly {
		mux.HandleFunc("PUT /api/bot/enabled", handlers.Status.SetEnabled)
		mux.HandleFunc("POST /api/trade", handlers.Trade.ExecuteTrade)
		mux.HandleFunc("POST /api/pairs", handlers.Pairs.AddPair)
		mux.HandleFunc("PUT /api/pairs/{id}/rank", handlers.Pairs.UpdateRank)
		mux.HandleFunc("PUT /api/pairs/{id}/enabled", handlers.Pairs.SetEnabled)
		mux.HandleFunc("PUT /api/pairs/{id}/score", handlers.Pairs.UpdateScore)
		mux.HandleFunc("POST /api/cascade", handlers.Cascade.ExecuteCascade)
	}

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
