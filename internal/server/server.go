// Package server exposes the read-only dashboard API and the websocket
// feed over one HTTP listener.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/domain"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/server/handler"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/server/middleware"
	"github.com/amirhosseinsharififard/arbitrage-sub001/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // empty disables auth
	RateLimitPerMin int    // 0 disables rate limiting
}

// Handlers aggregates the endpoint handlers the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Quotes        *handler.QuotesHandler
	Opportunities *handler.OpportunitiesHandler
	Trades        *handler.TradesHandler
	Archives      *handler.ArchivesHandler
}

// Server is the dashboard HTTP + websocket server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain. limiter
// may be nil; rate limiting then stays off regardless of config.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health stays outside auth so probes work without credentials.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/quotes", handlers.Quotes.GetQuotes)
	api.HandleFunc("GET /api/opportunities", handlers.Opportunities.GetOpportunities)
	api.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	api.HandleFunc("GET /api/archives", handlers.Archives.List)
	api.HandleFunc("GET /api/archives/{key...}", handlers.Archives.Download)
	if wsHub != nil {
		api.HandleFunc("GET /ws", wsHub.HandleWS)
	}
	mux.Handle("/", middleware.Auth(cfg.APIKey)(api))

	var h http.Handler = mux
	if limiter != nil && cfg.RateLimitPerMin > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMin, time.Minute)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the composed handler chain for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
