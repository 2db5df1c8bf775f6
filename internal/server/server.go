// Package server exposes the betting service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/middleware"
	"github.com/alanyoungcy/parimutuel/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminAPIKey guards /api/admin/*. Empty disables those routes.
	AdminAPIKey     string
	SignatureWindow time.Duration
	RateLimit       int
	RateWindow      time.Duration
}

// Handlers aggregates the HTTP handlers.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Bets     *handler.BetHandler
	Accounts *handler.AccountHandler
}

// Deps are optional collaborators. Nil fields switch the feature off.
type Deps struct {
	Hub     *ws.Hub
	Metrics http.Handler
	Limiter domain.RateLimiter
	// Replay rejects re-sent signed requests.
	Replay domain.LockManager
	Clock  domain.Clock
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers routes and wraps them in middleware. From the outside
// in: CORS, logging, signature verification, rate limiting.
func NewServer(cfg Config, h Handlers, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("GET /api/markets", h.Markets.ListMarkets)
	mux.HandleFunc("POST /api/markets", h.Markets.CreateMarket)
	mux.HandleFunc("GET /api/markets/{id}", h.Markets.GetMarket)
	mux.HandleFunc("POST /api/markets/{id}/resolve", h.Markets.ResolveMarket)

	mux.HandleFunc("GET /api/markets/{id}/bets", h.Bets.ListMarketBets)
	mux.HandleFunc("POST /api/markets/{id}/bets", h.Bets.PlaceBet)
	mux.HandleFunc("POST /api/markets/{id}/bets/{betID}/claim", h.Bets.Claim)
	mux.HandleFunc("GET /api/bets/{id}", h.Bets.GetBet)

	mux.HandleFunc("GET /api/accounts/{address}/balance", h.Accounts.Balance)
	mux.HandleFunc("GET /api/accounts/{address}/bets", h.Bets.ListAccountBets)

	mux.Handle("POST /api/admin/deposit", middleware.Auth(cfg.AdminAPIKey)(http.HandlerFunc(h.Accounts.Deposit)))

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	now := time.Now
	if deps.Clock != nil {
		now = deps.Clock.Now
	}

	var handler http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		handler = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(handler)
	}
	handler = middleware.Signature(middleware.SignatureConfig{
		Window: cfg.SignatureWindow,
		Now:    now,
		Replay: deps.Replay,
		Logger: logger,
	})(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.CORS(cfg.CORSOrigins)(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
