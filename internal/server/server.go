package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfall/otcdesk/internal/domain"
	"github.com/quantfall/otcdesk/internal/server/handler"
	"github.com/quantfall/otcdesk/internal/server/middleware"
	"github.com/quantfall/otcdesk/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKeys     map[string]string // API key -> principal; if empty, authentication is disabled

	// Optional rate limiting; active only when a limiter is supplied.
	RateLimiter     domain.RateLimiter
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health *handler.HealthHandler
	Offers *handler.OfferHandler
	Prices *handler.PriceHandler
	Admin  *handler.AdminHandler
	Stats  *handler.StatsHandler
}

// Server is the HTTP + WebSocket API for the OTC venue.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches the
// WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required for the probe itself; the middleware
	// chain still runs, which is fine since unauthenticated GETs pass when
	// no keys are configured).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Offer lifecycle.
	mux.HandleFunc("GET /api/offers", handlers.Offers.ListOffers)
	mux.HandleFunc("POST /api/offers", handlers.Offers.CreateOffer)
	mux.HandleFunc("POST /api/offers/batch", handlers.Offers.BatchCreateOffers)
	mux.HandleFunc("GET /api/offers/{id}", handlers.Offers.GetOffer)
	mux.HandleFunc("DELETE /api/offers/{id}", handlers.Offers.CancelOffer)
	mux.HandleFunc("POST /api/offers/{id}/fill", handlers.Offers.FillOffer)
	mux.HandleFunc("GET /api/offers/{id}/fills", handlers.Offers.ListFills)
	mux.HandleFunc("GET /api/trades/recent", handlers.Offers.RecentFills)

	// Trading statistics.
	mux.HandleFunc("GET /api/stats", handlers.Stats.GetStats)

	// Price oracle.
	mux.HandleFunc("GET /api/price/{token}", handlers.Prices.GetPrice)
	mux.HandleFunc("GET /api/price/{token}/twap", handlers.Prices.GetTWAP)
	mux.HandleFunc("GET /api/price/{token}/history", handlers.Prices.GetHistory)
	mux.HandleFunc("POST /api/price/{token}/update", handlers.Prices.UpdatePrice)
	mux.HandleFunc("POST /api/price/update-batch", handlers.Prices.BatchUpdatePrices)

	// Administration.
	mux.HandleFunc("POST /api/admin/pause", handlers.Admin.Pause)
	mux.HandleFunc("POST /api/admin/unpause", handlers.Admin.Unpause)
	mux.HandleFunc("GET /api/admin/fees", handlers.Admin.GetFees)
	mux.HandleFunc("PUT /api/admin/fees", handlers.Admin.UpdateFees)
	mux.HandleFunc("POST /api/admin/whitelist", handlers.Admin.WhitelistToken)
	mux.HandleFunc("PUT /api/admin/oracle/{token}", handlers.Admin.ConfigureOracle)
	mux.HandleFunc("POST /api/admin/oracle/{token}/emergency", handlers.Admin.SetEmergencyPrice)
	mux.HandleFunc("GET /api/admin/breaker/{token}", handlers.Admin.GetBreakerStatus)
	mux.HandleFunc("PUT /api/admin/breaker/{token}", handlers.Admin.ConfigureBreaker)
	mux.HandleFunc("POST /api/admin/breaker/{token}/reset", handlers.Admin.ResetBreaker)
	mux.HandleFunc("GET /api/admin/archive/{kind}", handlers.Admin.ListArchiveSnapshots)
	mux.HandleFunc("GET /api/admin/archive/{kind}/{month}", handlers.Admin.DownloadArchiveSnapshot)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain. Rate limiting runs after auth so it can
	// key on the resolved principal.
	var h http.Handler = mux

	if cfg.RateLimiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		h = middleware.RateLimit(cfg.RateLimiter, cfg.RateLimit, window)(h)
	}

	h = middleware.Auth(cfg.APIKeys)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
