package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/middleware"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string

	// AdminAPIKey and AdminAPIKeyHash identify operators. With both empty,
	// authentication is disabled.
	AdminAPIKey     string
	AdminAPIKeyHash string

	// RateLimit and RateWindow bound requests per client address when a
	// limiter is supplied.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Auctions    *handler.AuctionHandler
	Bids        *handler.BidHandler
	Settlements *handler.SettlementHandler
	// Archive is nil when S3 is disabled.
	Archive *handler.ArchiveHandler
	WS      *ws.Handler
}

// Server is the HTTP + WebSocket API of the auction house.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. limiter may be nil,
// which disables per-address rate limiting.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, limiter, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// NewHandler builds the routed, middleware-wrapped handler served by
// NewServer.
func NewHandler(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	admin := func(fn http.HandlerFunc) http.Handler { return middleware.RequireAdmin(fn) }

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Auctions.
	mux.HandleFunc("POST /api/auctions", handlers.Auctions.CreateAuction)
	mux.HandleFunc("GET /api/auctions/active", handlers.Auctions.ListActive)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	mux.Handle("POST /api/auctions/{id}/status", admin(handlers.Auctions.SetStatus))
	mux.HandleFunc("GET /api/sellers/{id}/auctions", handlers.Auctions.ListByOwner)

	// Bids.
	mux.HandleFunc("GET /api/auctions/{id}/highest", handlers.Bids.GetHighest)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Bids.ListBids)
	mux.HandleFunc("POST /api/auctions/{id}/bids", handlers.Bids.PlaceBid)
	mux.HandleFunc("GET /api/bidders/{id}/bids", handlers.Bids.ListByBidder)

	// Settlements.
	mux.Handle("GET /api/settlements", admin(handlers.Settlements.List))
	mux.Handle("GET /api/settlements/stats", admin(handlers.Settlements.Stats))
	mux.HandleFunc("GET /api/settlements/{id}", handlers.Settlements.Get)
	mux.Handle("POST /api/settlements/{id}/status", admin(handlers.Settlements.TransitionStatus))
	mux.HandleFunc("GET /api/auctions/{id}/settlement", handlers.Settlements.GetByAuction)
	mux.HandleFunc("GET /api/bidders/{id}/settlements", handlers.Settlements.ListByWinner)

	if handlers.Archive != nil {
		mux.Handle("GET /api/auctions/{id}/archive", admin(handlers.Archive.GetArchive))
	}

	if handlers.WS != nil {
		mux.HandleFunc("GET /ws/auctions/{id}", handlers.WS.HandleAuction)
	}

	var h http.Handler = mux
	h = middleware.Authenticate(cfg.AdminAPIKey, cfg.AdminAPIKeyHash)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
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
