package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gavelhouse/gavel/internal/domain"
	"github.com/gavelhouse/gavel/internal/server/handler"
	"github.com/gavelhouse/gavel/internal/server/middleware"
	"github.com/gavelhouse/gavel/internal/server/ws"
)

// Config shapes the listener and the middleware chain.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string        // if empty, authentication is disabled
	RateLimit   int           // requests per client per window; 0 disables
	RateWindow  time.Duration // sliding window size for rate limiting
}

// Handlers collects the route handlers NewServer mounts. Archive may be
// nil when no blob storage is configured; its route is then not mounted.
type Handlers struct {
	Health   *handler.HealthHandler
	Status   *handler.StatusHandler
	Auctions *handler.AuctionHandler
	Bids     *handler.BidHandler
	Treasury *handler.TreasuryHandler
	Audit    *handler.AuditHandler
	Events   *handler.EventsHandler
	Archive  *handler.ArchiveHandler
}

// Server is the headless HTTP + WebSocket API server for the auction house.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route on a ServeMux and wraps it in the
// middleware chain. The limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health stays outside auth so load balancers can probe it.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Auction lifecycle.
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("POST /api/auctions", handlers.Auctions.CreateAuction)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	mux.HandleFunc("GET /api/auctions/{id}/participants", handlers.Auctions.ListParticipants)
	mux.HandleFunc("GET /api/auctions/{id}/participants/{address}", handlers.Auctions.GetParticipant)
	mux.HandleFunc("GET /api/auctions/{id}/payouts", handlers.Auctions.ListPayouts)
	mux.HandleFunc("GET /api/auctions/{id}/winner", handlers.Auctions.RevealWinner)
	mux.HandleFunc("POST /api/auctions/{id}/settle", handlers.Auctions.Settle)
	mux.HandleFunc("POST /api/auctions/{id}/suspend", handlers.Auctions.Suspend)
	mux.HandleFunc("POST /api/auctions/{id}/resume", handlers.Auctions.Resume)
	mux.HandleFunc("POST /api/auctions/{id}/emergency-withdraw", handlers.Auctions.EmergencyWithdraw)

	// Settled-auction archive, mounted only when blob storage is configured.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/auctions/{id}/archive", handlers.Archive.GetArchive)
		mux.HandleFunc("GET /api/auctions/{id}/archive/presign", handlers.Archive.PresignFile)
	}

	// Bidding.
	mux.HandleFunc("POST /api/auctions/{id}/bids", handlers.Bids.PlaceBid)
	mux.HandleFunc("GET /api/auctions/{id}/bids", handlers.Bids.ListBids)
	mux.HandleFunc("POST /api/auctions/{id}/claim", handlers.Bids.ClaimSurplus)

	// Treasury accounts.
	mux.HandleFunc("GET /api/treasury/accounts/{address}", handlers.Treasury.GetAccount)
	mux.HandleFunc("POST /api/treasury/accounts/{address}/credit", handlers.Treasury.Credit)

	// Audit trail and event replay.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListEntries)
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Middleware, innermost first. CORS sits outermost so denied requests
	// and preflights still carry the browser headers, and logging wraps
	// auth so rejected requests land in the request log.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 && cfg.RateWindow > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Start listens until the server fails or Shutdown is called. A clean
// shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests until the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
