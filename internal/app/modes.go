package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/auctionhouse/internal/domain"
	"github.com/alanyoungcy/auctionhouse/internal/realtime"
	"github.com/alanyoungcy/auctionhouse/internal/server"
	"github.com/alanyoungcy/auctionhouse/internal/server/handler"
	"github.com/alanyoungcy/auctionhouse/internal/server/ws"
	"github.com/alanyoungcy/auctionhouse/internal/service"
)

// shutdownTimeout bounds how long in-flight requests get after a signal.
const shutdownTimeout = 10 * time.Second

// services is the service layer built over one set of Dependencies.
type services struct {
	hub       *realtime.Hub
	ledger    *service.BidLedger
	lifecycle *service.AuctionService
	issuer    *service.SettlementIssuer
	gateway   *service.BidGateway
	sweeper   *service.ExpirySweeper
}

func (a *App) buildServices(deps *Dependencies) (*services, error) {
	inc, err := a.cfg.Ledger.MinIncrementAmount()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	clock := domain.SystemClock{}

	hub := realtime.NewHub(deps.SignalBus, a.cfg.Realtime.SubscriberBuffer, a.logger)

	ledger := service.NewBidLedger(deps.Auctions, deps.Bids, hub, service.LedgerConfig{
		MinIncrement: inc,
		MaxRetries:   a.cfg.Ledger.MaxRetries,
		LockWait:     a.cfg.Ledger.LockWait.Duration,
		RetryBackoff: a.cfg.Ledger.RetryBackoff.Duration,
		LockTTL:      a.cfg.Ledger.LockTTL.Duration,
	}, a.logger).WithAudit(deps.Audit)
	if deps.LockManager != nil {
		ledger.WithLockManager(deps.LockManager)
	}
	if deps.HighestBidCache != nil {
		ledger.WithHighestBidCache(deps.HighestBidCache)
	}

	lifecycle := service.NewAuctionService(deps.Auctions, deps.Identities, deps.Audit, clock, a.logger)
	issuer := service.NewSettlementIssuer(deps.Settlements, deps.Audit, deps.Notifier, clock, a.logger)

	gateway := service.NewBidGateway(ledger, deps.Auctions, deps.Identities, hub, clock, a.logger)
	if deps.RateLimiter != nil && a.cfg.Ledger.BidRateLimit > 0 {
		gateway.WithRateLimiter(deps.RateLimiter, a.cfg.Ledger.BidRateLimit, a.cfg.Ledger.BidRateWindow.Duration)
	}
	if deps.HighestBidCache != nil {
		gateway.WithHighestBidCache(deps.HighestBidCache)
	}

	sweeper := service.NewExpirySweeper(deps.Auctions, lifecycle, ledger, issuer, hub, clock,
		a.cfg.Sweeper.Interval.Duration, a.logger).
		WithNotifier(deps.Notifier)
	if deps.Archiver != nil {
		sweeper.WithArchiver(deps.Archiver)
	}

	return &services{
		hub:       hub,
		ledger:    ledger,
		lifecycle: lifecycle,
		issuer:    issuer,
		gateway:   gateway,
		sweeper:   sweeper,
	}, nil
}

// ServerMode serves the HTTP and websocket API. Auctions are not closed by
// this process; run a sweeper next to it.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svc, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	if deps.SignalBus == nil {
		a.logger.WarnContext(ctx, "server mode without realtime.redis_bridge: observers will not see auction_closed from a separate sweeper")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.hub.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

// SweeperMode only closes expired auctions and issues settlements. Events
// reach observers through the Redis bridge.
func (a *App) SweeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweeper mode")

	svc, err := a.buildServices(deps)
	if err != nil {
		return err
	}
	if deps.SignalBus == nil {
		a.logger.WarnContext(ctx, "sweeper mode without realtime.redis_bridge: auction_closed events have no observers")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startSweeper(ctx, g, svc)
	return g.Wait()
}

// FullMode runs the API and the sweeper in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svc, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.hub.Run(ctx) })
	a.startSweeper(ctx, g, svc)
	a.startHTTPServer(ctx, g, deps, svc)
	return g.Wait()
}

func (a *App) startSweeper(ctx context.Context, g *errgroup.Group, svc *services) {
	g.Go(func() error {
		if err := svc.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("sweeper: %w", err)
		}
		return nil
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *services) {
	sc := a.cfg.Server
	if sc.AdminAPIKey == "" && sc.AdminAPIKeyHash == "" {
		a.logger.WarnContext(ctx, "no admin API key configured: every request is treated as admin")
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, Version, a.startedAt),
		Auctions:    handler.NewAuctionHandler(svc.lifecycle, a.logger),
		Bids:        handler.NewBidHandler(svc.gateway, a.logger),
		Settlements: handler.NewSettlementHandler(svc.issuer, a.logger),
		WS:          ws.NewHandler(svc.gateway, sc.CORSOrigins, a.logger),
	}
	if deps.Archives != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Archives, a.logger)
	}

	var limiter domain.RateLimiter
	if sc.RequestsPerSecond > 0 {
		limiter = deps.RateLimiter
	}
	srv := server.NewServer(server.Config{
		Port:            sc.Port,
		CORSOrigins:     sc.CORSOrigins,
		AdminAPIKey:     sc.AdminAPIKey,
		AdminAPIKeyHash: sc.AdminAPIKeyHash,
		RateLimit:       sc.RequestsPerSecond,
		RateWindow:      time.Second,
	}, handlers, limiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", sc.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", sc.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
