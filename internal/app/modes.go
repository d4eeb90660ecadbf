package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gavelhouse/gavel/internal/cache/redis"
	"github.com/gavelhouse/gavel/internal/crypto"
	"github.com/gavelhouse/gavel/internal/server"
	"github.com/gavelhouse/gavel/internal/server/handler"
	"github.com/gavelhouse/gavel/internal/server/ws"
	"github.com/gavelhouse/gavel/internal/service"
)

// ServeMode runs the full auction house: restored engines, the deadline
// watcher, and the HTTP + WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	auctionSvc, err := a.buildAuctionService(ctx, deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	watcher := a.buildDeadlineWatcher(deps, auctionSvc)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, auctionSvc)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false; auctions are reachable only through the watcher")
	}

	return g.Wait()
}

// WatchMode runs a headless settlement replica: no API, just the deadline
// watcher settling and announcing on behalf of owners.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")

	g, ctx := errgroup.WithContext(ctx)

	auctionSvc, err := a.buildAuctionService(ctx, deps)
	if err != nil {
		return fmt.Errorf("watch mode: %w", err)
	}

	watcher := a.buildDeadlineWatcher(deps, auctionSvc)
	g.Go(func() error {
		return watcher.Run(ctx)
	})

	return g.Wait()
}

// KeygenMode generates a fresh operator key. When owner.encrypted_key_path and
// owner.key_password are configured the key is encrypted and written there;
// otherwise the raw hex is printed once to stdout.
func (a *App) KeygenMode(ctx context.Context) error {
	keyHex, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}
	signer, err := crypto.NewSigner(keyHex, a.cfg.Auction.ChainID)
	if err != nil {
		return fmt.Errorf("keygen: %w", err)
	}

	if a.cfg.Owner.EncryptedKeyPath != "" && a.cfg.Owner.KeyPassword != "" {
		blob, err := crypto.EncryptKey(keyHex, a.cfg.Owner.KeyPassword)
		if err != nil {
			return fmt.Errorf("keygen: encrypt: %w", err)
		}
		if err := os.WriteFile(a.cfg.Owner.EncryptedKeyPath, blob, 0o600); err != nil {
			return fmt.Errorf("keygen: write key file: %w", err)
		}
		a.logger.InfoContext(ctx, "encrypted key written",
			slog.String("path", a.cfg.Owner.EncryptedKeyPath),
			slog.String("address", signer.Address().Hex()),
		)
		fmt.Printf("address: %s\nkey file: %s\n", signer.Address().Hex(), a.cfg.Owner.EncryptedKeyPath)
		return nil
	}

	fmt.Printf("address:     %s\nprivate key: %s\n", signer.Address().Hex(), keyHex)
	fmt.Println("store the key securely; it is not persisted anywhere")
	return nil
}

// buildAuctionService assembles the auction service from wired dependencies
// and restores the engines for every unsettled auction.
func (a *App) buildAuctionService(ctx context.Context, deps *Dependencies) (*service.AuctionService, error) {
	svc := service.NewAuctionService(
		service.AuctionConfig{
			IncreasePct:       a.cfg.Auction.IncreasePct,
			DiscountPct:       a.cfg.Auction.DiscountPct,
			ExtensionWindow:   a.cfg.Auction.ExtensionWindow.Duration,
			ChainID:           a.cfg.Auction.ChainID,
			RequireSignedBids: a.cfg.Auction.RequireSignedBids,
			BidRateLimit:      a.cfg.Auction.BidRateLimit,
			BidRateWindow:     a.cfg.Auction.BidRateWindow.Duration,
			LockTTL:           a.cfg.Auction.LockTTL.Duration,
		},
		deps.AuctionStore,
		deps.ParticipantStore,
		deps.BidStore,
		deps.PayoutStore,
		deps.AuditStore,
		deps.Accounts,
		a.logger,
	).
		WithEventBus(deps.EventBus).
		WithRateLimiter(deps.RateLimiter).
		WithLockManager(deps.LockManager).
		WithNotifier(deps.Notifier)

	if deps.Archiver != nil {
		svc = svc.WithArchiver(deps.Archiver)
	}

	if err := svc.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore auctions: %w", err)
	}
	return svc, nil
}

func (a *App) buildDeadlineWatcher(deps *Dependencies, svc *service.AuctionService) *service.DeadlineWatcher {
	return service.NewDeadlineWatcher(
		deps.AuctionStore,
		svc,
		deps.EventBus,
		deps.Notifier,
		a.cfg.Auction.PollInterval.Duration,
		a.cfg.Auction.AutoSettle,
		a.logger,
	)
}

// startHTTPServer adds the API server and WebSocket hub to the given errgroup.
// The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, auctionSvc *service.AuctionService) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.EventBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		Version:        a.version,
		StartedAt:      startedAt,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	treasurySvc := service.NewTreasuryService(deps.Accounts, deps.AuditStore, a.logger)

	probes := []handler.HealthProbe{
		{Name: "postgres", Check: deps.PG.Ping},
		{Name: "redis", Check: deps.Redis.Ping},
	}
	if deps.Blob != nil {
		probes = append(probes, handler.HealthProbe{Name: "s3", Check: deps.Blob.Health})
	}

	var archive *handler.ArchiveHandler
	if deps.BlobReader != nil {
		archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:   handler.NewHealthHandler(a.logger, probes...),
			Status:   handler.NewStatusHandler(a.cfg.Mode, a.version, startedAt),
			Auctions: handler.NewAuctionHandler(auctionSvc, a.logger),
			Bids:     handler.NewBidHandler(auctionSvc, a.logger),
			Treasury: handler.NewTreasuryHandler(treasurySvc, a.logger),
			Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
			Events:   handler.NewEventsHandler(deps.EventBus, redis.EventStream, a.logger),
			Archive:  archive,
		},
		hub,
		deps.RateLimiter,
		a.logger,
	)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
