package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	s3blob "github.com/gavelhouse/gavel/internal/blob/s3"
	"github.com/gavelhouse/gavel/internal/cache/redis"
	"github.com/gavelhouse/gavel/internal/config"
	"github.com/gavelhouse/gavel/internal/crypto"
	"github.com/gavelhouse/gavel/internal/domain"
	"github.com/gavelhouse/gavel/internal/notify"
	"github.com/gavelhouse/gavel/internal/service"
	"github.com/gavelhouse/gavel/internal/store/postgres"
)

// Dependencies is everything the operating modes run on: the postgres
// stores, the redis coordination primitives, the optional blob archive and
// owner signer, and the notifier. Wire builds it; the cleanup Wire returns
// releases it.
type Dependencies struct {
	// Stores
	AuctionStore     domain.AuctionStore
	ParticipantStore domain.ParticipantStore
	BidStore         domain.BidStore
	PayoutStore      domain.PayoutStore
	AuditStore       domain.AuditStore
	Accounts         service.AccountStore

	// Backing clients, kept for health probes. Blob is nil when S3 is
	// disabled.
	PG    *postgres.Client
	Redis *redis.Client
	Blob  *s3blob.Client

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	EventBus    domain.EventBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Identity
	Signer *crypto.Signer

	// Notifications
	Notifier *notify.Notifier
}

// Wire connects every backing service cfg names and assembles the dependency
// set. The returned cleanup closes the clients in reverse order of
// construction; a failure mid-wire tears down whatever already connected
// before returning.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for _, closeFn := range slices.Backward(closers) {
			closeFn()
		}
	}
	fail := func(stage string, err error) error {
		cleanup()
		return fmt.Errorf("wire: %s: %w", stage, err)
	}

	// Postgres carries the durable state: auctions, bids, participants,
	// accounts, payouts and the audit log.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		return nil, nil, fail("postgres", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			return nil, nil, fail("postgres migrations", err)
		}
	}

	pool := pgClient.Pool()
	auctionStore := postgres.NewAuctionStore(pool)
	bidStore := postgres.NewBidStore(pool)
	participantStore := postgres.NewParticipantStore(pool)
	payoutStore := postgres.NewPayoutStore(pool)
	auditStore := postgres.NewAuditStore(pool)

	// Redis carries the coordination plane: bid rate limits, settlement
	// locks and the event bus.
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return nil, nil, fail("redis", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	// The owner key is optional; without it settlement reports go unsigned.
	var signer *crypto.Signer
	if cfg.Owner.PrivateKey != "" || cfg.Owner.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Owner.PrivateKey,
			EncryptedKeyPath: cfg.Owner.EncryptedKeyPath,
			KeyPassword:      cfg.Owner.KeyPassword,
		})
		if err != nil {
			return nil, nil, fail("owner key", err)
		}
		if signer, err = crypto.NewSigner(keyHex, cfg.Auction.ChainID); err != nil {
			return nil, nil, fail("owner signer", err)
		}
	}

	// The blob archive is optional; with S3 off, settled auctions stay in
	// postgres only.
	var (
		blobClient *s3blob.Client
		blobWriter domain.BlobWriter
		blobReader domain.BlobReader
		archiver   domain.Archiver
	)
	if cfg.S3.Enabled {
		blobClient, err = s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, nil, fail("s3", err)
		}
		closers = append(closers, func() { _ = blobClient.Close() })

		blobWriter = s3blob.NewWriter(blobClient)
		blobReader = s3blob.NewReader(blobClient)
		archiver = s3blob.NewArchiver(blobWriter, blobReader,
			auctionStore, bidStore, participantStore, payoutStore, auditStore,
			signer)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}

	return &Dependencies{
		AuctionStore:     auctionStore,
		ParticipantStore: participantStore,
		BidStore:         bidStore,
		PayoutStore:      payoutStore,
		AuditStore:       auditStore,
		Accounts:         postgres.NewAccountStore(pool),

		PG:    pgClient,
		Redis: redisClient,
		Blob:  blobClient,

		RateLimiter: redis.NewRateLimiter(redisClient),
		LockManager: redis.NewLockManager(redisClient),
		EventBus:    redis.NewEventBus(redisClient),

		BlobWriter: blobWriter,
		BlobReader: blobReader,
		Archiver:   archiver,

		Signer:   signer,
		Notifier: notify.NewNotifier(senders, cfg.Notify.Events, logger),
	}, cleanup, nil
}
