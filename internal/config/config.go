// Package config loads, validates and redacts the gavel runtime
// configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the assembled runtime configuration: defaults, then the TOML
// file, then GAVEL_* environment overrides.
type Config struct {
	Owner    OwnerConfig    `toml:"owner"`
	Auction  AuctionConfig  `toml:"auction"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OwnerConfig holds the operator's Ethereum identity. The address is used as
// the default auction owner; the key material only matters for keygen and for
// signing bids from the CLI.
type OwnerConfig struct {
	Address          string `toml:"address"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// AuctionConfig holds the bidding and settlement rules applied to every
// auction the service hosts.
type AuctionConfig struct {
	// IncreasePct is the percentage a new bid must exceed the current
	// maximum by. A bid that merely ties the threshold is rejected.
	IncreasePct int64 `toml:"increase_pct"`

	// DiscountPct is the percentage retained from every settlement refund.
	DiscountPct int64 `toml:"discount_pct"`

	// ExtensionWindow is the anti-sniping window. A bid landing within it
	// pushes the deadline out by one full window.
	ExtensionWindow duration `toml:"extension_window"`

	// ChainID scopes typed-data bid signatures.
	ChainID int `toml:"chain_id"`

	// RequireSignedBids rejects bids that do not carry a valid signature
	// from the bidding address.
	RequireSignedBids bool `toml:"require_signed_bids"`

	BidRateLimit  int      `toml:"bid_rate_limit"`
	BidRateWindow duration `toml:"bid_rate_window"`

	// LockTTL bounds how long a per-auction mutation lock may be held.
	LockTTL duration `toml:"lock_ttl"`

	// AutoSettle makes the deadline watcher run settlement as the owner
	// once a deadline passes, instead of waiting for an API call.
	AutoSettle   bool     `toml:"auto_settle"`
	PollInterval duration `toml:"poll_interval"`
}

// PostgresConfig connects the ledger store. A non-empty DSN wins over the
// discrete fields.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig connects the locks, rate limits and event fan-out.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive. Archiving is optional; when disabled the rest of the section is
// ignored.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration lets TOML (and the env overrides) express durations as strings
// like "10m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig shapes the HTTP API and its WebSocket feed.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig carries the credentials for each notification channel; a
// channel with no credentials stays off. Events filters which event names
// are forwarded.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// Defaults is the base layer of the configuration, mirrored by
// config.example.toml. A local stack runs on it unchanged.
func Defaults() Config {
	return Config{
		Auction: AuctionConfig{
			IncreasePct:     5,
			DiscountPct:     2,
			ExtensionWindow: duration{10 * time.Minute},
			ChainID:         1,
			BidRateLimit:    10,
			BidRateWindow:   duration{time.Second},
			LockTTL:         duration{15 * time.Second},
			AutoSettle:      true,
			PollInterval:    duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "gavel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "gavel-archive",
			ForcePathStyle: true,
		},
		// No CORS origins by default: browser clients are opt-in per
		// deployment.
		Server: ServerConfig{
			Enabled:    true,
			Port:       8000,
			RateLimit:  60,
			RateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{
				"auction.created",
				"auction.closed",
				"auction.suspended",
				"auction.emergency.withdrawal",
			},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate reports every problem with the configuration at once, so an
// operator fixes a bad file in one pass instead of one restart per mistake.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(c.Mode) {
	case "serve", "watch", "keygen":
	default:
		fail("unknown mode %q (valid: serve, watch, keygen)", c.Mode)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		fail("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// An encrypted key file is unreadable without its password.
	if c.Owner.EncryptedKeyPath != "" && c.Owner.KeyPassword == "" {
		fail("owner: key_password is required when encrypted_key_path is set")
	}

	if c.Auction.IncreasePct < 1 || c.Auction.IncreasePct > 100 {
		fail("auction: increase_pct must be 1-100, got %d", c.Auction.IncreasePct)
	}
	if c.Auction.DiscountPct < 0 || c.Auction.DiscountPct > 100 {
		fail("auction: discount_pct must be 0-100, got %d", c.Auction.DiscountPct)
	}
	if c.Auction.ExtensionWindow.Duration <= 0 {
		fail("auction: extension_window must be > 0")
	}
	if c.Auction.RequireSignedBids && c.Auction.ChainID <= 0 {
		fail("auction: chain_id must be positive when require_signed_bids is set")
	}
	if c.Auction.BidRateLimit < 0 {
		fail("auction: bid_rate_limit must be >= 0")
	}
	if c.Auction.PollInterval.Duration <= 0 {
		fail("auction: poll_interval must be > 0")
	}

	// The discrete postgres fields only matter when no DSN is given.
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			fail("postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			fail("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			fail("postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		fail("postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		fail("postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		fail("postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		fail("redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		fail("redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			fail("s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			fail("s3: bucket must not be empty when enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			fail("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimit < 0 {
			fail("server: rate_limit must be >= 0")
		}
	}

	if c.Notify.WebhookSecret != "" && c.Notify.WebhookURL == "" {
		fail("notify: webhook_url is required when webhook_secret is set")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}
