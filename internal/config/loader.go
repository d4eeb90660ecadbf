package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load assembles the runtime configuration in three layers: built-in
// defaults, the TOML file at path, then GAVEL_* environment overrides.
// File keys the config struct does not know are treated as typos and fail
// the load. Load does not validate; callers run Config.Validate once the
// overrides are in.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		names := make([]string, len(unknown))
		for i, key := range unknown {
			names[i] = key.String()
		}
		return nil, fmt.Errorf("config: %s: unknown keys: %s", path, strings.Join(names, ", "))
	}

	// A .env beside the binary feeds the same override path. Missing is
	// fine, and variables already set on the process win over .env entries.
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return &cfg, nil
}

// envSet applies GAVEL_* variables over the file layer. Malformed values
// are collected rather than skipped: a typo in GAVEL_SERVER_PORT should
// stop the deploy, not leave the default port listening.
type envSet struct {
	errs []error
}

func applyEnvOverrides(cfg *Config) error {
	env := &envSet{}

	// Owner.
	env.str(&cfg.Owner.Address, "GAVEL_OWNER_ADDRESS")
	env.str(&cfg.Owner.PrivateKey, "GAVEL_OWNER_PRIVATE_KEY")
	env.str(&cfg.Owner.EncryptedKeyPath, "GAVEL_OWNER_ENCRYPTED_KEY_PATH")
	env.str(&cfg.Owner.KeyPassword, "GAVEL_OWNER_KEY_PASSWORD")

	// Auction.
	env.num64(&cfg.Auction.IncreasePct, "GAVEL_AUCTION_INCREASE_PCT")
	env.num64(&cfg.Auction.DiscountPct, "GAVEL_AUCTION_DISCOUNT_PCT")
	env.dur(&cfg.Auction.ExtensionWindow, "GAVEL_AUCTION_EXTENSION_WINDOW")
	env.num(&cfg.Auction.ChainID, "GAVEL_AUCTION_CHAIN_ID")
	env.flag(&cfg.Auction.RequireSignedBids, "GAVEL_AUCTION_REQUIRE_SIGNED_BIDS")
	env.num(&cfg.Auction.BidRateLimit, "GAVEL_AUCTION_BID_RATE_LIMIT")
	env.dur(&cfg.Auction.BidRateWindow, "GAVEL_AUCTION_BID_RATE_WINDOW")
	env.dur(&cfg.Auction.LockTTL, "GAVEL_AUCTION_LOCK_TTL")
	env.flag(&cfg.Auction.AutoSettle, "GAVEL_AUCTION_AUTO_SETTLE")
	env.dur(&cfg.Auction.PollInterval, "GAVEL_AUCTION_POLL_INTERVAL")

	// Postgres. GAVEL_DATABASE_URL is the alias hosting providers inject.
	env.str(&cfg.Postgres.DSN, "GAVEL_POSTGRES_DSN")
	env.str(&cfg.Postgres.DSN, "GAVEL_DATABASE_URL")
	env.str(&cfg.Postgres.Host, "GAVEL_POSTGRES_HOST")
	env.num(&cfg.Postgres.Port, "GAVEL_POSTGRES_PORT")
	env.str(&cfg.Postgres.Database, "GAVEL_POSTGRES_DATABASE")
	env.str(&cfg.Postgres.User, "GAVEL_POSTGRES_USER")
	env.str(&cfg.Postgres.Password, "GAVEL_POSTGRES_PASSWORD")
	env.str(&cfg.Postgres.SSLMode, "GAVEL_POSTGRES_SSLMODE")
	env.str(&cfg.Postgres.SSLMode, "GAVEL_POSTGRES_SSL_MODE")
	env.num(&cfg.Postgres.PoolMaxConns, "GAVEL_POSTGRES_POOL_MAX_CONNS")
	env.num(&cfg.Postgres.PoolMinConns, "GAVEL_POSTGRES_POOL_MIN_CONNS")
	env.flag(&cfg.Postgres.RunMigrations, "GAVEL_POSTGRES_RUN_MIGRATIONS")

	// Redis.
	env.str(&cfg.Redis.Addr, "GAVEL_REDIS_ADDR")
	env.str(&cfg.Redis.Password, "GAVEL_REDIS_PASSWORD")
	env.num(&cfg.Redis.DB, "GAVEL_REDIS_DB")
	env.num(&cfg.Redis.PoolSize, "GAVEL_REDIS_POOL_SIZE")
	env.num(&cfg.Redis.MaxRetries, "GAVEL_REDIS_MAX_RETRIES")
	env.flag(&cfg.Redis.TLSEnabled, "GAVEL_REDIS_TLS_ENABLED")

	// S3.
	env.flag(&cfg.S3.Enabled, "GAVEL_S3_ENABLED")
	env.str(&cfg.S3.Endpoint, "GAVEL_S3_ENDPOINT")
	env.str(&cfg.S3.Region, "GAVEL_S3_REGION")
	env.str(&cfg.S3.Bucket, "GAVEL_S3_BUCKET")
	env.str(&cfg.S3.AccessKey, "GAVEL_S3_ACCESS_KEY")
	env.str(&cfg.S3.SecretKey, "GAVEL_S3_SECRET_KEY")
	env.flag(&cfg.S3.UseSSL, "GAVEL_S3_USE_SSL")
	env.flag(&cfg.S3.ForcePathStyle, "GAVEL_S3_FORCE_PATH_STYLE")

	// Server.
	env.flag(&cfg.Server.Enabled, "GAVEL_SERVER_ENABLED")
	env.num(&cfg.Server.Port, "GAVEL_SERVER_PORT")
	env.list(&cfg.Server.CORSOrigins, "GAVEL_SERVER_CORS_ORIGINS")
	env.str(&cfg.Server.APIKey, "GAVEL_SERVER_API_KEY")
	env.num(&cfg.Server.RateLimit, "GAVEL_SERVER_RATE_LIMIT")
	env.dur(&cfg.Server.RateWindow, "GAVEL_SERVER_RATE_WINDOW")

	// Notify.
	env.str(&cfg.Notify.TelegramToken, "GAVEL_NOTIFY_TELEGRAM_TOKEN")
	env.str(&cfg.Notify.TelegramChatID, "GAVEL_NOTIFY_TELEGRAM_CHAT_ID")
	env.str(&cfg.Notify.DiscordWebhookURL, "GAVEL_NOTIFY_DISCORD_WEBHOOK_URL")
	env.str(&cfg.Notify.WebhookURL, "GAVEL_NOTIFY_WEBHOOK_URL")
	env.str(&cfg.Notify.WebhookSecret, "GAVEL_NOTIFY_WEBHOOK_SECRET")
	env.list(&cfg.Notify.Events, "GAVEL_NOTIFY_EVENTS")

	// Top level.
	env.str(&cfg.Mode, "GAVEL_MODE")
	env.str(&cfg.LogLevel, "GAVEL_LOG_LEVEL")

	return errors.Join(env.errs...)
}

// override parses an environment value into dst, recording parse failures
// on the set. Unset and empty variables leave dst alone.
func override[T any](e *envSet, dst *T, key string, parse func(string) (T, error)) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parsed, err := parse(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return
	}
	*dst = parsed
}

func (e *envSet) str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envSet) num(dst *int, key string) {
	override(e, dst, key, strconv.Atoi)
}

func (e *envSet) num64(dst *int64, key string) {
	override(e, dst, key, func(v string) (int64, error) {
		return strconv.ParseInt(v, 10, 64)
	})
}

func (e *envSet) flag(dst *bool, key string) {
	override(e, dst, key, strconv.ParseBool)
}

func (e *envSet) dur(dst *duration, key string) {
	override(e, &dst.Duration, key, time.ParseDuration)
}

func (e *envSet) list(dst *[]string, key string) {
	override(e, dst, key, func(v string) ([]string, error) {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) == 0 {
			return nil, errors.New("no entries")
		}
		return out, nil
	})
}
