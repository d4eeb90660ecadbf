package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg safe to log: credential fields are
// replaced with "***" and slices are cloned so the caller cannot reach the
// original through the copy.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Owner.PrivateKey)
	redact(&out.Owner.KeyPassword)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Notify.WebhookSecret)

	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)

	return out
}

// redact replaces a non-empty string with the placeholder. Empty stays
// empty, so a redacted dump still shows which credentials are unset.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
