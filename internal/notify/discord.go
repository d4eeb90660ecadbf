package notify

import (
	"context"
	"net/http"
)

// discordEmbedColor is the accent color on auction alert embeds.
const discordEmbedColor = 0xB8860B

// discordMaxDescription is Discord's limit on embed description length.
const discordMaxDescription = 4096

// DiscordSender delivers auction alerts via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

// Send posts the alert as a single embed so multi-line attribute bodies keep
// their formatting. Overlong bodies are truncated to Discord's embed limit.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	if len(message) > discordMaxDescription {
		message = message[:discordMaxDescription-3] + "..."
	}

	return postJSON(ctx, d.client, "discord", d.webhookURL, map[string]any{
		"username": "gavel",
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
			"color":       discordEmbedColor,
		}},
	}, nil)
}

func (d *DiscordSender) Name() string { return "discord" }
