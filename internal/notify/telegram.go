package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// telegramEscaper neutralizes the Markdown control characters that can occur
// in auction IDs, addresses and amounts so they render literally.
var telegramEscaper = strings.NewReplacer(
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
)

// TelegramSender delivers auction alerts via the Telegram Bot API.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and
// chat ID.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: newHTTPClient(),
	}
}

// Send posts a message to the configured chat via the sendMessage API. The
// title renders in bold. Bodies carry attribute values such as bidder
// addresses, so content is escaped and link previews are disabled.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	text := fmt.Sprintf("*%s*\n%s",
		telegramEscaper.Replace(title),
		telegramEscaper.Replace(message),
	)

	return postJSON(ctx, t.client, "telegram",
		"https://api.telegram.org/bot"+t.token+"/sendMessage",
		map[string]any{
			"chat_id":                  t.chatID,
			"text":                     text,
			"parse_mode":               "Markdown",
			"disable_web_page_preview": true,
		}, nil)
}

func (t *TelegramSender) Name() string { return "telegram" }
