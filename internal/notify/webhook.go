package notify

import (
	"context"
	"net/http"

	"github.com/gavelhouse/gavel/internal/crypto"
)

// WebhookSender delivers notifications to an operator-controlled HTTPS
// endpoint. Deliveries are signed with a shared secret so the receiver can
// authenticate them.
type WebhookSender struct {
	url    string
	auth   *crypto.WebhookAuth
	client *http.Client
}

// NewWebhookSender creates a WebhookSender for the given endpoint and shared
// secret.
func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		url:    url,
		auth:   &crypto.WebhookAuth{Secret: secret},
		client: newHTTPClient(),
	}
}

// Send posts the notification as JSON with HMAC signature headers computed
// over the exact bytes on the wire.
func (w *WebhookSender) Send(ctx context.Context, title, message string) error {
	return postJSON(ctx, w.client, "webhook", w.url,
		map[string]string{
			"title":   title,
			"message": message,
		},
		func(body []byte) map[string]string {
			return w.auth.Headers(string(body))
		})
}

func (w *WebhookSender) Name() string { return "webhook" }
