package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWebhookHeadersDeterministic(t *testing.T) {
	auth := &WebhookAuth{Secret: "test-secret"}
	body := `{"type":"auction.bid.leading","auction_id":"auc-1"}`

	h1 := auth.HeadersAt(body, 1_748_779_200)
	h2 := auth.HeadersAt(body, 1_748_779_200)
	require.Equal(t, h1, h2)
	require.Equal(t, "1748779200", h1[HeaderWebhookTimestamp])
	require.NotEmpty(t, h1[HeaderWebhookSignature])

	// A different timestamp yields a different signature.
	h3 := auth.HeadersAt(body, 1_748_779_201)
	require.NotEqual(t, h1[HeaderWebhookSignature], h3[HeaderWebhookSignature])
}

func TestWebhookVerify(t *testing.T) {
	auth := &WebhookAuth{Secret: "test-secret"}
	body := `{"type":"auction.closed"}`

	h := auth.HeadersAt(body, 1_748_779_200)
	ts := h[HeaderWebhookTimestamp]
	sig := h[HeaderWebhookSignature]

	require.True(t, auth.Verify(body, ts, sig))
	require.False(t, auth.Verify(body+" ", ts, sig))
	require.False(t, auth.Verify(body, "1748779201", sig))

	other := &WebhookAuth{Secret: "other-secret"}
	require.False(t, other.Verify(body, ts, sig))
}

func TestWebhookAuthStringRedacts(t *testing.T) {
	auth := &WebhookAuth{Secret: "super-secret-value"}
	s := auth.String()
	require.NotContains(t, s, "super-secret-value")
	require.NotContains(t, s, "supe")
}
