package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"
)

// Webhook header names carrying the signature material. Receivers recompute
// HMAC-SHA256(secret, timestamp+body) and compare against the signature.
const (
	HeaderWebhookTimestamp = "X-Gavel-Timestamp"
	HeaderWebhookSignature = "X-Gavel-Signature"
)

// WebhookAuth signs outbound event deliveries with a shared secret so
// receivers can authenticate them.
type WebhookAuth struct {
	Secret string
}

// Headers returns the HTTP headers for an outbound webhook delivery. The
// signature is HMAC-SHA256(secret, timestamp+body) encoded as base64.
func (w *WebhookAuth) Headers(body string) map[string]string {
	return w.HeadersAt(body, time.Now().Unix())
}

// HeadersAt is like Headers but lets the caller supply the Unix timestamp
// (useful for deterministic testing).
func (w *WebhookAuth) HeadersAt(body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	sig := hmacSHA256Base64([]byte(w.Secret), ts+body)

	return map[string]string{
		HeaderWebhookTimestamp: ts,
		HeaderWebhookSignature: sig,
	}
}

// Verify checks a received signature against the body and timestamp. The
// comparison is constant time. Callers enforce their own timestamp skew
// policy; Verify only answers whether the signature matches.
func (w *WebhookAuth) Verify(body, timestamp, signature string) bool {
	want := hmacSHA256Base64([]byte(w.Secret), timestamp+body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// hmacSHA256Base64 signs message with key and encodes the MAC as standard
// base64.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// String keeps the shared secret out of accidental log output.
func (w *WebhookAuth) String() string {
	return "WebhookAuth{secret=***}"
}
