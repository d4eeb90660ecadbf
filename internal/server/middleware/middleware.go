// Package middleware wraps the API handlers with the cross-cutting request
// treatment: authentication, per-client throttling, CORS and the request
// log. Handlers stay free of all four.
package middleware

import (
	"io"
	"net/http"
)

// deny writes a JSON error body with the given status, matching the shape
// handler errors use.
func deny(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, `{"error":"`+msg+`"}`)
}
