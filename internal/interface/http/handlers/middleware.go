package handlers

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// API KEY AUTH
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth guards operator endpoints with static keys. Keys are kept as
// SHA-256 digests and compared in constant time. With no keys configured
// every request is rejected.
type APIKeyAuth struct {
	header  string
	digests [][sha256.Size]byte
}

func NewAPIKeyAuth(header string, keys []string) *APIKeyAuth {
	if header == "" {
		header = "X-API-Key"
	}
	a := &APIKeyAuth{header: header}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			a.digests = append(a.digests, sha256.Sum256([]byte(k)))
		}
	}
	return a
}

// Accepts reports whether key is one of the configured keys.
func (a *APIKeyAuth) Accepts(key string) bool {
	d := sha256.Sum256([]byte(key))
	match := 0
	for i := range a.digests {
		match |= subtle.ConstantTimeCompare(d[:], a.digests[i][:])
	}
	return match == 1
}

// keyFrom reads the configured header, falling back to a Bearer token.
func (a *APIKeyAuth) keyFrom(r *http.Request) string {
	if k := r.Header.Get(a.header); k != "" {
		return k
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := a.keyFrom(r)
		if key == "" {
			WriteError(w, http.StatusUnauthorized, "missing_api_key", "API key is required")
			return
		}
		if !a.Accepts(key) {
			WriteError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HEADERS
// ══════════════════════════════════════════════════════════════════════════════

// setHeaders returns a middleware that sets fixed headers before next runs.
func setHeaders(kv ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for i := 0; i+1 < len(kv); i += 2 {
				h.Set(kv[i], kv[i+1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeadersMiddleware locks the JSON API out of frames and sniffing.
var SecurityHeadersMiddleware = setHeaders(
	"X-Content-Type-Options", "nosniff",
	"X-Frame-Options", "DENY",
	"Referrer-Policy", "strict-origin-when-cross-origin",
	"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'",
)

// NoCacheMiddleware is for health, metrics and refresh routes.
var NoCacheMiddleware = setHeaders(
	"Cache-Control", "no-store, no-cache, must-revalidate, max-age=0",
	"Pragma", "no-cache",
	"Expires", "0",
)

// CacheControlMiddleware lets clients cache reads for maxAge; other methods
// get no-store.
func CacheControlMiddleware(maxAge time.Duration, private bool) func(http.Handler) http.Handler {
	scope := "public"
	if private {
		scope = "private"
	}
	read := scope + ", max-age=" + strconv.FormatInt(int64(max(maxAge, 0)/time.Second), 10)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := "no-store"
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				v = read
			}
			w.Header().Set("Cache-Control", v)
			next.ServeHTTP(w, r)
		})
	}
}

// RequestSizeLimitMiddleware rejects bodies over maxBytes up front when the
// length is declared and caps the reader otherwise.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				WriteError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// WriteError writes the failure envelope for middleware that runs before
// the server's own error writer is in reach.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]any{
		"success": false,
		"error":   map[string]string{"code": code, "message": message},
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
