package http

import (
	"context"
	"net"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/oceanvision/marine-catalog/pkg/logger"
)

type requestIDKey struct{}

const maxRequestIDLen = 128

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// requestIDMiddleware echoes a sane X-Request-ID or mints a UUID, and puts a
// request-scoped logger into the context.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)

		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		ctx = logger.WithContext(ctx, s.logger.WithRequestID(id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrumentMiddleware writes the access log line and, when a recorder is
// wired, observes the request under its chi route pattern.
func (s *Server) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		if s.deps.Metrics != nil {
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			s.deps.Metrics.ObserveHTTPRequest(route, r.Method, status, elapsed)
		}

		log := logger.FromContext(r.Context()).Info
		if status >= http.StatusInternalServerError {
			log = logger.FromContext(r.Context()).Warn
		}
		log("http request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Int("bytes", ww.BytesWritten()),
			logger.Latency(elapsed),
			logger.String("ip", s.clientIP(r)),
			logger.String("user_agent", r.UserAgent()),
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500 envelope.
// http.ErrAbortHandler is re-raised for net/http to handle.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			switch v {
			case nil:
				return
			case http.ErrAbortHandler:
				panic(v)
			}
			s.logger.Error("handler panicked",
				logger.Any("panic", v),
				logger.String("path", r.URL.Path),
				logger.String(logger.RequestIDKey, requestIDFrom(r.Context())),
				logger.String("stack", string(debug.Stack())),
			)
			writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return origin != "" &&
		(slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin))
}

// corsMiddleware answers preflights itself and reflects allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); s.originAllowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-Request-ID")
			h.Set("Access-Control-Max-Age", "86400")
		}

		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
		if preflight {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(s.rateLimiter.window / time.Second))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter.Allow(s.clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", retryAfter)
		writeJSONError(w, r, http.StatusTooManyRequests, "rate_limit_exceeded", "Too many requests, please try again later")
	})
}

// clientIP is the direct peer unless that peer is a trusted proxy, in which
// case the first X-Forwarded-For hop (or X-Real-IP) wins.
func (s *Server) clientIP(r *http.Request) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if _, ok := s.trusted[peer]; !ok && !s.trustAll {
		return peer
	}

	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	for _, candidate := range []string{first, r.Header.Get("X-Real-IP")} {
		if ip := strings.TrimSpace(candidate); ip != "" {
			return ip
		}
	}
	return peer
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// ══════════════════════════════════════════════════════════════════════════════

// rateLimiter keeps, per key, the hit times inside a sliding window. Keys
// with no hits in the last window are dropped at most once per window
// during Allow.
type rateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	nextSweep time.Time
}

func newRateLimiter(limit int, window time.Duration, now func() time.Time) *rateLimiter {
	return &rateLimiter{
		limit:     limit,
		window:    window,
		now:       now,
		hits:      make(map[string][]time.Time),
		nextSweep: now().Add(window),
	}
}

func (rl *rateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	if !now.Before(rl.nextSweep) {
		rl.sweep(cutoff)
		rl.nextSweep = now.Add(rl.window)
	}

	// hits are appended in time order, so the live ones are a suffix.
	live := rl.hits[key]
	drop, _ := slices.BinarySearchFunc(live, cutoff, func(t, c time.Time) int {
		if t.After(c) {
			return 1
		}
		return -1
	})
	live = live[drop:]

	ok := len(live) < rl.limit
	if ok {
		live = append(live, now)
	}
	rl.hits[key] = live
	return ok
}

func (rl *rateLimiter) sweep(cutoff time.Time) {
	for k, ts := range rl.hits {
		if n := len(ts); n == 0 || !ts[n-1].After(cutoff) {
			delete(rl.hits, k)
		}
	}
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.hits)
}
