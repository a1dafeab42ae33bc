package httpadapter

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/agape-peninsula/counsel-api/internal/domain"
	"github.com/agape-peninsula/counsel-api/internal/observability"
)

type ctxKey string

const ctxKeyIdentity ctxKey = "identity"

// withLogging assigns a request id and logs every request.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx := observability.WithRequestID(r.Context(), uuid.NewString())
		next.ServeHTTP(w, r.WithContext(ctx))

		observability.LoggerFromContext(ctx).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

// withCORS allows calls from the configured front-end origin.
func withCORS(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-User-Id, X-Counselling-Track, X-User-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiters keeps one token bucket per client key. Idle entries are
// swept once per window so the map stays bounded by the number of
// clients active within one window.
type clientLimiters struct {
	window time.Duration
	max    int
	now    func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientEntry
	lastSweep time.Time
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiters(window time.Duration, max int) *clientLimiters {
	return &clientLimiters{
		window:  window,
		max:     max,
		now:     time.Now,
		clients: make(map[string]*clientEntry),
	}
}

func (c *clientLimiters) get(key string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastSweep) > c.window {
		for k, e := range c.clients {
			if now.Sub(e.lastSeen) > c.window {
				delete(c.clients, k)
			}
		}
		c.lastSweep = now
	}

	e, ok := c.clients[key]
	if !ok {
		e = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(c.max)/c.window.Seconds()), c.max),
		}
		c.clients[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (c *clientLimiters) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// withRateLimit enforces a per-client request budget over a sliding
// window. The client key is the authenticated user when present, the
// remote address otherwise.
func withRateLimit(window time.Duration, max int) func(http.Handler) http.Handler {
	if window <= 0 {
		window = 15 * time.Minute
	}
	limiters := newClientLimiters(window, max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-User-Id")
			if key == "" {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				key = host
			}

			if !limiters.get(key).Allow() {
				writeJSON(w, http.StatusTooManyRequests, apiResponse{
					Success: false,
					Message: "Too many requests, please try again later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// withIdentity lifts the trusted identity headers set by the auth
// collaborator into a request-scoped value. No global auth state.
func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity := domain.Identity{
			UserID:   domain.UserID(userID),
			Track:    domain.ParseTrack(r.Header.Get("X-Counselling-Track")),
			UserType: domain.ParseUserType(r.Header.Get("X-User-Type")),
		}

		ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom fetches the caller identity, writing a 401 when the
// request carried no identity headers.
func identityFrom(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, ok := r.Context().Value(ctxKeyIdentity).(domain.Identity)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, apiResponse{
			Success: false,
			Message: "Access denied. No identity provided.",
		})
		return domain.Identity{}, false
	}
	return identity, true
}

// chainMiddlewares applies multiple middlewares in order.
func chainMiddlewares(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middlewares {
		h = m(h)
	}
	return h
}
