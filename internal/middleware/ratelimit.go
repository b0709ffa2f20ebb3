package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/sakif/ronin/internal/session"
)

const (
	maxTrackedClients = 10_000
	clientIdleTTL     = 10 * time.Minute
)

// RateLimiter gives every client its own token bucket. Signed-in clients
// are keyed by user id, anonymous ones by remote address. Buckets of idle
// clients expire from a bounded cache.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	clients *expirable.LRU[string, *rate.Limiter]
}

// NewRateLimiter allows perMinute requests per client per minute, with
// bursts up to perMinute. perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	rl := &RateLimiter{
		limit:   rate.Inf,
		clients: expirable.NewLRU[string, *rate.Limiter](maxTrackedClients, nil, clientIdleTTL),
	}
	if perMinute > 0 {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = perMinute
	}
	return rl
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "rate_limited",
				"message": "Too many requests. Please try again later.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether the client identified by key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.limit == rate.Inf {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.clients.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.limit, rl.burst)
		rl.clients.Add(key, lim)
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// clientKey runs after chi's RealIP, so RemoteAddr already reflects
// X-Forwarded-For.
func clientKey(r *http.Request) string {
	if s, ok := session.FromContext(r.Context()); ok {
		return "user:" + s.UserID
	}
	return "ip:" + r.RemoteAddr
}
