package middleware

import (
	"net/http"
	"sync"
	"time"
)

// limiter is a token-bucket rate limiter keyed by caller. On the public
// widget routes the caller is the firm when the request identifies one, so a
// single busy firm exhausts its own bucket instead of the whole platform's.
type limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64 // tokens per second
	burst   int     // bucket capacity
}

type tokenBucket struct {
	tokens   float64
	lastFill time.Time
}

func newLimiter(rate float64, burst int) *limiter {
	l := &limiter{
		buckets: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   burst,
	}
	go l.evictIdle()
	return l
}

// allow reports whether the caller has a token left.
func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(l.burst), lastFill: now}
		l.buckets[key] = b
	}

	b.tokens += now.Sub(b.lastFill).Seconds() * l.rate
	if b.tokens > float64(l.burst) {
		b.tokens = float64(l.burst)
	}
	b.lastFill = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictIdle drops buckets that have not been touched in a while so the map
// does not grow with every visitor the widget ever saw.
func (l *limiter) evictIdle() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for key, b := range l.buckets {
			if b.lastFill.Before(cutoff) {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit rejects callers who exceed rate requests/sec (with the given
// burst) using the platform's error envelope. Requests carrying X-Firm-Id are
// bucketed per firm; anonymous traffic falls back to the client IP.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	l := newLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + r.RemoteAddr
			// chi's RealIP middleware rewrites RemoteAddr from
			// X-Real-Ip, but keep the header fallback for callers
			// mounting this middleware standalone.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				key = "ip:" + xri
			}
			if firmID := r.Header.Get("X-Firm-Id"); firmID != "" {
				key = "firm:" + firmID
			}
			if !l.allow(key) {
				w.Header().Set("Retry-After", "1")
				writeEnvelope(w, http.StatusTooManyRequests, "RateLimited", "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
