package middleware

import (
	"net/http"
	"sync"
	"time"
)

// rateLimiter is a sliding-window counter per key.
type rateLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	max    int
	window time.Duration
	now    func() time.Time
}

func newRateLimiter(max int, window time.Duration) *rateLimiter {
	return &rateLimiter{hits: make(map[string][]time.Time), max: max, window: window, now: time.Now}
}

func (l *rateLimiter) allow(key string) bool {
	if l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	cutoff := now.Add(-l.window)
	recent := l.hits[key]
	i := 0
	for _, t := range recent {
		if t.After(cutoff) {
			recent[i] = t
			i++
		}
	}
	recent = recent[:i]
	if len(recent) >= l.max {
		l.hits[key] = recent
		return false
	}
	l.hits[key] = append(recent, now)
	return true
}

// RateLimit limits requests per client IP and per authenticated user within
// window; a zero limit disables that dimension. Mount it after JWTAuth so the
// user id is known.
func RateLimit(perIP, perUser int, window time.Duration) func(http.Handler) http.Handler {
	byIP := newRateLimiter(perIP, window)
	byUser := newRateLimiter(perUser, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.allow(clientIP(r)) {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" && !byUser.allow(userID) {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
