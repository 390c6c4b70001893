package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"canvassync/pkg/errors"
)

// SlidingWindowLimiter admits at most limit requests per key within any window
type SlidingWindowLimiter struct {
	mu         sync.Mutex
	windows    map[string][]time.Time
	limit      int
	windowSize time.Duration
	now        func() time.Time
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter
func NewSlidingWindowLimiter(limit int, windowSize time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		windows:    make(map[string][]time.Time),
		limit:      limit,
		windowSize: windowSize,
		now:        time.Now,
	}
}

// Allow records a request for key and reports whether it is within the limit.
// When it is not, the returned duration is how long until a slot frees up.
func (l *SlidingWindowLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.windowSize)

	// Remove old requests outside the window
	reqs := l.windows[key]
	kept := reqs[:0]
	for _, t := range reqs {
		if t.After(windowStart) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.windows[key] = kept
		return false, kept[0].Sub(windowStart)
	}
	l.windows[key] = append(kept, now)
	return true, 0
}

// Reset forgets every request recorded for key
func (l *SlidingWindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// RateLimit rejects requests from a client address over the limiter's budget
// with 429 and a Retry-After header. Run it after chi's RealIP.
func RateLimit(limiter *SlidingWindowLimiter, errs *errors.ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.Allow("ip:" + clientIP(r))
			if !ok {
				secs := int(wait.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				errs.Handle(w, r, errors.NewRateLimitError("too many answer requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
