package api

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// sessionLimiter hands out one token bucket per booking session. The
// heartbeat cadence is minutes apart, so even a chatty tab stays far below
// the limit; the bucket exists to stop a broken renewal loop from hammering
// the mutation endpoints.
type sessionLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	buckets  map[string]*sessionBucket
	maxIdle  time.Duration
	maxCount int
}

type sessionBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newSessionLimiter(limit rate.Limit, burst int) *sessionLimiter {
	return &sessionLimiter{
		limit:    limit,
		burst:    burst,
		buckets:  make(map[string]*sessionBucket),
		maxIdle:  10 * time.Minute,
		maxCount: 4096,
	}
}

func (s *sessionLimiter) allow(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b, ok := s.buckets[sessionID]
	if !ok {
		if len(s.buckets) >= s.maxCount {
			s.pruneLocked(now)
		}
		b = &sessionBucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[sessionID] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

func (s *sessionLimiter) pruneLocked(now time.Time) {
	for id, b := range s.buckets {
		if now.Sub(b.lastSeen) > s.maxIdle {
			delete(s.buckets, id)
		}
	}
}

// RateLimitMiddleware throttles per-session mutation traffic. Requests
// without a session header fall through to the handler, which rejects them
// with a proper validation error anyway.
func RateLimitMiddleware(limit rate.Limit, burst int) func(http.Handler) http.Handler {
	sl := newSessionLimiter(limit, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get("X-Session-ID")
			if sessionID != "" && !sl.allow(sessionID) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many lease operations for this session")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
