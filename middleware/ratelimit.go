package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterStore holds one token bucket per client IP and evicts buckets
// that have been idle for evictAfter.
type limiterStore struct {
	mu         sync.Mutex
	buckets    map[string]*clientBucket
	limit      rate.Limit
	burst      int
	evictAfter time.Duration
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(r rate.Limit, b int) *limiterStore {
	s := &limiterStore{
		buckets:    make(map[string]*clientBucket),
		limit:      r,
		burst:      b,
		evictAfter: 10 * time.Minute,
	}
	go s.evictLoop()
	return s
}

func (s *limiterStore) allow(ip string) bool {
	s.mu.Lock()
	cb, ok := s.buckets[ip]
	if !ok {
		cb = &clientBucket{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.buckets[ip] = cb
	}
	cb.lastSeen = time.Now()
	s.mu.Unlock()
	return cb.limiter.Allow()
}

func (s *limiterStore) evictLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-s.evictAfter)
		s.mu.Lock()
		for ip, cb := range s.buckets {
			if cb.lastSeen.Before(cutoff) {
				delete(s.buckets, ip)
			}
		}
		s.mu.Unlock()
	}
}

// RateLimit provides per-IP token-bucket rate limiting.
// r is the refill rate in requests per second, b the burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	store := newLimiterStore(r, b)
	return func(c *gin.Context) {
		if !store.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
