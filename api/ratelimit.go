package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PollLimiter bounds status polls per payment intent so a tight client
// loop can't hammer the store. Each intent gets its own token bucket;
// buckets idle longer than ttl are dropped on the next sweep.
type PollLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	buckets   map[string]*pollBucket
	lastSweep time.Time
	now       func() time.Time
}

type pollBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewPollLimiter(perSecond float64, burst int) *PollLimiter {
	return &PollLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     10 * time.Minute,
		buckets: make(map[string]*pollBucket),
		now:     time.Now,
	}
}

// Allow reports whether a poll for key may proceed now.
func (l *PollLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.ttl {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &pollBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}
