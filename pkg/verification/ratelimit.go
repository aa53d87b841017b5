package verification

import (
	"sync"
	"time"
)

// sendBucket is a token bucket tracking code sends for one identifier
type sendBucket struct {
	tokens     float64
	lastRefill time.Time
}

// SendLimiter bounds how often verification codes may be issued per
// identifier, so a hostile caller cannot turn the sender into an SMS or
// email firehose. Each identifier gets a token bucket: a burst of sends is
// allowed, then tokens trickle back one per refill interval.
type SendLimiter struct {
	mu      sync.Mutex
	buckets map[string]*sendBucket

	burst  int
	refill time.Duration

	now func() time.Time
}

// NewSendLimiter creates a limiter allowing the given burst per
// identifier, refilling one send per refill interval
func NewSendLimiter(burst int, refill time.Duration) *SendLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &SendLimiter{
		buckets: make(map[string]*sendBucket),
		burst:   burst,
		refill:  refill,
		now:     time.Now,
	}
}

// Allow reports whether another code may be sent to the identifier,
// consuming a token when it may
func (l *SendLimiter) Allow(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[identifier]
	if !ok {
		bucket = &sendBucket{tokens: float64(l.burst), lastRefill: now}
		l.buckets[identifier] = bucket
	} else if l.refill > 0 {
		elapsed := now.Sub(bucket.lastRefill)
		bucket.tokens += float64(elapsed) / float64(l.refill)
		if bucket.tokens > float64(l.burst) {
			bucket.tokens = float64(l.burst)
		}
		bucket.lastRefill = now
	}

	if bucket.tokens >= 1.0 {
		bucket.tokens -= 1.0
		return true
	}
	return false
}

// Sweep drops buckets idle longer than the given age; callers run it
// periodically to keep memory bounded
func (l *SendLimiter) Sweep(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxIdle)
	for key, bucket := range l.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
