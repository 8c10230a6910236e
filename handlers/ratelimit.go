package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type attemptData struct {
	count        int
	firstAttempt time.Time
}

// rateLimiter locks an IP out after too many failed credential checks.
// One instance guards login and another guards registration.
type rateLimiter struct {
	sync.Mutex
	attempts map[string]*attemptData
	blocked  map[string]time.Time
	now      func() time.Time
}

const (
	maxAttempts    = 5
	blockDuration  = 15 * time.Minute
	windowDuration = 15 * time.Minute
	maxTrackedIPs  = 10000
)

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		attempts: make(map[string]*attemptData),
		blocked:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow returns false if the IP is currently blocked.
// It also cleans up expired blocks.
func (r *rateLimiter) Allow(ip string) bool {
	r.Lock()
	defer r.Unlock()

	if unblockTime, ok := r.blocked[ip]; ok {
		if r.now().Before(unblockTime) {
			return false
		}
		delete(r.blocked, ip)
		delete(r.attempts, ip)
	}
	return true
}

// RecordFailure increments the failure count and blocks if threshold reached.
func (r *rateLimiter) RecordFailure(ip string) {
	r.Lock()
	defer r.Unlock()

	now := r.now()
	if len(r.attempts) > maxTrackedIPs {
		for key, data := range r.attempts {
			if now.Sub(data.firstAttempt) > windowDuration {
				delete(r.attempts, key)
			}
		}
	}

	data, exists := r.attempts[ip]
	if !exists || now.Sub(data.firstAttempt) > windowDuration {
		r.attempts[ip] = &attemptData{count: 1, firstAttempt: now}
		return
	}
	data.count++
	if data.count >= maxAttempts {
		r.blocked[ip] = now.Add(blockDuration)
	}
}

// Reset clears the counter for an IP (used on successful login).
func (r *rateLimiter) Reset(ip string) {
	r.Lock()
	defer r.Unlock()
	delete(r.attempts, ip)
	delete(r.blocked, ip)
}

// requestThrottle is a token bucket per client IP applied to mutating
// requests. Idle buckets are swept lazily on access.
type requestThrottle struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const (
	sweepInterval = 5 * time.Minute
	bucketIdleTTL = 10 * time.Minute
)

func newRequestThrottle(rps float64, burst int) *requestThrottle {
	if burst < 1 {
		burst = 1
	}
	return &requestThrottle{
		limit:     rate.Limit(rps),
		burst:     burst,
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

func (t *requestThrottle) Allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastSweep) > sweepInterval {
		for key, b := range t.buckets {
			if now.Sub(b.lastSeen) > bucketIdleTTL {
				delete(t.buckets, key)
			}
		}
		t.lastSweep = now
	}

	b, ok := t.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[ip] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
