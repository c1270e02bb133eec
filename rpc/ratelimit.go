package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit bounds the requests accepted from one client. A zero
// RequestsPerMinute disables limiting.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

const visitorTTL = 5 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address.
type RateLimiter struct {
	cfg       RateLimit
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	clockNow  func() time.Time
}

func NewRateLimiter(cfg RateLimit) *RateLimiter {
	return &RateLimiter{
		cfg:      cfg,
		visitors: make(map[string]*visitor),
		clockNow: time.Now,
	}
}

// Allow consumes a token for id.
func (r *RateLimiter) Allow(id string) bool {
	if r == nil || r.cfg.RequestsPerMinute <= 0 {
		return true
	}
	now := r.clockNow()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep(now)
	entry, ok := r.visitors[id]
	if !ok {
		burst := r.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		entry = &visitor{limiter: rate.NewLimiter(rate.Limit(r.cfg.RequestsPerMinute/60.0), burst)}
		r.visitors[id] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops visitors idle for longer than visitorTTL. Callers hold mu.
func (r *RateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < visitorTTL {
		return
	}
	r.lastSweep = now
	for id, v := range r.visitors {
		if now.Sub(v.lastSeen) > visitorTTL {
			delete(r.visitors, id)
		}
	}
}

// clientID keys the limiter. RealIP has already folded proxy headers into
// RemoteAddr.
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
