package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 5
	defaultBurst = 10
)

// limits returns the effective token-bucket parameters, substituting the
// defaults where the config leaves them unset.
func (c SecConfig) limits() (rate.Limit, int) {
	rps := c.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := c.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	return rate.Limit(rps), burst
}

// limiterPool hands out one token bucket per caller id. Buckets live for
// the process lifetime; caller ids are low-cardinality (one per user).
type limiterPool struct {
	cfg SecConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLimiterPool(cfg SecConfig) *limiterPool {
	return &limiterPool{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

// Allow reports whether the caller may proceed, consuming one token.
func (p *limiterPool) Allow(callerID string) bool {
	p.mu.Lock()
	l, ok := p.limiters[callerID]
	if !ok {
		rps, burst := p.cfg.limits()
		l = rate.NewLimiter(rps, burst)
		p.limiters[callerID] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
