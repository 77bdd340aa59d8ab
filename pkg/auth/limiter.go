package auth

import (
	"sync"

	"golang.org/x/time/rate"

	"chatrelay/pkg/models"
)

// userLimiters hands out one token bucket per authenticated user. Ops
// paths bypass the gateway before the limiter is consulted, so every
// key is a verified user id. Buckets live for the process lifetime;
// held polls consume one token each, so the burst must cover a client's
// register-poll-ping cycle.
type userLimiters struct {
	mu      sync.Mutex
	buckets map[models.UserID]*rate.Limiter
	rps     float64
	burst   int
}

func newUserLimiters(cfg SecConfig) *userLimiters {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	return &userLimiters{
		buckets: make(map[models.UserID]*rate.Limiter),
		rps:     rps,
		burst:   burst,
	}
}

// Allow reports whether the user may proceed, minting the bucket on
// first sight.
func (ul *userLimiters) Allow(u models.UserID) bool {
	ul.mu.Lock()
	l, ok := ul.buckets[u]
	if !ok {
		l = rate.NewLimiter(rate.Limit(ul.rps), ul.burst)
		ul.buckets[u] = l
	}
	ul.mu.Unlock()
	return l.Allow()
}
