package client

import (
	"math/rand/v2"
	"time"
)

// Reconnection defaults.
const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 30 * time.Second
	DefaultJitter      = time.Second
)

// Policy is bounded exponential backoff with additive jitter. Attempt n
// (1-based) waits min(BaseDelay*2^(n-1), MaxDelay) plus a uniform draw
// from [0, Jitter).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// DefaultPolicy returns the standard reconnection policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// Exhausted reports whether no further attempt may be scheduled.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Delay returns the wait before the given attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	// Double step by step so large attempt numbers can't overflow.
	backoff := p.BaseDelay
	for i := 1; i < attempt && backoff < p.MaxDelay; i++ {
		backoff *= 2
	}
	if backoff > p.MaxDelay {
		backoff = p.MaxDelay
	}

	if p.Jitter <= 0 {
		return backoff
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	return backoff + time.Duration(r()*float64(p.Jitter))
}
