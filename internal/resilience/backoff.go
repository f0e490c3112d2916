package resilience

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy computes reconnection delays as a pure function of the attempt
// number. It performs no I/O and owns no timers, so it can be tested
// without any clock.
type Policy struct {
	// Base is the delay for the first attempt, before jitter.
	Base time.Duration

	// Multiplier grows the base component per attempt.
	Multiplier float64

	// MaxExponent caps the growth exponent so the base component
	// plateaus instead of overflowing.
	MaxExponent int

	// Jitter is the upper bound of the uniform random component added
	// to every delay.
	Jitter time.Duration

	// Rand returns a uniform value in [0, 1). Defaults to math/rand
	// when nil; tests inject a deterministic source.
	Rand func() float64
}

// DefaultPolicy returns the reconnection policy used against the chat
// gateway: 1s base, 1.5x growth capped at six doublings, up to 1s jitter.
func DefaultPolicy() Policy {
	return Policy{
		Base:        time.Second,
		Multiplier:  1.5,
		MaxExponent: 6,
		Jitter:      time.Second,
	}
}

// BaseDelay returns the pre-jitter delay component for the given attempt
// (1-indexed). The exponent is pinned at MaxExponent.
func (p Policy) BaseDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > p.MaxExponent {
		exp = p.MaxExponent
	}
	return time.Duration(float64(p.Base) * math.Pow(p.Multiplier, float64(exp)))
}

// Delay returns the full jittered delay for the given attempt, capped at
// max. The cap bounds the final value, jitter included.
func (p Policy) Delay(attempt int, maxDelay time.Duration) time.Duration {
	random := p.Rand
	if random == nil {
		random = rand.Float64
	}

	delay := p.BaseDelay(attempt) + time.Duration(random()*float64(p.Jitter))
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
