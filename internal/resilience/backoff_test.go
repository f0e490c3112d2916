package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseDelayGrowth(t *testing.T) {
	p := Policy{Base: time.Second, Multiplier: 1.5, MaxExponent: 6}

	assert.Equal(t, time.Second, p.BaseDelay(1))
	assert.Equal(t, 1500*time.Millisecond, p.BaseDelay(2))
	assert.Equal(t, 2250*time.Millisecond, p.BaseDelay(3))

	prev := time.Duration(0)
	for attempt := 1; attempt <= 7; attempt++ {
		d := p.BaseDelay(attempt)
		assert.Greater(t, d, prev, "attempt %d should grow", attempt)
		prev = d
	}
}

func TestBaseDelayExponentPinned(t *testing.T) {
	p := Policy{Base: time.Second, Multiplier: 1.5, MaxExponent: 6}

	pinned := p.BaseDelay(7)
	assert.Equal(t, pinned, p.BaseDelay(8))
	assert.Equal(t, pinned, p.BaseDelay(100))
}

func TestBaseDelayClampsAttempt(t *testing.T) {
	p := Policy{Base: time.Second, Multiplier: 2, MaxExponent: 6}

	assert.Equal(t, p.BaseDelay(1), p.BaseDelay(0))
	assert.Equal(t, p.BaseDelay(1), p.BaseDelay(-5))
}

func TestDelayAddsJitter(t *testing.T) {
	p := Policy{
		Base:        time.Second,
		Multiplier:  1.5,
		MaxExponent: 6,
		Jitter:      time.Second,
		Rand:        func() float64 { return 0.5 },
	}

	d := p.Delay(1, time.Minute)
	assert.Equal(t, 1500*time.Millisecond, d)
}

func TestDelayCapped(t *testing.T) {
	p := Policy{
		Base:        time.Second,
		Multiplier:  2,
		MaxExponent: 6,
		Jitter:      time.Second,
		Rand:        func() float64 { return 0.999 },
	}

	d := p.Delay(10, 5*time.Second)
	assert.Equal(t, 5*time.Second, d)
}

func TestDelayDefaultRandInRange(t *testing.T) {
	p := DefaultPolicy()

	for attempt := 1; attempt <= 10; attempt++ {
		d := p.Delay(attempt, 30*time.Second)
		require.GreaterOrEqual(t, d, p.BaseDelay(attempt))
		require.LessOrEqual(t, d, 30*time.Second)
	}
}
