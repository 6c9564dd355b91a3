package faults

import (
	"math"
	"math/rand"
	"time"
)

// Backoff spaces out retries of a flaky external call: exponential growth
// from a floor delay up to a ceiling, with random jitter so a fleet of
// workers hitting the same outage does not retry in lockstep.
type Backoff struct {
	floor     time.Duration
	ceiling   time.Duration
	factor    float64
	jitterPct int
}

// NewBackoff builds a schedule from millisecond bounds. Out-of-range inputs
// fall back to 1s..30s doubling with 20% jitter.
func NewBackoff(floorMs, ceilingMs int, factor float64, jitterPct int) *Backoff {
	if floorMs <= 0 {
		floorMs = 1000
	}
	if ceilingMs <= 0 {
		ceilingMs = 30000
	}
	if factor <= 0 {
		factor = 2.0
	}
	if jitterPct < 0 {
		jitterPct = 20
	}
	return &Backoff{
		floor:     time.Duration(floorMs) * time.Millisecond,
		ceiling:   time.Duration(ceilingMs) * time.Millisecond,
		factor:    factor,
		jitterPct: jitterPct,
	}
}

// Delay returns how long to wait before retry number attempt (0-indexed).
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	d := float64(b.floor) * math.Pow(b.factor, float64(attempt))
	d = math.Min(d, float64(b.ceiling))

	if b.jitterPct > 0 {
		spread := d * float64(b.jitterPct) / 100.0
		d += (rand.Float64()*2 - 1) * spread
	}
	if d < 0 {
		d = float64(b.floor)
	}
	return time.Duration(d)
}
