package supervisor

import (
	"math/rand"
	"time"
)

// jitterFraction is the maximum extra delay added on top of the exponential
// backoff, as a fraction of the computed delay. Jitter spreads retries from
// multiple wrappers so they do not hammer a shared resource in lockstep.
const jitterFraction = 0.3

// backoff returns the delay before the n-th consecutive retry: base doubled
// per prior failure, capped at max, plus up to 30% random jitter.
func backoff(fails int, base, max time.Duration) time.Duration {
	if fails <= 0 {
		return 0
	}
	d := base
	for i := 1; i < fails; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(float64(d)*jitterFraction) + 1))
	return d + jitter
}
