package worker

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff returns the reconnect delay for the given attempt.
// attempt=0 => ~1s, attempt=1 => ~2s, doubling up to the one-minute cap,
// plus 0-250ms of jitter to avoid thundering herd on a shared outage.
func ExponentialBackoff(attempt int) time.Duration {
	base := time.Second
	capDelay := time.Minute

	// past 2^10 the result is over the cap anyway; clamping the exponent
	// keeps the float conversion from overflowing on long outages
	if attempt > 10 {
		attempt = 10
	}

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay {
		delay = capDelay
	}

	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
