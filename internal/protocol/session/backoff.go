package session

import (
	"math"
	"math/rand"
	"time"
)

// Delay returns the wait before retry attempt N (1-based). With jitter enabled the
// result is scaled by a factor in [0.5, 1.5).
func (b BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if b.InitialDelay <= 0 {
		return 0
	}
	delay := float64(b.InitialDelay)
	if attempt > 1 {
		mult := b.Multiplier
		if mult < 1.0 {
			mult = 1.0
		}
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		delay = float64(b.MaxDelay)
	}
	if b.Jitter {
		f := 1.0
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	return cfg.Delay(attempt, rng)
}
