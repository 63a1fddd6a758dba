// Package backoff computes retry delays for outbound calls.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Factor  float64       // default: 2
	Jitter  float64       // fraction of the delay drawn at random, 0..1 (default: 0)

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// Exponential calculates exponential backoff for a given retry attempt.
// Attempt 1 returns Initial, attempt 2 returns Initial*Factor, and so on,
// capped at Max. With Jitter j the result is drawn from [d*(1-j), d] so
// retries from many schedulers against one upstream spread out.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	factor := 2.0
	jitter := 0.0
	random := rand.Float64
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
		if cfg.Factor >= 1 {
			factor = cfg.Factor
		}
		jitter = min(max(cfg.Jitter, 0), 1)
		if cfg.Rand != nil {
			random = cfg.Rand
		}
	}

	attempt = max(attempt, 1)
	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if d > float64(maxBackoff) || math.IsInf(d, 0) {
		d = float64(maxBackoff)
	}
	if jitter > 0 {
		d -= d * jitter * random()
	}
	return time.Duration(d)
}
