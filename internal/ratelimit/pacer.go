// Package ratelimit enforces a minimum interval between consecutive outbound
// dispatches.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces calls at least 1/callsPerSecond apart. It is backed by a
// token bucket with burst 1, so an idle pacer never accumulates credit.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer creates a pacer for the given rate, which must be positive.
func NewPacer(callsPerSecond float64) (*Pacer, error) {
	if err := validRate(callsPerSecond); err != nil {
		return nil, err
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1)}, nil
}

// Wait blocks until the next call may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// SetRate changes the rate. The change applies to the next Wait.
func (p *Pacer) SetRate(callsPerSecond float64) error {
	if err := validRate(callsPerSecond); err != nil {
		return err
	}
	p.limiter.SetLimit(rate.Limit(callsPerSecond))
	return nil
}

// Rate returns the configured calls per second.
func (p *Pacer) Rate() float64 {
	return float64(p.limiter.Limit())
}

// Interval returns the minimum spacing between calls.
func (p *Pacer) Interval() time.Duration {
	return time.Duration(float64(time.Second) / p.Rate())
}

func validRate(callsPerSecond float64) error {
	if callsPerSecond <= 0 || math.IsNaN(callsPerSecond) || math.IsInf(callsPerSecond, 0) {
		return fmt.Errorf("callsPerSecond must be a positive number, got %v", callsPerSecond)
	}
	return nil
}
