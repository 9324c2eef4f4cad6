package crawler

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"

	"golang.org/x/time/rate"
)

// Delayer paces requests before every fetch attempt. This is a politeness
// control, not a failure response.
type Delayer interface {
	Wait(ctx context.Context) error
}

// PolitenessDelayer sleeps a duration sampled uniformly from [min, max] and
// additionally honors a rate limiter shared across all workers, so raising
// concurrency cannot multiply the request rate against the site.
type PolitenessDelayer struct {
	min     time.Duration
	max     time.Duration
	limiter *rate.Limiter
}

// NewPolitenessDelayer builds a delayer for the configured delay range. The
// shared floor admits at most one request per min delay across callers; a
// nil limiter is substituted when min is zero.
func NewPolitenessDelayer(min, max time.Duration) *PolitenessDelayer {
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	var limiter *rate.Limiter
	if min > 0 {
		limiter = rate.NewLimiter(rate.Every(min), 1)
	}
	return &PolitenessDelayer{min: min, max: max, limiter: limiter}
}

// Wait blocks for the sampled delay or until ctx is done.
func (d *PolitenessDelayer) Wait(ctx context.Context) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	delay := d.sample()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (d *PolitenessDelayer) sample() time.Duration {
	window := d.max - d.min
	if window <= 0 {
		return d.min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(window)))
	if err != nil {
		return d.min
	}
	return d.min + time.Duration(n.Int64())
}
