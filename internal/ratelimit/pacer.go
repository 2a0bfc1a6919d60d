package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Waiter blocks until the next upstream request may be issued
type Waiter interface {
	Wait(ctx context.Context) error
}

// Pacer spaces outbound upstream requests at least one interval apart. Time is read from an
// injectable clock so delays can be asserted without sleeping.
type Pacer struct {
	limiter *rate.Limiter
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// PacerOption configures a Pacer.
type PacerOption func(*Pacer)

// PacerWithClock replaces the wall clock and the sleep function.
func PacerWithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) {
		p.now = now
		p.sleep = sleep
	}
}

// NewPacer creates a pacer allowing one request per interval. A non-positive interval disables
// pacing.
func NewPacer(interval time.Duration, options ...PacerOption) *Pacer {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	p := &Pacer{
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Wait reserves the next slot and sleeps until it is due, or returns early when ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := p.now()
	reservation := p.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("pacer cannot grant a request")
	}
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := p.sleep(ctx, delay); err != nil {
		reservation.CancelAt(p.now())
		return err
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
