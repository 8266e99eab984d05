package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"crypto-risk-scorer/internal/analyzer"
	"crypto-risk-scorer/internal/fetcher"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Retrier wraps provider calls with exponential backoff.
type Retrier struct {
	maxRetries int
	delay      time.Duration
	sleep      SleepFunc
	logger     zerolog.Logger
}

// NewRetrier builds a Retrier. maxRetries counts attempts, not re-attempts.
func NewRetrier(maxRetries int, delay time.Duration, sleep SleepFunc, logger zerolog.Logger) *Retrier {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if sleep == nil {
		sleep = sleepContext
	}
	return &Retrier{
		maxRetries: maxRetries,
		delay:      delay,
		sleep:      sleep,
		logger:     logger.With().Str("component", "retry").Logger(),
	}
}

// Call runs fn up to maxRetries times, waiting delay × 2^(n-1) after the
// n-th failure. Non-retryable kinds return at once; the last error is
// returned after exhaustion.
func (r *Retrier) Call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !fetcher.Retryable(err) || attempt == r.maxRetries {
			return err
		}

		wait := r.delay * time.Duration(1<<(attempt-1))
		r.logger.Debug().Err(err).
			Str("call", name).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("provider call failed, retrying")

		if sleepErr := r.sleep(ctx, wait); sleepErr != nil {
			return err
		}
	}
	return err
}

var _ analyzer.CallFunc = (*Retrier)(nil).Call

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
