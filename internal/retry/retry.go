// Package retry wraps remote store calls with bounded, linearly backed-off retries.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// ErrUnavailable is returned once every attempt failed with a transient error.
var ErrUnavailable = errors.New("store unavailable")

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = time.Second
)

// Retrier holds the retry policy shared by all store and calendar calls.
type Retrier struct {
	Attempts  int
	BaseDelay time.Duration
	// Timeout bounds a single attempt. Zero means no per-attempt timeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// New returns a Retrier with the default policy.
func New(logger *slog.Logger) *Retrier {
	return &Retrier{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
		Logger:    logger,
	}
}

// Run calls fn until it succeeds, fails fatally, or the attempts run out.
func (r *Retrier) Run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the value-returning form of Run.
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if r == nil {
		r = New(nil)
	}
	var (
		ret     T
		attempt int
	)
	attempts := r.attempts()
	logger := r.logger()

	err := goretry.Do(ctx, r.backoff(attempts), func(ctx context.Context) error {
		attempt++
		value, err := callOnce(ctx, r.Timeout, fn)
		if err == nil {
			ret = value
			return nil
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return err
		}
		logger.WarnContext(ctx, "remote call failed",
			"op", op,
			"attempt", attempt,
			"max_attempts", attempts,
			"error", err,
		)
		return goretry.RetryableError(err)
	})
	if err == nil {
		return ret, nil
	}

	var zero T
	if ctx.Err() != nil {
		return zero, err
	}
	if IsTransient(err) {
		return zero, fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return zero, fmt.Errorf("%s: %w", op, err)
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

// backoff sleeps BaseDelay*(1+k) after failed attempt k.
func (r *Retrier) backoff(attempts int) goretry.Backoff {
	base := r.BaseDelay
	if base < 0 {
		base = 0
	}
	var k int64
	linear := goretry.BackoffFunc(func() (time.Duration, bool) {
		k++
		return base * time.Duration(k), false
	})
	return goretry.WithMaxRetries(uint64(attempts-1), linear)
}

func (r *Retrier) attempts() int {
	if r == nil || r.Attempts <= 0 {
		return DefaultAttempts
	}
	return r.Attempts
}

func (r *Retrier) logger() *slog.Logger {
	if r == nil || r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
