// Package retry retries transient failures of remote calls with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"
)

// Sentinel errors for retry conditions.
var (
	// ErrMaxRetriesExceeded is joined to the last error once all attempts are used.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Classifier reports whether err is worth another attempt.
type Classifier func(err error) bool

// Config holds retry configuration.
type Config struct {
	// MaxRetries is the number of retries after the first attempt (default: 3).
	MaxRetries int
	// InitialDelay is the delay before the first retry (default: 500ms).
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries (default: 8s).
	MaxDelay time.Duration
	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64
	// JitterFactor in (0, 1] randomizes each delay by +/- that fraction (default: 0.2).
	JitterFactor float64
	// Retryable classifies errors. Nil retries nothing.
	Retryable Classifier
	Logger    *slog.Logger
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		Logger:       slog.Default(),
	}
}

// Retryer runs operations with retry.
type Retryer struct {
	config Config
}

// New creates a Retryer. Zero values are replaced by defaults; a negative MaxRetries
// disables retrying.
func New(config Config) *Retryer {
	defaults := DefaultConfig()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = defaults.Multiplier
	}
	if config.JitterFactor <= 0 || config.JitterFactor > 1 {
		config.JitterFactor = defaults.JitterFactor
	}
	if config.Retryable == nil {
		config.Retryable = func(error) bool { return false }
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Retryer{config: config}
}

// Error reports a failed operation together with the number of attempts made.
type Error struct {
	Err      error
	Attempts int
}

// Error returns the error message.
func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is classified as retryable.
func (r *Retryer) IsRetryable(err error) bool {
	return err != nil && r.config.Retryable(err)
}

// CalculateDelay returns the backoff for a 1-based retry attempt.
func (r *Retryer) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	// initialDelay * multiplier^(attempt-1)
	delay := float64(r.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= r.config.Multiplier
	}
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	// range [delay*(1-jitter), delay*(1+jitter)]
	jitterRange := delay * r.config.JitterFactor
	delay += rand.Float64()*2*jitterRange - jitterRange

	if delay < float64(time.Millisecond) {
		delay = float64(time.Millisecond)
	}
	return time.Duration(delay)
}

// Do executes op with retry.
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoWithResult executes op with retry and returns its result.
func DoWithResult[T any](ctx context.Context, r *Retryer, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		res, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				r.config.Logger.Info("operation succeeded after retry", slog.Int("attempts", attempt+1))
			}
			return res, nil
		}
		lastErr = err

		if !r.IsRetryable(err) {
			return result, &Error{Err: err, Attempts: attempt + 1}
		}
		if attempt >= r.config.MaxRetries {
			break
		}

		delay := r.CalculateDelay(attempt + 1)
		r.config.Logger.Warn("retrying operation",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", r.config.MaxRetries),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	r.config.Logger.Error("max retries exceeded",
		slog.Int("max_retries", r.config.MaxRetries),
		slog.String("last_error", lastErr.Error()),
	)
	return result, &Error{
		Err:      errors.Join(ErrMaxRetriesExceeded, lastErr),
		Attempts: r.config.MaxRetries + 1,
	}
}

// MaxRetries returns the configured retry bound.
func (r *Retryer) MaxRetries() int {
	return r.config.MaxRetries
}
