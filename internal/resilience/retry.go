package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig tunes exponential backoff with jitter. The zero value gets
// the same defaults the worker config ships with.
type RetryConfig struct {
	// MaxAttempts counts the first try too; 1 disables retries.
	// Mirrors worker.retry_max_attempts; default 3.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	// Mirrors worker.retry_backoff_ms; default 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the grown delay.
	// Mirrors worker.retry_max_backoff_ms; default 30s.
	MaxBackoff time.Duration

	// Multiplier grows the delay between attempts. Default 2.0.
	Multiplier float64

	// JitterFraction spreads each delay by up to this fraction either
	// way, so concurrent workers do not retry in lockstep. Default 0.25.
	JitterFraction float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil falls back to IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry observes each retry before its sleep.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig matches the worker config defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do runs fn until it succeeds, the error stops being retryable, the
// attempts run out or ctx is done. Only transient errors retry.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for calls that return a value. The value of the first
// successful attempt is returned as-is.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		last := attempt == cfg.MaxAttempts-1
		if ctx.Err() != nil || !retryable(lastErr) || last {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}

		timer := time.NewTimer(cfg.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// delay computes the sleep before retrying attempt (zero-based), capped
// then jittered.
func (cfg RetryConfig) delay(attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	d = math.Min(d, float64(cfg.MaxBackoff))
	if cfg.JitterFraction > 0 {
		d += (rand.Float64()*2 - 1) * d * cfg.JitterFraction
	}
	return time.Duration(math.Max(d, 0))
}

// RetryLogger is the standard OnRetry hook: one warn line per retry,
// tagged with the service and operation.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
