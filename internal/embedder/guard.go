package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// GuardConfig tunes the protection wrapped around a remote provider
type GuardConfig struct {
	RequestsPerSecond float64
	Burst             int

	Retry RetryConfig

	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

// DefaultGuardConfig returns conservative defaults for hosted embedding APIs
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerSecond:       5,
		Burst:                   1,
		Retry:                   DefaultRetryConfig(),
		BreakerMinRequests:      5,
		BreakerFailureRatio:     0.6,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 1,
	}
}

func (c GuardConfig) normalize() GuardConfig {
	def := DefaultGuardConfig()
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry = def.Retry
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = def.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if c.BreakerHalfOpenMaxCalls == 0 {
		c.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}
	return c
}

// guard rate-limits, retries and circuit-breaks calls to one remote provider.
// The breaker wraps the whole retry loop so one exhausted request counts as a
// single failure.
type guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[][]float32]
	retry   RetryConfig
	logger  *slog.Logger
}

func newGuard(name string, cfg GuardConfig, logger *slog.Logger) *guard {
	cfg = cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.BreakerHalfOpenMaxCalls,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Caller errors and cancellations say nothing about provider health
			return err == nil || !isRetryable(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("embedding circuit breaker state change",
				"provider", name, "from", from.String(), "to", to.String())
		},
	}

	return &guard{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker[[][]float32](settings),
		retry:   cfg.Retry,
		logger:  logger,
	}
}

func (g *guard) do(ctx context.Context, fn func(ctx context.Context) ([][]float32, error)) ([][]float32, error) {
	out, err := g.breaker.Execute(func() ([][]float32, error) {
		return retryWithBackoff(ctx, g.retry, func() ([][]float32, error) {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return fn(ctx)
		})
	})
	if err == nil {
		return out, nil
	}
	if IsCircuitOpen(err) {
		return nil, fmt.Errorf("%w: %s circuit open: %w", ErrProviderFailed, g.breaker.Name(), err)
	}
	if ctx.Err() != nil || !isRetryable(err) {
		return nil, err
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrProviderFailed, g.retry.MaxRetries, err)
}

// IsCircuitOpen reports whether err came from an open or saturated breaker
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
