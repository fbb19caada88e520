package common

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
)

// RetryableFunc defines a function that can be retried.
// It should return an error if the operation failed and needs to be retried.
type RetryableFunc func() error

// Config holds the configuration for retry behavior.
type Config struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	jitter       float64
	retryIf      func(error) bool
	onRetry      func(attempt int, err error, delay time.Duration)
}

// Option is a functional option for configuring retry behavior.
type Option func(*Config)

// WithMaxRetries sets the maximum number of retry attempts.
// Default is 2 retries (3 attempts in total).
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithInitialDelay sets the initial delay before the first retry.
// Default is 1 second.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.initialDelay = d
		}
	}
}

// WithMaxDelay sets the maximum delay between retries.
// Default is 30 seconds. Provider-supplied delays are capped at this value too.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.maxDelay = d
		}
	}
}

// WithMultiplier sets the exponential backoff multiplier.
// Default is 2.0 (doubles each retry).
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m > 0 {
			c.multiplier = m
		}
	}
}

// WithJitter sets the randomization factor applied to every delay, in [0, 1].
// A factor of 0.2 turns a 10s delay into a random value between 8s and 12s.
// Default is 0.2.
func WithJitter(f float64) Option {
	return func(c *Config) {
		if f >= 0 && f <= 1 {
			c.jitter = f
		}
	}
}

// WithRetryIf restricts retries to errors accepted by fn.
// Errors rejected by fn are returned immediately without wrapping.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) {
		if fn != nil {
			c.retryIf = fn
		}
	}
}

// WithOnRetry registers a callback invoked before each backoff sleep.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) {
		c.onRetry = fn
	}
}

// defaultConfig returns the default retry configuration.
func defaultConfig() *Config {
	return &Config{
		maxRetries:   2,
		initialDelay: 1 * time.Second,
		maxDelay:     30 * time.Second,
		multiplier:   2.0,
		jitter:       0.2,
		retryIf:      func(error) bool { return true },
	}
}

// Policy is the serializable form of a retry configuration, loaded from config files.
type Policy struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
	Jitter       float64       `mapstructure:"jitter"`
}

// DefaultPolicy mirrors defaultConfig: 3 attempts, 1s initial delay, 30s cap, x2, 20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Options converts the policy into Do options. Zero fields keep the defaults.
func (p Policy) Options() []Option {
	opts := []Option{
		WithInitialDelay(p.InitialDelay),
		WithMaxDelay(p.MaxDelay),
		WithMultiplier(p.Multiplier),
		WithJitter(p.Jitter),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, WithMaxRetries(p.MaxAttempts-1))
	}
	return opts
}

// Do executes the provided function with exponential backoff retry logic.
// It respects context cancellation and will stop retrying if the context is cancelled.
//
// The function will:
// - Execute immediately on the first attempt
// - Retry on failures accepted by WithRetryIf, with jittered exponential backoff
// - Wait at least the provider-supplied delay (RetryAfterOf) when one is attached
// - Return nil if any attempt succeeds
// - Return the last error if all attempts fail
// - Return context.Canceled or context.DeadlineExceeded if context is cancelled
//
// Example usage:
//
//	err := common.Do(ctx, func() error {
//	    return someAPICall()
//	}, common.WithRetryIf(common.IsRetryable))
func Do(ctx context.Context, fn RetryableFunc, opts ...Option) error {
	if fn == nil {
		return errors.New("retry: function cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	bo := &backoff.ExponentialBackOff{
		InitialInterval:     cfg.initialDelay,
		RandomizationFactor: cfg.jitter,
		Multiplier:          cfg.multiplier,
		MaxInterval:         cfg.maxDelay,
	}
	bo.Reset()

	var lastErr error

	// First attempt (attempt 0)
	if err := fn(); err == nil {
		return nil
	} else {
		lastErr = err
	}

	for attempt := 1; attempt <= cfg.maxRetries; attempt++ {
		if !cfg.retryIf(lastErr) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "retry aborted after %d attempts", attempt)
		default:
		}

		delay := bo.NextBackOff()
		if hint := RetryAfterOf(lastErr); hint > delay {
			delay = hint
		}
		if delay > cfg.maxDelay {
			delay = cfg.maxDelay
		}

		if cfg.onRetry != nil {
			cfg.onRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrapf(ctx.Err(), "retry aborted during backoff (attempt %d/%d)", attempt, cfg.maxRetries)
		case <-timer.C:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if cfg.maxRetries == 0 || !cfg.retryIf(lastErr) {
		return lastErr
	}
	return errors.Wrapf(lastErr, "retry failed after %d attempts", cfg.maxRetries+1)
}

// ParseRetryAfter 解析 Retry-After 头，支持秒数和 HTTP 日期两种格式，无法解析时返回 0
func ParseRetryAfter(header string, now time.Time) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
