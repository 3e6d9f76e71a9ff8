package runner

import (
	"time"

	"github.com/goliatone/go-automation"
)

type Option func(*Handler)

// WithTimeout bounds every attempt.
func WithTimeout(t time.Duration) Option {
	return func(r *Handler) {
		r.timeout = t
	}
}

// WithMaxAttempts sets the total number of attempts, including the first.
// Values below 1 are treated as 1.
func WithMaxAttempts(max int) Option {
	return func(r *Handler) {
		if max < 1 {
			max = 1
		}
		r.maxAttempts = max
	}
}

// WithRetryStrategy lets you define a custom retry/backoff approach.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(r *Handler) {
		if s == nil {
			s = NoDelayStrategy{}
		}
		r.retryStrategy = s
	}
}

// WithRetryIf decides which errors deserve another attempt.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Handler) {
		if fn == nil {
			fn = IsRetryable
		}
		r.retryIf = fn
	}
}

func WithErrorHandler(h func(error)) Option {
	return func(r *Handler) {
		if h == nil {
			h = func(err error) {}
		}
		r.errorHandler = h
	}
}

func WithLogger(l automation.Logger) Option {
	return func(r *Handler) {
		r.logger = l
	}
}

// WithPolicy applies an action retry policy. A nil policy keeps a single attempt.
func WithPolicy(p *automation.RetryPolicy) Option {
	return func(r *Handler) {
		if p == nil || p.MaxAttempts <= 1 {
			return
		}
		r.maxAttempts = p.MaxAttempts
		r.retryStrategy = ExponentialBackoffStrategy{
			Base:   p.Backoff,
			Factor: 2,
			Max:    p.MaxBackoff,
		}
	}
}
