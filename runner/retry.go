package runner

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryStrategy encapsulates the delay between retries.
type RetryStrategy interface {
	// SleepDuration returns how long to wait before the next retry attempt.
	// The attempt index starts at 0, incrementing after each failure.
	SleepDuration(attempt int, err error) time.Duration
}

// RetryDecision is the outcome of a RetryDecider.
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
	Metadata    map[string]any
}

// RetryDecider is an optional extension for strategies that also decide
// whether an error deserves another attempt.
type RetryDecider interface {
	DecideRetry(attempt int, err error) RetryDecision
}

// DecideRetry asks strategy for a decision, falling back to SleepDuration.
func DecideRetry(strategy RetryStrategy, attempt int, err error) RetryDecision {
	if strategy == nil {
		return RetryDecision{ShouldRetry: true}
	}
	if decider, ok := strategy.(RetryDecider); ok {
		return decider.DecideRetry(attempt, err)
	}
	return RetryDecision{
		ShouldRetry: true,
		Delay:       strategy.SleepDuration(attempt, err),
	}
}

// NoDelayStrategy is a simple retry strategy that performs all retries
// immediately without waiting.
type NoDelayStrategy struct{}

// SleepDuration always returns zero, causing immediate retries.
func (n NoDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	return 0
}

// ExponentialBackoffStrategy implements a backoff strategy.
// Usage example:
//
//	WithRetryStrategy(ExponentialBackoffStrategy{
//	    Base:   100 * time.Millisecond,
//	    Factor: 2,
//	    Max:    5 * time.Second,
//	})
type ExponentialBackoffStrategy struct {
	// Base is the starting delay (e.g., 100ms)
	Base time.Duration
	// Factor is multiplied each iteration (e.g., 2 => 100ms, 200ms, 400ms, ...)
	Factor float64
	// Max is the maximum delay allowed (caps the exponential growth)
	Max time.Duration
	// Jitter adds up to this fraction of the delay at random, 0 disables it.
	Jitter float64
}

// SleepDuration implements an exponential backoff with a cap at Max.
func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor <= 0 {
		factor = 1
	}
	delay := float64(e.Base) * math.Pow(factor, float64(attempt))
	if e.Jitter > 0 {
		delay += delay * e.Jitter * rand.Float64()
	}
	if time.Duration(delay) > e.Max && e.Max > 0 {
		return e.Max
	}
	return time.Duration(delay)
}
