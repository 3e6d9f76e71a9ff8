// Package stats applies execution outcomes to per-rule counters.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/runner"
	"github.com/goliatone/go-automation/store"
)

const defaultMaxAttempts = 16

// Aggregator folds final execution statuses into rule stats with a
// read, increment, compare-and-set loop. Writers in the same process are
// serialised per rule so conflicts only come from other processes.
type Aggregator struct {
	store       store.StatsStore
	logger      automation.Logger
	maxAttempts int
	backoff     runner.RetryStrategy

	locks sync.Map // rule id -> *sync.Mutex
}

type Option func(*Aggregator)

// WithMaxAttempts bounds the compare-and-set loop.
func WithMaxAttempts(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxAttempts = n
		}
	}
}

// WithBackoff sets the delay between conflicting attempts.
func WithBackoff(s runner.RetryStrategy) Option {
	return func(a *Aggregator) {
		if s != nil {
			a.backoff = s
		}
	}
}

func WithLogger(l automation.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New builds an aggregator over s.
func New(s store.StatsStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:       s,
		logger:      automation.NopLogger{},
		maxAttempts: defaultMaxAttempts,
		backoff: runner.ExponentialBackoffStrategy{
			Base:   2 * time.Millisecond,
			Factor: 2,
			Max:    100 * time.Millisecond,
			Jitter: 0.5,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Apply counts one finished execution. SUCCESS increments successCount;
// PARTIAL and FAILED increment failCount. Every call increments totalRuns
// exactly once or returns an error.
func (a *Aggregator) Apply(ctx context.Context, ruleID string, status automation.ExecutionStatus, completedAt time.Time) (automation.Stats, error) {
	if !status.Final() {
		return automation.Stats{}, fmt.Errorf("stats: cannot apply non final status %q", status)
	}
	if a == nil || a.store == nil {
		return automation.Stats{}, errors.New("stats: store not configured")
	}

	mu := a.lockFor(ruleID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		current, version, err := a.store.LoadStats(ctx, ruleID)
		if err != nil {
			return automation.Stats{}, fmt.Errorf("stats: load %s: %w", ruleID, err)
		}

		next := Increment(current, status, completedAt)
		if _, err := a.store.UpdateStatsIfVersion(ctx, ruleID, next, version); err != nil {
			if !errors.Is(err, store.ErrVersionConflict) {
				return automation.Stats{}, fmt.Errorf("stats: update %s: %w", ruleID, err)
			}
			lastErr = err
			a.logger.Debug("stats conflict for rule %s, attempt %d of %d", ruleID, attempt+1, a.maxAttempts)
			if !wait(ctx, a.backoff.SleepDuration(attempt, err)) {
				return automation.Stats{}, ctx.Err()
			}
			continue
		}
		return next, nil
	}

	return automation.Stats{}, automation.NewError(automation.ErrStatsConflict,
		fmt.Sprintf("stats update for rule %s conflicted %d times", ruleID, a.maxAttempts),
		lastErr,
		map[string]any{"rule_id": ruleID},
	)
}

// Increment returns stats with one more run of the given status.
func Increment(current automation.Stats, status automation.ExecutionStatus, completedAt time.Time) automation.Stats {
	next := current
	next.TotalRuns++
	if status == automation.ExecutionSuccess {
		next.SuccessCount++
	} else {
		next.FailCount++
	}
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	if next.LastRunAt == nil || completedAt.After(*next.LastRunAt) {
		t := completedAt
		next.LastRunAt = &t
	}
	return next
}

func (a *Aggregator) lockFor(ruleID string) *sync.Mutex {
	mu, _ := a.locks.LoadOrStore(ruleID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
