// Package store defines the persistence ports used by the engine and ships
// in-memory, SQL (sqlite, postgres) and Redis backed implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-automation"
)

var (
	// ErrNotFound is returned when a rule or execution does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict indicates an optimistic-lock compare-and-set failure.
	ErrVersionConflict = errors.New("stats version conflict")
	// ErrExecutionFinalized is returned when an execution is finalized twice.
	ErrExecutionFinalized = errors.New("execution already finalized")
)

// RuleStore is the read side used by matching and scheduling.
type RuleStore interface {
	ListActiveRules(ctx context.Context, ownerID string) ([]automation.Rule, error)
	GetRule(ctx context.Context, id string) (*automation.Rule, error)
}

// RuleWriter manages rule definitions.
type RuleWriter interface {
	SaveRule(ctx context.Context, rule automation.Rule) error
	SetRuleStatus(ctx context.Context, id string, status automation.RuleStatus) error
}

// RuleLister lists every rule of an owner regardless of status.
type RuleLister interface {
	ListRules(ctx context.Context, ownerID string) ([]automation.Rule, error)
}

// StatsStore persists per-rule counters with optimistic locking.
// A version of 0 means no stats were recorded yet.
type StatsStore interface {
	LoadStats(ctx context.Context, ruleID string) (automation.Stats, int, error)
	UpdateStatsIfVersion(ctx context.Context, ruleID string, stats automation.Stats, expectedVersion int) (int, error)
}

// ExecutionUpdate is the single completion write of an execution.
type ExecutionUpdate struct {
	Status       automation.ExecutionStatus
	ActionsLog   []automation.ActionLogEntry
	CompletedAt  time.Time
	ErrorMessage string
}

// ExecutionFilter narrows ListExecutions. Zero values match everything.
type ExecutionFilter struct {
	RuleID  string
	OwnerID string
	Status  automation.ExecutionStatus
	Limit   int
}

// ExecutionStore persists execution records. UpdateExecution is write-once.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec automation.Execution) (string, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	GetExecution(ctx context.Context, id string) (*automation.Execution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]automation.Execution, error)
}

// Store is the full persistence surface.
type Store interface {
	RuleStore
	RuleWriter
	RuleLister
	StatsStore
	ExecutionStore
}

const defaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func matchesFilter(exec automation.Execution, filter ExecutionFilter) bool {
	if filter.RuleID != "" && exec.RuleID != filter.RuleID {
		return false
	}
	if filter.OwnerID != "" && exec.OwnerID != filter.OwnerID {
		return false
	}
	if filter.Status != "" && exec.Status != filter.Status {
		return false
	}
	return true
}
