package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-automation"
)

type versionedStats struct {
	stats   automation.Stats
	version int
}

// MemoryStore is a thread-safe in-memory implementation of Store.
// Every read and write works on deep copies.
type MemoryStore struct {
	mu         sync.RWMutex
	rules      map[string]automation.Rule
	stats      map[string]versionedStats
	executions map[string]automation.Execution
	now        func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:      make(map[string]automation.Rule),
		stats:      make(map[string]versionedStats),
		executions: make(map[string]automation.Execution),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) SaveRule(_ context.Context, rule automation.Rule) error {
	if s == nil {
		return errors.New("in-memory store not configured")
	}
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		return errors.New("rule id required")
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.rules[rule.ID]; ok {
		rule.CreatedAt = current.CreatedAt
	} else if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	s.rules[rule.ID] = cloneRule(rule)
	return nil
}

func (s *MemoryStore) SetRuleStatus(_ context.Context, id string, status automation.RuleStatus) error {
	if !status.Valid() {
		return errors.New("invalid rule status")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return ErrNotFound
	}
	rule.Status = status
	rule.UpdatedAt = s.now()
	s.rules[id] = rule
	return nil
}

func (s *MemoryStore) GetRule(_ context.Context, id string) (*automation.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := s.withStats(rule)
	return &out, nil
}

func (s *MemoryStore) ListActiveRules(_ context.Context, ownerID string) ([]automation.Rule, error) {
	return s.list(ownerID, true), nil
}

func (s *MemoryStore) ListRules(_ context.Context, ownerID string) ([]automation.Rule, error) {
	return s.list(ownerID, false), nil
}

func (s *MemoryStore) list(ownerID string, activeOnly bool) []automation.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]automation.Rule, 0)
	for _, rule := range s.rules {
		if ownerID != "" && rule.OwnerID != ownerID {
			continue
		}
		if activeOnly && !rule.Active() {
			continue
		}
		out = append(out, s.withStats(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) withStats(rule automation.Rule) automation.Rule {
	out := cloneRule(rule)
	if vs, ok := s.stats[rule.ID]; ok {
		out.Stats = cloneStats(vs.stats)
	}
	return out
}

func (s *MemoryStore) LoadStats(_ context.Context, ruleID string) (automation.Stats, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs, ok := s.stats[ruleID]
	if !ok {
		return automation.Stats{}, 0, nil
	}
	return cloneStats(vs.stats), vs.version, nil
}

func (s *MemoryStore) UpdateStatsIfVersion(_ context.Context, ruleID string, stats automation.Stats, expectedVersion int) (int, error) {
	if strings.TrimSpace(ruleID) == "" {
		return 0, errors.New("rule id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.stats[ruleID]
	if current.version != expectedVersion {
		return 0, ErrVersionConflict
	}
	next := versionedStats{stats: cloneStats(stats), version: expectedVersion + 1}
	s.stats[ruleID] = next
	return next.version, nil
}

func (s *MemoryStore) CreateExecution(_ context.Context, exec automation.Execution) (string, error) {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; exists {
		return "", errors.New("execution already exists")
	}
	s.executions[exec.ID] = exec.Clone()
	return exec.ID, nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, id string, update ExecutionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	exec, ok := s.executions[id]
	if !ok {
		return ErrNotFound
	}
	if exec.CompletedAt != nil {
		return ErrExecutionFinalized
	}
	completedAt := update.CompletedAt
	if completedAt.IsZero() {
		completedAt = s.now()
	}
	exec.Status = update.Status
	exec.ActionsLog = update.ActionsLog
	exec.CompletedAt = &completedAt
	exec.ErrorMessage = update.ErrorMessage
	s.executions[id] = exec.Clone()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*automation.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := exec.Clone()
	return &out, nil
}

func (s *MemoryStore) ListExecutions(_ context.Context, filter ExecutionFilter) ([]automation.Execution, error) {
	s.mu.RLock()
	out := make([]automation.Execution, 0)
	for _, exec := range s.executions {
		if matchesFilter(exec, filter) {
			out = append(out, exec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRule(rule automation.Rule) automation.Rule {
	out := rule
	out.Trigger.Config = automation.CloneMap(rule.Trigger.Config)
	if rule.Conditions != nil {
		out.Conditions = automation.Conditions(automation.CloneMap(rule.Conditions))
	}
	if rule.Actions != nil {
		out.Actions = make([]automation.Action, len(rule.Actions))
		for i, action := range rule.Actions {
			action.Config = automation.CloneMap(action.Config)
			if action.Retry != nil {
				retry := *action.Retry
				action.Retry = &retry
			}
			out.Actions[i] = action
		}
	}
	out.Stats = cloneStats(rule.Stats)
	return out
}

func cloneStats(stats automation.Stats) automation.Stats {
	if stats.LastRunAt != nil {
		t := *stats.LastRunAt
		stats.LastRunAt = &t
	}
	return stats
}
