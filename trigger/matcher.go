// Package trigger resolves which active rules of a tenant are eligible for
// an event.
package trigger

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

// EventMap maps an event name to the trigger kinds it fires.
type EventMap map[string][]automation.TriggerKind

// DefaultEventMap maps every event trigger kind to the event of the same
// name. SCHEDULED is fired by the scheduler and is not reachable from events.
func DefaultEventMap() EventMap {
	m := EventMap{}
	for _, kind := range automation.TriggerKinds() {
		if kind == automation.TriggerScheduled {
			continue
		}
		m[kind.String()] = []automation.TriggerKind{kind}
	}
	return m
}

// Kinds returns the trigger kinds for event.
func (m EventMap) Kinds(event string) []automation.TriggerKind {
	return m[event]
}

type Option func(*Matcher)

// WithEventMapping adds kinds to the mapping of event.
func WithEventMapping(event string, kinds ...automation.TriggerKind) Option {
	return func(m *Matcher) {
		for _, kind := range kinds {
			if !containsKind(m.events[event], kind) {
				m.events[event] = append(m.events[event], kind)
			}
		}
	}
}

func WithLogger(l automation.Logger) Option {
	return func(m *Matcher) {
		if l != nil {
			m.logger = l
		}
	}
}

// Matcher selects rules for events. It never fails: a store error is
// logged as a match fault and yields no rules.
type Matcher struct {
	rules  store.RuleStore
	logger automation.Logger

	mu     sync.RWMutex
	events EventMap

	faults atomic.Int64
}

func NewMatcher(rules store.RuleStore, opts ...Option) *Matcher {
	m := &Matcher{
		rules:  rules,
		logger: automation.NopLogger{},
		events: DefaultEventMap(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Match returns the active rules of ownerID whose trigger fires on event.
// The result has no particular order.
func (m *Matcher) Match(ctx context.Context, event, ownerID string) []automation.Rule {
	kinds := m.kinds(event)
	if len(kinds) == 0 {
		m.logger.Debug("no trigger kinds mapped for event %q", event)
		return nil
	}

	rules, err := m.rules.ListActiveRules(ctx, ownerID)
	if err != nil {
		m.faults.Add(1)
		fault := automation.MatchFault(ownerID, event, err)
		automation.WithLoggerFields(m.logger, map[string]any{
			"owner_id": ownerID,
			"event":    event,
			"code":     automation.ErrCodeMatchFault,
		}).Error("%s", automation.ErrorMessage(fault))
		return nil
	}

	out := make([]automation.Rule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active() {
			continue
		}
		if containsKind(kinds, rule.Trigger.Type) {
			out = append(out, rule)
		}
	}
	return out
}

// MatchFaults reports how many store failures Match has swallowed.
func (m *Matcher) MatchFaults() int64 {
	return m.faults.Load()
}

// Events returns a copy of the current event mapping.
func (m *Matcher) Events() EventMap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(EventMap, len(m.events))
	for k, v := range m.events {
		out[k] = append([]automation.TriggerKind(nil), v...)
	}
	return out
}

func (m *Matcher) kinds(event string) []automation.TriggerKind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.events.Kinds(event)
}

func containsKind(kinds []automation.TriggerKind, kind automation.TriggerKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
