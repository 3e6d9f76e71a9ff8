// Package action holds the executors that perform rule side effects.
//
// Executors receive their raw config and the run context, decode the
// config into a typed struct, call a provider and return a result map.
// They never touch execution records.
package action

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/goliatone/go-automation"
)

// Result is the executor output recorded in the actions log.
type Result map[string]any

// Executor performs one kind of action.
type Executor interface {
	Kind() automation.ActionKind
	Execute(ctx context.Context, config map[string]any, actx automation.Context) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc struct {
	ActionKind automation.ActionKind
	Fn         func(ctx context.Context, config map[string]any, actx automation.Context) (Result, error)
}

func (f ExecutorFunc) Kind() automation.ActionKind { return f.ActionKind }

func (f ExecutorFunc) Execute(ctx context.Context, config map[string]any, actx automation.Context) (Result, error) {
	if f.Fn == nil {
		return nil, fmt.Errorf("executor %s has no function", f.ActionKind)
	}
	return f.Fn(ctx, config, actx)
}

// Registry maps action kinds to executors. It is built at startup and
// read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	executors map[automation.ActionKind]Executor
}

// NewEmptyRegistry creates a registry with no executors.
func NewEmptyRegistry() *Registry {
	return &Registry{executors: make(map[automation.ActionKind]Executor)}
}

// Register adds an executor. Registering a kind twice is an error.
func (r *Registry) Register(e Executor) error {
	if e == nil {
		return fmt.Errorf("executor required")
	}
	kind := e.Kind()
	if !kind.Valid() {
		return fmt.Errorf("unknown action kind %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.executors == nil {
		r.executors = make(map[automation.ActionKind]Executor)
	}
	if _, exists := r.executors[kind]; exists {
		return fmt.Errorf("executor %s already registered", kind)
	}
	r.executors[kind] = e
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(e Executor) {
	if err := r.Register(e); err != nil {
		panic(err)
	}
}

// Lookup retrieves the executor for kind.
func (r *Registry) Lookup(kind automation.ActionKind) (Executor, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[kind]
	return e, ok
}

// ExecutorNotFound is the failure recorded when no executor handles kind.
func ExecutorNotFound(kind automation.ActionKind) error {
	return automation.NewError(automation.ErrExecutorNotFound,
		fmt.Sprintf("no executor registered for %s", kind), nil,
		map[string]any{"action": kind.String()})
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []automation.ActionKind {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]automation.ActionKind, 0, len(r.executors))
	for kind := range r.executors {
		out = append(out, kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewRegistry registers one executor per configured provider plus the
// webhook executor, which needs no provider.
func NewRegistry(p Providers, webhookOpts ...WebhookOption) *Registry {
	r := NewEmptyRegistry()
	if p.Messenger != nil {
		r.MustRegister(NewMessageExecutor(p.Messenger))
	}
	if p.Tasks != nil {
		r.MustRegister(NewTaskExecutor(p.Tasks))
	}
	if p.Fields != nil {
		r.MustRegister(NewFieldExecutor(p.Fields))
	}
	if p.Owners != nil {
		r.MustRegister(NewOwnerExecutor(p.Owners))
	}
	if p.Notifier != nil {
		r.MustRegister(NewNotificationExecutor(p.Notifier))
	}
	if p.Analyzer != nil {
		r.MustRegister(NewAnalysisExecutor(p.Analyzer))
	}
	r.MustRegister(NewWebhookExecutor(webhookOpts...))
	return r
}
