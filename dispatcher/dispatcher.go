// Package dispatcher is the inbound entry point of the engine. Domain code
// calls OnEvent after a committed write; matched rules run in the
// background and no fault ever reaches the caller.
package dispatcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

const DefaultConcurrency = 8

// Matcher selects the rules eligible for an event.
type Matcher interface {
	Match(ctx context.Context, event, ownerID string) []automation.Rule
}

// Runner executes one rule. flow.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, rule automation.Rule, actx automation.Context) (*automation.Execution, error)
}

// Dispatcher fans an event out to the matched rules.
type Dispatcher struct {
	matcher     Matcher
	rules       store.RuleStore
	runner      Runner
	logger      automation.Logger
	panicLogger automation.PanicLogger
	concurrency int
	dedup       *dedupCache
	now         func() time.Time

	mu        sync.RWMutex
	closed    bool
	listeners []*subs
	inflight  sync.WaitGroup
}

// Option defines the functional option signature.
type Option func(*Dispatcher)

// WithConcurrency caps how many rules of one event run at the same time.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

func WithLogger(l automation.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithPanicLogger(p automation.PanicLogger) Option {
	return func(d *Dispatcher) {
		if p != nil {
			d.panicLogger = p
		}
	}
}

// WithDedupWindow drops repeated runs of the same rule for the same entity
// and event inside one window of length w. Zero disables it.
func WithDedupWindow(w time.Duration) Option {
	return func(d *Dispatcher) {
		if w > 0 {
			d.dedup = newDedupCache(w)
		} else {
			d.dedup = nil
		}
	}
}

// WithClock overrides the time source used for dedup windows.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// New builds a dispatcher. rules is used by RunRule and may be nil when
// only event dispatch is needed.
func New(matcher Matcher, rules store.RuleStore, runner Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		matcher:     matcher,
		rules:       rules,
		runner:      runner,
		logger:      automation.NopLogger{},
		panicLogger: automation.DefaultPanicLogger,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// OnEvent schedules event for background processing and returns at once.
// It detaches from ctx cancellation so the caller's request lifetime does
// not cut runs short.
func (d *Dispatcher) OnEvent(ctx context.Context, event string, actx automation.Context) {
	defer automation.MakePanicHandler(d.panicLogger)("dispatcher.OnEvent", map[string]any{"event": event})

	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.logger.Warn("dispatcher closed, dropping event %s for %s/%s", event, actx.EntityType, actx.EntityID)
		return
	}
	d.inflight.Add(1)
	d.mu.RUnlock()

	detached := context.WithoutCancel(ctx)
	snapshot := actx.Snapshot()
	go func() {
		defer d.inflight.Done()
		defer automation.MakePanicHandler(d.panicLogger)("dispatcher.OnEvent.worker", snapshot.Fields())
		d.Dispatch(detached, event, snapshot)
	}()
}

// Dispatch matches event and runs every matched rule, returning the
// finalized executions. Rules run concurrently and independently: a fault
// in one never cancels or fails another.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, actx automation.Context) []*automation.Execution {
	if ctx == nil {
		ctx = context.Background()
	}
	if actx.Event == "" {
		actx.Event = event
	}
	logger := automation.WithLoggerFields(d.logger, actx.Fields())

	rules := d.matcher.Match(ctx, event, actx.OwnerID)
	if len(rules) == 0 {
		logger.Debug("no rules matched")
		return nil
	}
	logger.Debug("%d rules matched", len(rules))

	results := make([]*automation.Execution, len(rules))
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i, rule := range rules {
		g.Go(func() error {
			results[i] = d.runOne(ctx, rule, actx)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*automation.Execution, 0, len(results))
	for _, exec := range results {
		if exec != nil {
			out = append(out, exec)
		}
	}
	return out
}

// RunRule loads ruleID and runs it for actx. The rule must be ACTIVE.
func (d *Dispatcher) RunRule(ctx context.Context, ruleID string, actx automation.Context) (*automation.Execution, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.rules == nil {
		return nil, automation.OrchestrationFault("dispatcher has no rule store", nil)
	}

	rule, err := d.rules.GetRule(ctx, ruleID)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, automation.NewError(automation.ErrRuleNotFound,
				fmt.Sprintf("rule %s not found", ruleID), err, map[string]any{"rule_id": ruleID})
		}
		return nil, fmt.Errorf("load rule %s: %w", ruleID, err)
	}
	if !rule.Active() {
		return nil, automation.NewError(automation.ErrRuleInactive,
			fmt.Sprintf("rule %s is %s", ruleID, rule.Status), nil, map[string]any{"rule_id": ruleID})
	}
	if actx.OwnerID == "" {
		actx.OwnerID = rule.OwnerID
	}

	exec := d.runOne(ctx, *rule, actx)
	if exec == nil {
		return nil, automation.OrchestrationFault(fmt.Sprintf("rule %s did not produce an execution", ruleID), nil)
	}
	return exec, nil
}

// Wait blocks until every event accepted by OnEvent has been processed.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Close stops accepting events and drains in-flight work until ctx is done.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher close: %w", ctx.Err())
	}
}

func (d *Dispatcher) runOne(ctx context.Context, rule automation.Rule, actx automation.Context) (exec *automation.Execution) {
	fields := map[string]any{"rule_id": rule.ID, "event": actx.Event, "entity_id": actx.EntityID}
	defer automation.MakePanicHandler(d.panicLogger)("dispatcher.runOne", fields)

	if d.dedup != nil && !d.dedup.admit(rule.ID, actx.EntityID, actx.Event, d.now()) {
		automation.WithLoggerFields(d.logger, fields).Debug("duplicate run suppressed")
		return nil
	}

	exec, err := d.runner.Run(ctx, rule, actx.Snapshot())
	if err != nil {
		automation.WithLoggerFields(d.logger, fields).Error("rule run failed: %v", err)
	}
	if exec != nil {
		d.notify(*exec)
	}
	return exec
}
