// Package flow runs one rule against one event: it creates the execution
// record, gates on conditions, runs the ordered actions with per-action
// failure containment, finalizes the record once and updates stats.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/action"
	"github.com/goliatone/go-automation/condition"
	"github.com/goliatone/go-automation/runner"
	"github.com/goliatone/go-automation/store"
)

const DefaultActionTimeout = 30 * time.Second

// ExecutorLookup resolves executors by action kind.
type ExecutorLookup interface {
	Lookup(kind automation.ActionKind) (action.Executor, bool)
}

// StatsApplier folds a final status into rule stats.
type StatsApplier interface {
	Apply(ctx context.Context, ruleID string, status automation.ExecutionStatus, completedAt time.Time) (automation.Stats, error)
}

// Orchestrator executes rules. It is safe for concurrent use.
type Orchestrator struct {
	executions    store.ExecutionStore
	stats         StatsApplier
	executors     ExecutorLookup
	logger        automation.Logger
	panicLogger   automation.PanicLogger
	metrics       MetricsRecorder
	actionTimeout time.Duration
	runTimeout    time.Duration
	now           func() time.Time
}

// New builds an orchestrator. stats may be nil to skip counting.
func New(executions store.ExecutionStore, stats StatsApplier, executors ExecutorLookup, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		executions:    executions,
		stats:         stats,
		executors:     executors,
		logger:        automation.NopLogger{},
		panicLogger:   automation.DefaultPanicLogger,
		metrics:       nopMetrics{},
		actionTimeout: DefaultActionTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Run executes rule for actx and returns the finalized execution. The
// error is only set when persistence failed; action failures and
// orchestration faults are reported through the execution itself.
func (o *Orchestrator) Run(ctx context.Context, rule automation.Rule, actx automation.Context) (*automation.Execution, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := o.now()
	logger := automation.WithLoggerFields(o.logger, mergeFields(actx.Fields(), map[string]any{
		"rule_id": rule.ID,
	}))

	exec := automation.Execution{
		RuleID:  rule.ID,
		OwnerID: rule.OwnerID,
		Status:  automation.ExecutionRunning,
		TriggeredBy: automation.TriggeredBy{
			EntityType: actx.EntityType,
			EntityID:   actx.EntityID,
			Event:      actx.Event,
		},
		ActionsLog: []automation.ActionLogEntry{},
		StartedAt:  started,
	}

	// persistence outlives caller cancellation so a started run always finalizes
	persistCtx := context.WithoutCancel(ctx)

	id, err := o.executions.CreateExecution(persistCtx, exec)
	if err != nil {
		logger.Error("create execution failed: %v", err)
		return nil, automation.OrchestrationFault("create execution", err)
	}
	exec.ID = id
	logger = automation.WithLoggerFields(logger, map[string]any{"execution_id": id})

	tracker := &stateTracker{logger: logger, current: StateStarted}
	logger.Debug("execution %s", StateStarted)

	if err := o.execute(ctx, rule, actx, &exec, tracker, logger); err != nil {
		fault := err
		if !automation.IsOrchestrationFault(err) {
			fault = automation.OrchestrationFault("orchestration failed", err)
		}
		msg := automation.ErrorMessage(fault)
		exec.Status = automation.ExecutionFailed
		exec.ErrorMessage = msg
		exec.ActionsLog = append(exec.ActionsLog, automation.ActionLogEntry{
			Action:    automation.LogActionExecution,
			Status:    automation.LogFailed,
			Error:     msg,
			Timestamp: o.now(),
		})
		logger.Error("execution aborted: %s", msg)
	}

	completed := o.now()
	exec.CompletedAt = &completed
	tracker.move(StateFinalized)

	var persistErr error
	if err := o.executions.UpdateExecution(persistCtx, exec.ID, store.ExecutionUpdate{
		Status:       exec.Status,
		ActionsLog:   exec.ActionsLog,
		CompletedAt:  completed,
		ErrorMessage: exec.ErrorMessage,
	}); err != nil {
		logger.Error("finalize execution failed: %v", err)
		persistErr = fmt.Errorf("finalize execution %s: %w", exec.ID, err)
	}

	if o.stats != nil {
		if _, err := o.stats.Apply(persistCtx, rule.ID, exec.Status, completed); err != nil {
			logger.Error("stats update failed: %v", err)
			persistErr = errors.Join(persistErr, err)
		}
	}

	o.metrics.RecordDuration("execution", completed.Sub(started))
	o.metrics.RecordOutcome(rule.ID, exec.Status)
	logger.Info("execution finished with %s (%d log entries)", exec.Status, len(exec.ActionsLog))

	return &exec, persistErr
}

// execute is the guarded body of a run. Any error it returns, including a
// recovered panic, takes the FAILED path.
func (o *Orchestrator) execute(
	ctx context.Context,
	rule automation.Rule,
	actx automation.Context,
	exec *automation.Execution,
	tracker *stateTracker,
	logger automation.Logger,
) (err error) {
	defer automation.RecoverError(&err, "flow.execute", o.panicLogger, map[string]any{
		"rule_id":      rule.ID,
		"execution_id": exec.ID,
	})

	if cerr := ctx.Err(); cerr != nil {
		return automation.OrchestrationFault("run canceled before actions", cerr)
	}

	if ok, reason := condition.Explain(rule.Conditions, actx.Entity); !ok {
		tracker.move(StateConditionsSkipped)
		exec.ActionsLog = append(exec.ActionsLog, automation.ActionLogEntry{
			Action:    automation.LogActionConditions,
			Status:    automation.LogSkipped,
			Result:    map[string]any{"reason": reason},
			Timestamp: o.now(),
		})
		exec.Status = automation.ExecutionSuccess
		logger.Debug("conditions not met: %s", reason)
		return nil
	}
	tracker.move(StateConditionsPassed)

	runCtx := ctx
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	tracker.move(StateActions)
	status := automation.ExecutionSuccess
	for i, act := range rule.SortedActions() {
		if cerr := runCtx.Err(); cerr != nil {
			return automation.OrchestrationFault(
				fmt.Sprintf("run stopped before action %d of %d", i+1, len(rule.Actions)), cerr)
		}

		result, aerr := o.runAction(runCtx, act, actx, logger)
		entry := automation.ActionLogEntry{
			Action:    act.Type.String(),
			Timestamp: o.now(),
		}
		if aerr != nil {
			failure := automation.ActionFailure(act.Type, aerr)
			entry.Status = automation.LogFailed
			entry.Error = automation.ErrorMessage(failure)
			status = automation.ExecutionPartial
			o.metrics.RecordError(act.Type.String())
			logger.Warn("action %s failed: %s", act.Type, entry.Error)
		} else {
			entry.Status = automation.LogSuccess
			entry.Result = result
			o.metrics.RecordSuccess(act.Type.String())
		}
		exec.ActionsLog = append(exec.ActionsLog, entry)

		if aerr != nil {
			if cerr := runCtx.Err(); cerr != nil {
				return automation.OrchestrationFault(o.stopReason(ctx, i+1, len(rule.Actions)), cerr)
			}
		}
	}

	exec.Status = status
	return nil
}

// stopReason describes why the run context ended while action n of total ran.
func (o *Orchestrator) stopReason(parent context.Context, n, total int) string {
	if o.runTimeout > 0 && parent.Err() == nil {
		return fmt.Sprintf("run budget of %s exceeded during action %d of %d", o.runTimeout, n, total)
	}
	return fmt.Sprintf("run canceled during action %d of %d", n, total)
}

func (o *Orchestrator) runAction(ctx context.Context, act automation.Action, actx automation.Context, logger automation.Logger) (map[string]any, error) {
	executor, ok := o.executors.Lookup(act.Type)
	if !ok {
		return nil, action.ExecutorNotFound(act.Type)
	}

	handler := runner.NewHandler(
		runner.WithTimeout(o.actionTimeout),
		runner.WithPolicy(act.Retry),
		runner.WithLogger(automation.WithLoggerFields(logger, map[string]any{"action": act.Type.String()})),
	)

	var result action.Result
	err := handler.Run(ctx, func(ctx context.Context) error {
		res, err := executor.Execute(ctx, automation.CloneMap(act.Config), actx.Snapshot())
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type stateTracker struct {
	logger  automation.Logger
	current RunState
}

func (t *stateTracker) move(next RunState) {
	if !CanTransition(t.current, next) {
		t.logger.Warn("unexpected run state transition %s -> %s", t.current, next)
	}
	t.logger.Debug("execution %s -> %s", t.current, next)
	t.current = next
}

func mergeFields(a, b map[string]any) map[string]any {
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
