package cron

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/store"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls []automation.Context
	err   error
	fired chan string
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{fired: make(chan string, 16)}
}

func (r *recordingRunner) RunRule(_ context.Context, ruleID string, actx automation.Context) (*automation.Execution, error) {
	r.mu.Lock()
	r.calls = append(r.calls, actx)
	err := r.err
	r.mu.Unlock()
	defer func() { r.fired <- ruleID }()
	if err != nil {
		return nil, err
	}
	return &automation.Execution{ID: fmt.Sprintf("exec-%s", ruleID), RuleID: ruleID, Status: automation.ExecutionSuccess}, nil
}

func (r *recordingRunner) last() automation.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

func scheduledRule(id string, cfg map[string]any) automation.Rule {
	return automation.Rule{
		ID:      id,
		OwnerID: "agency-1",
		Name:    id,
		Status:  automation.RuleStatusActive,
		Trigger: automation.Trigger{Type: automation.TriggerScheduled, Config: cfg},
		Actions: []automation.Action{{Type: automation.ActionSendNotification, Order: 1}},
	}
}

func waitFired(t *testing.T, r *recordingRunner, want string) {
	t.Helper()
	select {
	case got := <-r.fired:
		assert.Equal(t, want, got)
	case <-time.After(3 * time.Second):
		t.Fatalf("rule %s never fired", want)
	}
}

func silent(error) {}

func TestSyncSchedulesActiveScheduledRules(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("daily", map[string]any{"cron": "0 9 * * *", "timezone": "UTC"})))
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("hourly", map[string]any{"cron": "@hourly"})))
	paused := scheduledRule("paused", map[string]any{"cron": "@hourly"})
	paused.Status = automation.RuleStatusPaused
	require.NoError(t, mem.SaveRule(ctx, paused))
	event := scheduledRule("event", nil)
	event.Trigger.Type = automation.TriggerLeadCreated
	require.NoError(t, mem.SaveRule(ctx, event))

	s := NewScheduler(mem, newRecordingRunner(), WithErrorHandler(silent))
	require.NoError(t, s.Sync(ctx, "agency-1"))

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "daily", entries[0].RuleID)
	assert.Equal(t, "CRON_TZ=UTC 0 9 * * *", entries[0].Spec)
	assert.Equal(t, "hourly", entries[1].RuleID)
}

func TestSyncReconcilesChanges(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("a", map[string]any{"cron": "@hourly"})))
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("b", map[string]any{"cron": "@daily"})))

	s := NewScheduler(mem, newRecordingRunner(), WithErrorHandler(silent))
	require.NoError(t, s.Sync(ctx))
	first, ok := s.Handle("a")
	require.True(t, ok)

	require.NoError(t, s.Sync(ctx))
	same, _ := s.Handle("a")
	assert.Equal(t, first.ID(), same.ID())

	require.NoError(t, mem.SaveRule(ctx, scheduledRule("a", map[string]any{"cron": "@daily"})))
	require.NoError(t, mem.SetRuleStatus(ctx, "b", automation.RuleStatusPaused))
	require.NoError(t, s.Sync(ctx))

	replaced, ok := s.Handle("a")
	require.True(t, ok)
	assert.NotEqual(t, first.ID(), replaced.ID())
	assert.Equal(t, ScheduleStatusCanceled, first.Status())

	_, ok = s.Handle("b")
	assert.False(t, ok)
	assert.Len(t, s.Entries(), 1)
}

func TestSyncReportsInvalidSchedules(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("bad", map[string]any{"cron": "every tuesday"})))
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("empty", map[string]any{})))
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("good", map[string]any{"cron": "@hourly"})))

	s := NewScheduler(mem, newRecordingRunner(), WithErrorHandler(silent))
	err := s.Sync(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Contains(t, err.Error(), "empty")

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "good", entries[0].RuleID)
}

func TestScheduledTickRunsRule(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("tick", map[string]any{"cron": "@every 1s"})))

	runner := newRecordingRunner()
	s := NewScheduler(mem, runner, WithErrorHandler(silent))
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Start(ctx))
	defer s.Stop(context.Background())

	waitFired(t, runner, "tick")

	actx := runner.last()
	assert.Equal(t, EntityTypeSchedule, actx.EntityType)
	assert.Equal(t, "tick", actx.EntityID)
	assert.Equal(t, automation.EventScheduledTick, actx.Event)
	assert.Equal(t, "agency-1", actx.OwnerID)
	assert.NotEmpty(t, actx.Entity["scheduled_at"])

	h, ok := s.Handle("tick")
	require.True(t, ok)
	assert.Eventually(t, func() bool { return h.LastRunID() == "exec-tick" }, time.Second, 10*time.Millisecond)
}

func TestOneShotRuleCompletes(t *testing.T) {
	runner := newRecordingRunner()
	s := NewScheduler(store.NewMemoryStore(), runner, WithErrorHandler(silent))

	rule := scheduledRule("once", map[string]any{"at": time.Now().Add(50 * time.Millisecond).UTC().Format(time.RFC3339)})
	h, err := s.ScheduleRule(rule)
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("expected one-shot handle completion")
	}
	assert.Equal(t, ScheduleStatusCompleted, h.Status())
	assert.Equal(t, "exec-once", h.LastRunID())
	_, ok := s.Handle("once")
	assert.False(t, ok)
}

func TestResyncDoesNotRearmFiredOneShot(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	at := time.Now().Add(50 * time.Millisecond).UTC().Format(time.RFC3339Nano)
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("once", map[string]any{"at": at})))

	runner := newRecordingRunner()
	s := NewScheduler(mem, runner, WithErrorHandler(silent))
	require.NoError(t, s.Sync(ctx))
	h, ok := s.Handle("once")
	require.True(t, ok)

	waitFired(t, runner, "once")
	<-h.Done()

	for range 3 {
		require.NoError(t, s.Sync(ctx))
	}

	select {
	case id := <-runner.fired:
		t.Fatalf("one-shot rule %s fired again", id)
	case <-time.After(200 * time.Millisecond):
	}
	runner.mu.Lock()
	assert.Len(t, runner.calls, 1)
	runner.mu.Unlock()
	_, ok = s.Handle("once")
	assert.False(t, ok)
}

func TestOneShotRearmsWhenTimeChanges(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	rule := scheduledRule("moved", map[string]any{"at": time.Now().Add(20 * time.Millisecond).UTC().Format(time.RFC3339Nano)})
	require.NoError(t, mem.SaveRule(ctx, rule))

	runner := newRecordingRunner()
	s := NewScheduler(mem, runner, WithErrorHandler(silent))
	require.NoError(t, s.Sync(ctx))
	waitFired(t, runner, "moved")

	rule.Trigger.Config = map[string]any{"at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)}
	require.NoError(t, mem.SaveRule(ctx, rule))
	require.NoError(t, s.Sync(ctx))

	h, ok := s.Handle("moved")
	require.True(t, ok)
	assert.Equal(t, ScheduleStatusScheduled, h.Status())
}

func TestOneShotAlreadyRunIsSkipped(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()
	when := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, mem.SaveRule(ctx, scheduledRule("done", map[string]any{"at": when.Format(time.RFC3339)})))
	ranAt := when.Add(time.Second)
	_, err := mem.UpdateStatsIfVersion(ctx, "done", automation.Stats{TotalRuns: 1, SuccessCount: 1, LastRunAt: &ranAt}, 0)
	require.NoError(t, err)

	runner := newRecordingRunner()
	s := NewScheduler(mem, runner, WithErrorHandler(silent))
	require.NoError(t, s.Sync(ctx))

	_, ok := s.Handle("done")
	assert.False(t, ok)

	rule, err := mem.GetRule(ctx, "done")
	require.NoError(t, err)
	_, err = s.ScheduleRule(*rule)
	assert.ErrorIs(t, err, ErrOneShotFired)

	select {
	case id := <-runner.fired:
		t.Fatalf("rule %s fired", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCancelPreventsOneShotRun(t *testing.T) {
	runner := newRecordingRunner()
	s := NewScheduler(store.NewMemoryStore(), runner, WithErrorHandler(silent))

	rule := scheduledRule("later", map[string]any{"at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339)})
	h, err := s.ScheduleRule(rule)
	require.NoError(t, err)

	s.Unschedule("later")
	<-h.Done()
	assert.Equal(t, ScheduleStatusCanceled, h.Status())
	assert.Empty(t, runner.calls)
}

func TestRetiredRuleIsUnscheduled(t *testing.T) {
	runner := newRecordingRunner()
	runner.err = automation.NewError(automation.ErrRuleInactive, "rule gone quiet is PAUSED", nil, nil)

	var mu sync.Mutex
	var handled []error
	s := NewScheduler(store.NewMemoryStore(), runner, WithErrorHandler(func(err error) {
		mu.Lock()
		handled = append(handled, err)
		mu.Unlock()
	}))

	h, err := s.ScheduleRule(scheduledRule("gone", map[string]any{"cron": "@every 1s"}))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	waitFired(t, runner, "gone")
	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("expected retired handle to finish")
	}
	assert.Equal(t, ScheduleStatusFailed, h.Status())
	_, ok := s.Handle("gone")
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, handled, 1)
	assert.Equal(t, automation.ErrCodeRuleInactive, automation.ErrorCode(handled[0]))
}

func TestScheduleRuleRejectsEventTriggers(t *testing.T) {
	s := NewScheduler(store.NewMemoryStore(), newRecordingRunner())
	rule := scheduledRule("x", map[string]any{"cron": "@hourly"})
	rule.Trigger.Type = automation.TriggerLeadCreated
	_, err := s.ScheduleRule(rule)
	assert.Error(t, err)
}

func TestStopMarksHandlesStopped(t *testing.T) {
	s := NewScheduler(store.NewMemoryStore(), newRecordingRunner())
	h, err := s.ScheduleRule(scheduledRule("x", map[string]any{"cron": "@hourly"}))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, ScheduleStatusStopped, h.Status())
	assert.Empty(t, s.Entries())
}

func TestParseParser(t *testing.T) {
	p, err := ParseParser("seconds")
	require.NoError(t, err)
	assert.Equal(t, SecondsParser, p)
	_, err = ParseParser("weekly")
	assert.Error(t, err)
}
