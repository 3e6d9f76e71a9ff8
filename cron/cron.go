// Package cron fires SCHEDULED rules. Each active rule with a SCHEDULED
// trigger gets one job: a recurring cron entry (trigger.config.cron) or a
// one-shot timer (trigger.config.at).
package cron

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/goliatone/go-automation"
	"github.com/goliatone/go-automation/runner"
	"github.com/goliatone/go-automation/store"
)

const (
	ConfigCron     = "cron"
	ConfigAt       = "at"
	ConfigTimezone = "timezone"

	EntityTypeSchedule = "schedule"
)

// ErrOneShotFired is returned by ScheduleRule for a one-shot rule whose
// time already passed and that has run for it.
var ErrOneShotFired = stderrors.New("one-shot schedule already fired")

// RuleRunner runs a stored rule by id. dispatcher.Dispatcher satisfies it.
type RuleRunner interface {
	RunRule(ctx context.Context, ruleID string, actx automation.Context) (*automation.Execution, error)
}

// Scheduler wraps cron functionality.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	errorHandler func(error)

	rules  store.RuleStore
	runner RuleRunner

	logger     automation.Logger
	parser     Parser
	logWriter  io.Writer
	logLevel   LogLevel
	jobTimeout time.Duration
	now        func() time.Time

	nextHandleID int64
	handles      map[string]*ruleHandle
	// fired holds one-shot jobs that already ran, by rule id
	fired map[string]firedShot
}

// NewScheduler creates a new scheduler instance with the provided options.
func NewScheduler(rules store.RuleStore, runner RuleRunner, opts ...Option) *Scheduler {
	cs := &Scheduler{
		rules:    rules,
		runner:   runner,
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		errorHandler: func(err error) {
			log.Printf("error: %v\n", err)
		},
		now:     time.Now,
		handles: make(map[string]*ruleHandle),
		fired:   make(map[string]firedShot),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(cs)
		}
	}

	cs.cron = rcron.New(cs.build()...)
	return cs
}

// Sync reconciles jobs with the active SCHEDULED rules of ownerIDs. With no
// owners every rule the store can list is considered. Rules that are no
// longer active or scheduled lose their job. Invalid schedules are skipped
// and reported in the returned error.
func (s *Scheduler) Sync(ctx context.Context, ownerIDs ...string) error {
	rules, err := s.scheduledRules(ctx, ownerIDs)
	if err != nil {
		return err
	}

	desired := make(map[string]automation.Rule, len(rules))
	for _, rule := range rules {
		desired[rule.ID] = rule
	}

	scoped := make(map[string]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		scoped[id] = true
	}

	s.mu.Lock()
	for id, shot := range s.fired {
		if len(scoped) > 0 && !scoped[shot.ownerID] {
			continue
		}
		if want, ok := desired[id]; !ok || scheduleSpec(want) != shot.spec {
			delete(s.fired, id)
		}
	}
	var stale []*ruleHandle
	for id, handle := range s.handles {
		if len(scoped) > 0 && !scoped[handle.ownerID] {
			continue
		}
		want, ok := desired[id]
		if !ok || scheduleSpec(want) != handle.spec {
			stale = append(stale, handle)
		}
	}
	s.mu.Unlock()

	for _, handle := range stale {
		handle.Cancel()
	}

	var errs error
	for _, rule := range rules {
		if _, err := s.ScheduleRule(rule); err != nil && !stderrors.Is(err, ErrOneShotFired) {
			errs = stderrors.Join(errs, err)
		}
	}
	return errs
}

// ScheduleRule registers the job of rule. Scheduling a rule that already
// has a job with the same spec returns the existing handle; a different
// spec replaces it. A one-shot rule is armed at most once per spec: after
// it ran, here or in an earlier process (its LastRunAt is at or after the
// scheduled time), ErrOneShotFired is returned.
func (s *Scheduler) ScheduleRule(rule automation.Rule) (Handle, error) {
	if rule.Trigger.Type != automation.TriggerScheduled {
		return nil, fmt.Errorf("rule %s: trigger %s is not %s", rule.ID, rule.Trigger.Type, automation.TriggerScheduled)
	}
	spec := scheduleSpec(rule)
	if spec == "" {
		return nil, fmt.Errorf("rule %s: trigger config needs %q or %q", rule.ID, ConfigCron, ConfigAt)
	}

	var when time.Time
	at, oneShot := rule.Trigger.Config[ConfigAt]
	if oneShot {
		var err error
		if when, err = parseAt(at); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
	}

	s.mu.Lock()
	current := s.handles[rule.ID]
	shot, fired := s.fired[rule.ID]
	s.mu.Unlock()
	if current != nil && current.spec == spec && !isTerminalStatus(current.Status()) {
		return current, nil
	}
	if oneShot && ((fired && shot.spec == spec) || ranSince(rule, when)) {
		if current != nil {
			current.Cancel()
		}
		return nil, fmt.Errorf("rule %s at %s: %w", rule.ID, when.Format(time.RFC3339), ErrOneShotFired)
	}
	if current != nil {
		current.Cancel()
	}

	if oneShot {
		return s.scheduleAt(rule, spec, when)
	}
	return s.scheduleCron(rule, spec)
}

// Unschedule removes the job of ruleID, if any.
func (s *Scheduler) Unschedule(ruleID string) {
	s.mu.Lock()
	handle := s.handles[ruleID]
	s.mu.Unlock()
	if handle != nil {
		handle.Cancel()
	}
}

// Handle returns the job handle for ruleID.
func (s *Scheduler) Handle(ruleID string) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[ruleID]
	if !ok {
		return nil, false
	}
	return h, true
}

func (s *Scheduler) scheduleCron(rule automation.Rule, spec string) (Handle, error) {
	sub := s.newHandle(rule, spec)
	job := rcron.FuncJob(func() {
		status := sub.Status()
		if isTerminalStatus(status) {
			return
		}

		sub.setStatus(ScheduleStatusRunning, nil)
		if err := s.fire(sub); err != nil {
			s.errorHandler(err)
			if retired(err) {
				sub.setTerminal(ScheduleStatusFailed, err)
				s.removeHandle(sub)
				return
			}
			// recurring jobs stay armed after a failed tick
			sub.setStatus(ScheduleStatusIdle, err)
			return
		}

		if !isTerminalStatus(sub.Status()) {
			sub.setStatus(ScheduleStatusIdle, nil)
		}
	})

	entryID, err := s.cron.AddJob(spec, job)
	if err != nil {
		return nil, fmt.Errorf("rule %s: failed to add job: %w", rule.ID, err)
	}
	sub.entryID = int(entryID)
	s.storeHandle(sub)
	s.logger.Debug("scheduled rule %s with %q", rule.ID, spec)
	return sub, nil
}

func (s *Scheduler) scheduleAt(rule automation.Rule, spec string, at time.Time) (Handle, error) {
	sub := s.newHandle(rule, spec)
	sub.at = at
	s.storeHandle(sub)

	go func() {
		wait := at.Sub(s.now())
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-sub.Done():
			return
		}

		if isTerminalStatus(sub.Status()) {
			return
		}
		sub.setStatus(ScheduleStatusRunning, nil)
		err := s.fire(sub)
		s.markFired(sub)
		if err != nil {
			sub.setTerminal(ScheduleStatusFailed, err)
			s.errorHandler(err)
			s.removeStoredHandle(sub)
			return
		}
		sub.setTerminal(ScheduleStatusCompleted, nil)
		s.removeStoredHandle(sub)
	}()

	s.logger.Debug("scheduled rule %s once at %s", rule.ID, at.Format(time.RFC3339))
	return sub, nil
}

// fire runs one tick of a rule through the rule runner.
func (s *Scheduler) fire(sub *ruleHandle) error {
	scheduledAt := s.now().UTC()
	actx := automation.Context{
		EntityType: EntityTypeSchedule,
		EntityID:   sub.ruleID,
		Event:      automation.EventScheduledTick,
		OwnerID:    sub.ownerID,
		Entity: map[string]any{
			"scheduled_at": scheduledAt.Format(time.RFC3339),
			"rule_id":      sub.ruleID,
		},
	}

	h := runner.NewHandler(
		runner.WithTimeout(s.jobTimeout),
		runner.WithLogger(s.logger),
	)

	var exec *automation.Execution
	err := h.Run(context.Background(), func(ctx context.Context) error {
		var err error
		exec, err = s.runner.RunRule(ctx, sub.ruleID, actx)
		return err
	})
	if err != nil {
		return fmt.Errorf("scheduled run of rule %s: %w", sub.ruleID, err)
	}
	if exec != nil {
		sub.recordRun(exec.ID, scheduledAt)
		s.logger.Info("scheduled run of rule %s finished with %s", sub.ruleID, exec.Status)
	}
	return nil
}

// Start begins executing scheduled cron jobs.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop stops executing scheduled jobs and marks active handles as stopped.
// It waits for running cron jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()

	var handles []*ruleHandle
	s.mu.Lock()
	for _, handle := range s.handles {
		handles = append(handles, handle)
	}
	s.handles = make(map[string]*ruleHandle)
	s.mu.Unlock()

	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if handle.entryID > 0 {
			s.cron.Remove(rcron.EntryID(handle.entryID))
		}
		if isTerminalStatus(handle.Status()) {
			continue
		}
		handle.setTerminal(ScheduleStatusStopped, nil)
	}

	if ctx == nil {
		return nil
	}
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entry describes one scheduled rule.
type Entry struct {
	RuleID    string
	OwnerID   string
	Spec      string
	Status    ScheduleStatus
	Next      time.Time
	Prev      time.Time
	LastRunID string
}

// Entries lists the current jobs ordered by rule id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	handles := make([]*ruleHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	out := make([]Entry, 0, len(handles))
	for _, h := range handles {
		e := Entry{
			RuleID:    h.ruleID,
			OwnerID:   h.ownerID,
			Spec:      h.spec,
			Status:    h.Status(),
			LastRunID: h.LastRunID(),
		}
		if h.entryID > 0 {
			ce := s.cron.Entry(rcron.EntryID(h.entryID))
			e.Next = ce.Next
			e.Prev = ce.Prev
		} else {
			e.Next = h.at
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].RuleID < entries[j].RuleID })
}

func (s *Scheduler) scheduledRules(ctx context.Context, ownerIDs []string) ([]automation.Rule, error) {
	var all []automation.Rule
	if len(ownerIDs) == 0 {
		if lister, ok := s.rules.(store.RuleLister); ok {
			rules, err := lister.ListRules(ctx, "")
			if err != nil {
				return nil, fmt.Errorf("list rules: %w", err)
			}
			all = rules
		} else {
			rules, err := s.rules.ListActiveRules(ctx, "")
			if err != nil {
				return nil, fmt.Errorf("list rules: %w", err)
			}
			all = rules
		}
	}
	for _, owner := range ownerIDs {
		rules, err := s.rules.ListActiveRules(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("list rules of %s: %w", owner, err)
		}
		all = append(all, rules...)
	}

	out := make([]automation.Rule, 0, len(all))
	for _, rule := range all {
		if rule.Active() && rule.Trigger.Type == automation.TriggerScheduled {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (s *Scheduler) removeHandle(h *ruleHandle) {
	if s.removeStoredHandle(h) && h.entryID > 0 {
		s.cron.Remove(rcron.EntryID(h.entryID))
	}
}

// removeStoredHandle drops h if it is still the registered handle of its rule.
func (s *Scheduler) removeStoredHandle(h *ruleHandle) bool {
	if s == nil || h == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles[h.ruleID] != h {
		return false
	}
	delete(s.handles, h.ruleID)
	return true
}

func (s *Scheduler) storeHandle(handle *ruleHandle) {
	if s == nil || handle == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handles == nil {
		s.handles = make(map[string]*ruleHandle)
	}
	s.handles[handle.ruleID] = handle
}

func (s *Scheduler) newHandle(rule automation.Rule, spec string) *ruleHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandleID++
	return &ruleHandle{
		scheduler: s,
		id:        s.nextHandleID,
		ruleID:    rule.ID,
		ownerID:   rule.OwnerID,
		spec:      spec,
		status:    ScheduleStatusScheduled,
		done:      make(chan struct{}),
	}
}

func (s *Scheduler) markFired(h *ruleHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired[h.ruleID] = firedShot{ownerID: h.ownerID, spec: h.spec}
}

type firedShot struct {
	ownerID string
	spec    string
}

// ranSince reports whether rule completed a run at or after when.
func ranSince(rule automation.Rule, when time.Time) bool {
	last := rule.Stats.LastRunAt
	return last != nil && !last.Before(when)
}

func isTerminalStatus(status ScheduleStatus) bool {
	switch status {
	case ScheduleStatusCompleted, ScheduleStatusCanceled, ScheduleStatusFailed, ScheduleStatusStopped:
		return true
	default:
		return false
	}
}

// retired reports whether a run failed because the rule is gone or paused.
func retired(err error) bool {
	code := automation.ErrorCode(err)
	return code == automation.ErrCodeRuleNotFound || code == automation.ErrCodeRuleInactive
}

// scheduleSpec returns the cron spec of rule, prefixed with CRON_TZ when a
// timezone is configured, or "@at <time>" for one-shot rules.
func scheduleSpec(rule automation.Rule) string {
	cfg := rule.Trigger.Config
	if at, ok := cfg[ConfigAt]; ok {
		return fmt.Sprintf("@at %v", at)
	}
	expr, _ := cfg[ConfigCron].(string)
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ""
	}
	if tz, _ := cfg[ConfigTimezone].(string); strings.TrimSpace(tz) != "" && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		return fmt.Sprintf("CRON_TZ=%s %s", strings.TrimSpace(tz), expr)
	}
	return expr
}

func parseAt(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %q time %q: %w", ConfigAt, t, err)
		}
		return at, nil
	default:
		return time.Time{}, fmt.Errorf("invalid %q value of type %T", ConfigAt, v)
	}
}

func makeLogger(out io.Writer, level LogLevel) rcron.Logger {
	stdLogger := log.New(out, "cron: ", log.LstdFlags)
	cronLogger := rcron.PrintfLogger(stdLogger)
	if level >= LogLevelDebug {
		cronLogger = rcron.VerbosePrintfLogger(stdLogger)
	}
	return cronLogger
}

// build converts implementation-agnostic options to rcron options.
func (s *Scheduler) build() []rcron.Option {
	opts := make([]rcron.Option, 0)

	if s.location != nil {
		opts = append(opts, rcron.WithLocation(s.location))
	}

	switch s.parser {
	case StandardParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	case SecondsParser:
		opts = append(opts, rcron.WithParser(rcron.NewParser(
			rcron.Second|rcron.Minute|rcron.Hour|rcron.Dom|rcron.Month|rcron.Dow|rcron.Descriptor,
		)))
	}

	if s.errorHandler != nil {
		opts = append(opts, rcron.WithChain(
			rcron.Recover(&errorHandlerAdapter{handler: s.errorHandler}),
		))
	}

	var cronLogger rcron.Logger
	switch {
	case s.logger != nil:
		cronLogger = &loggerAdapter{logger: s.logger, level: s.logLevel}
	case s.logWriter != nil:
		cronLogger = makeLogger(s.logWriter, s.logLevel)
	default:
		if s.logLevel > LogLevelSilent {
			cronLogger = makeLogger(os.Stdout, s.logLevel)
		}
	}

	if cronLogger != nil {
		opts = append(opts, rcron.WithLogger(cronLogger))
	}

	if s.logger == nil {
		s.logger = automation.NopLogger{}
	}

	return opts
}
