package cron

import (
	"sync"
	"time"
)

type Subscription interface {
	Unsubscribe()
}

// ScheduleStatus reports a schedule handle state.
type ScheduleStatus string

const (
	ScheduleStatusScheduled ScheduleStatus = "scheduled"
	ScheduleStatusRunning   ScheduleStatus = "running"
	ScheduleStatusIdle      ScheduleStatus = "idle"
	ScheduleStatusCompleted ScheduleStatus = "completed"
	ScheduleStatusCanceled  ScheduleStatus = "canceled"
	ScheduleStatusFailed    ScheduleStatus = "failed"
	ScheduleStatusStopped   ScheduleStatus = "stopped"
)

// Handle extends Subscription with lifecycle controls.
type Handle interface {
	Subscription
	Cancel()
	Status() ScheduleStatus
	Err() error
	Done() <-chan struct{}
	ID() int64
	RuleID() string
	LastRunID() string
}

type ruleHandle struct {
	scheduler *Scheduler
	id        int64
	entryID   int
	ruleID    string
	ownerID   string
	spec      string
	at        time.Time
	done      chan struct{}

	mu        sync.RWMutex
	status    ScheduleStatus
	err       error
	lastRunID string
	lastRunAt time.Time
	once      sync.Once
}

func (s *ruleHandle) Unsubscribe() {
	s.Cancel()
}

func (s *ruleHandle) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.scheduler != nil {
			s.scheduler.removeHandle(s)
		}
		s.setTerminal(ScheduleStatusCanceled, nil)
	})
}

func (s *ruleHandle) Status() ScheduleStatus {
	if s == nil {
		return ScheduleStatusStopped
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *ruleHandle) Err() error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *ruleHandle) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

func (s *ruleHandle) ID() int64 {
	if s == nil {
		return 0
	}
	return s.id
}

func (s *ruleHandle) RuleID() string {
	if s == nil {
		return ""
	}
	return s.ruleID
}

// LastRunID is the execution id of the latest tick.
func (s *ruleHandle) LastRunID() string {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRunID
}

func (s *ruleHandle) recordRun(executionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunID = executionID
	s.lastRunAt = at
}

func (s *ruleHandle) setStatus(status ScheduleStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
}

func (s *ruleHandle) setTerminal(status ScheduleStatus, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.err = err
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}
