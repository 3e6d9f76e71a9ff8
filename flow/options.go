package flow

import (
	"time"

	"github.com/goliatone/go-automation"
)

type Option func(*Orchestrator)

func WithLogger(l automation.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithPanicLogger(p automation.PanicLogger) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.panicLogger = p
		}
	}
}

func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithActionTimeout bounds every action attempt.
func WithActionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.actionTimeout = d
		}
	}
}

// WithRunTimeout bounds the whole action loop. Expiry before a remaining
// action aborts the run as FAILED.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.runTimeout = d
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
