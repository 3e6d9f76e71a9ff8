package flow

import (
	"time"

	"github.com/goliatone/go-automation"
)

// MetricsRecorder receives orchestration measurements.
type MetricsRecorder interface {
	RecordDuration(name string, duration time.Duration)
	RecordError(name string)
	RecordSuccess(name string)
	RecordOutcome(ruleID string, status automation.ExecutionStatus)
}

type nopMetrics struct{}

func (nopMetrics) RecordDuration(string, time.Duration)             {}
func (nopMetrics) RecordError(string)                               {}
func (nopMetrics) RecordSuccess(string)                             {}
func (nopMetrics) RecordOutcome(string, automation.ExecutionStatus) {}
