// Package metrics records engine measurements with OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/goliatone/go-automation"
)

const ScopeName = "github.com/goliatone/go-automation"

// Recorder implements flow.MetricsRecorder on top of an OTel meter.
type Recorder struct {
	executions   metric.Int64Counter
	actionErrors metric.Int64Counter
	actions      metric.Int64Counter
	duration     metric.Float64Histogram
}

// NewRecorder builds the instruments on meter. A nil meter uses the
// global meter provider.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(ScopeName)
	}

	var (
		r   Recorder
		err error
	)

	r.executions, err = meter.Int64Counter("automation.executions",
		metric.WithDescription("Finalized rule executions by status"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	r.actionErrors, err = meter.Int64Counter("automation.action.errors",
		metric.WithDescription("Failed action invocations"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	r.actions, err = meter.Int64Counter("automation.actions",
		metric.WithDescription("Successful action invocations"),
		metric.WithUnit("{action}"),
	)
	if err != nil {
		return nil, err
	}

	r.duration, err = meter.Float64Histogram("automation.execution.duration",
		metric.WithDescription("Rule execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func (r *Recorder) RecordDuration(name string, d time.Duration) {
	r.duration.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.String("operation", name)))
}

func (r *Recorder) RecordError(action string) {
	r.actionErrors.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("action", action)))
}

func (r *Recorder) RecordSuccess(action string) {
	r.actions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("action", action)))
}

func (r *Recorder) RecordOutcome(ruleID string, status automation.ExecutionStatus) {
	r.executions.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("rule_id", ruleID),
			attribute.String("status", status.String()),
		))
}
