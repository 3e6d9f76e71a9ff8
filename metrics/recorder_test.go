package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/goliatone/go-automation"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRecorderWithNoopMeter(t *testing.T) {
	r, err := NewRecorder(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		r.RecordDuration("execution", time.Second)
		r.RecordError("CALL_WEBHOOK")
		r.RecordSuccess("SEND_MESSAGE")
		r.RecordOutcome("r1", automation.ExecutionPartial)
	})
}

func TestRecorderCountsOutcomes(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	r, err := NewRecorder(provider.Meter(ScopeName))
	require.NoError(t, err)

	r.RecordOutcome("r1", automation.ExecutionSuccess)
	r.RecordOutcome("r1", automation.ExecutionSuccess)
	r.RecordOutcome("r1", automation.ExecutionFailed)
	r.RecordError("CALL_WEBHOOK")
	r.RecordDuration("execution", 150*time.Millisecond)

	got := collect(t, reader)

	executions, ok := got["automation.executions"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	byStatus := map[string]int64{}
	for _, dp := range executions.DataPoints {
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		byStatus[status.AsString()] += dp.Value
	}
	assert.Equal(t, map[string]int64{"SUCCESS": 2, "FAILED": 1}, byStatus)

	errs, ok := got["automation.action.errors"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.EqualValues(t, 1, errs.DataPoints[0].Value)

	hist, ok := got["automation.execution.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 1, hist.DataPoints[0].Count)
	assert.InDelta(t, 0.15, hist.DataPoints[0].Sum, 1e-9)
}
