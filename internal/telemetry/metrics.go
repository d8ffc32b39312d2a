package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ExecutionMetrics records execution activity through OTel instruments. It
// satisfies the coordinator's recorder contract.
type ExecutionMetrics struct {
	executions  metric.Int64Counter
	duration    metric.Float64Histogram
	lockWait    metric.Float64Histogram
	outputLines metric.Int64Counter
	items       metric.Int64Counter
	inflight    metric.Int64Gauge
	sessions    metric.Int64Gauge
}

// NewExecutionMetrics creates the instruments on meter.
func NewExecutionMetrics(meter metric.Meter) (*ExecutionMetrics, error) {
	var (
		m   ExecutionMetrics
		err error
	)
	if m.executions, err = meter.Int64Counter("pyhost.executions",
		metric.WithDescription("Executions by mode and terminal status")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("pyhost.execution.duration",
		metric.WithUnit("s"), metric.WithDescription("Execution wall time")); err != nil {
		return nil, err
	}
	if m.lockWait, err = meter.Float64Histogram("pyhost.session.lock_wait",
		metric.WithUnit("s"), metric.WithDescription("Time spent waiting for the session lock")); err != nil {
		return nil, err
	}
	if m.outputLines, err = meter.Int64Counter("pyhost.output.lines",
		metric.WithDescription("Output lines by stream")); err != nil {
		return nil, err
	}
	if m.items, err = meter.Int64Counter("pyhost.generator.items",
		metric.WithDescription("Items delivered by generator executions")); err != nil {
		return nil, err
	}
	if m.inflight, err = meter.Int64Gauge("pyhost.executions.inflight"); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64Gauge("pyhost.sessions"); err != nil {
		return nil, err
	}
	return &m, nil
}

// Recorder callbacks carry no context; measurements are taken against the
// background context.
var bg = context.Background()

func (m *ExecutionMetrics) RecordExecution(mode, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("mode", mode), attribute.String("status", status))
	m.executions.Add(bg, 1, attrs)
	m.duration.Record(bg, d.Seconds(), attrs)
}

func (m *ExecutionMetrics) RecordSessionLockWait(d time.Duration, acquired bool) {
	m.lockWait.Record(bg, d.Seconds(), metric.WithAttributes(attribute.Bool("acquired", acquired)))
}

func (m *ExecutionMetrics) RecordOutputLines(stream string, n int) {
	if n > 0 {
		m.outputLines.Add(bg, int64(n), metric.WithAttributes(attribute.String("stream", stream)))
	}
}

func (m *ExecutionMetrics) RecordGeneratorItems(n int) {
	if n > 0 {
		m.items.Add(bg, int64(n))
	}
}

func (m *ExecutionMetrics) SetInflight(n int) { m.inflight.Record(bg, int64(n)) }

func (m *ExecutionMetrics) SetSessions(n int) { m.sessions.Record(bg, int64(n)) }
