package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/docflowhq/docflow/internal/types"
)

const engineScopeName = "github.com/docflowhq/docflow/engine"

// ExecutionMetrics records per-execution counters and durations. Instruments
// come from the global meter provider, so when telemetry is disabled every
// call is a no-op.
type ExecutionMetrics struct {
	executions metric.Int64Counter
	documents  metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewExecutionMetrics registers the engine instruments.
func NewExecutionMetrics() *ExecutionMetrics {
	m := Meter(engineScopeName)
	executions, _ := m.Int64Counter("docflow.executions",
		metric.WithDescription("Executions by final status"),
	)
	documents, _ := m.Int64Counter("docflow.documents",
		metric.WithDescription("Documents by outcome"),
	)
	duration, _ := m.Float64Histogram("docflow.execution.duration",
		metric.WithDescription("Execution wall time"),
		metric.WithUnit("s"),
	)
	return &ExecutionMetrics{
		executions: executions,
		documents:  documents,
		duration:   duration,
	}
}

// Record publishes one finished execution result.
func (m *ExecutionMetrics) Record(ctx context.Context, res *types.Result) {
	if m == nil || res == nil {
		return
	}
	mappingAttr := attribute.String("mapping", res.MappingID)
	m.executions.Add(ctx, 1, metric.WithAttributes(
		mappingAttr, attribute.String("status", string(res.Status)),
	))
	m.documents.Add(ctx, int64(res.Processed), metric.WithAttributes(
		mappingAttr, attribute.String("outcome", "processed"),
	))
	m.documents.Add(ctx, int64(res.Failed), metric.WithAttributes(
		mappingAttr, attribute.String("outcome", "failed"),
	))
	m.documents.Add(ctx, int64(res.Skipped), metric.WithAttributes(
		mappingAttr, attribute.String("outcome", "skipped"),
	))
	m.duration.Record(ctx, res.EndTime.Sub(res.StartTime).Seconds(),
		metric.WithAttributes(mappingAttr))
}
