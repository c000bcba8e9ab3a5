package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/nevindra/hive"
)

// WrapHandler returns a handler that records a span, throughput, failure
// count, and duration around fn. Attach per kind when building a Runtime:
//
//	rt := hive.NewRuntime("worker-1", reg,
//		hive.WithHandler(hive.KindTask, observer.WrapHandler(inst, "worker-1", handleTask)),
//	)
func WrapHandler(inst *Instruments, agentID string, fn hive.Handler) hive.Handler {
	return func(ctx context.Context, m hive.Message) error {
		attrs := []attribute.KeyValue{
			attribute.String("agent.id", agentID),
			attribute.String("message.kind", m.Kind.String()),
		}
		ctx, span := inst.Tracer.Start(ctx, "agent.handle",
			trace.WithAttributes(attrs...))
		start := time.Now()

		err := fn(ctx, m)

		elapsed := float64(time.Since(start).Milliseconds())
		inst.MessagesProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))
		inst.HandlerDuration.Record(ctx, elapsed, metric.WithAttributes(attrs...))
		if err != nil {
			inst.HandlerFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		return err
	}
}

// RecordTaskResult feeds a finished task into the task counters and
// duration histogram.
func RecordTaskResult(ctx context.Context, inst *Instruments, result hive.TaskResult) {
	attrs := metric.WithAttributes(
		attribute.String("agent.id", result.AgentID),
	)
	if result.Success {
		inst.TasksCompleted.Add(ctx, 1, attrs)
	} else {
		inst.TasksFailed.Add(ctx, 1, attrs)
	}
	if result.DurationMs > 0 {
		inst.TaskDuration.Record(ctx, float64(result.DurationMs), attrs)
	}
}
