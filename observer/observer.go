// Package observer provides OTEL-based observability for the hive
// coordination runtime.
//
// It exposes the instruments the orchestrator and agents record into:
// message throughput, handler failures, restarts, task outcomes, and
// vote finalizations. Users export to any OTEL-compatible backend by
// setting standard OTEL env vars.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	hivelog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/nevindra/hive/observer"

// Instruments holds all OTEL instruments used by the runtime.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter
	Logger hivelog.Logger

	// Counters
	MessagesProcessed metric.Int64Counter
	HandlerFailures   metric.Int64Counter
	AgentRestarts     metric.Int64Counter
	TasksCompleted    metric.Int64Counter
	TasksFailed       metric.Int64Counter
	VotesFinalized    metric.Int64Counter

	// Histograms
	HandlerDuration metric.Float64Histogram
	TaskDuration    metric.Float64Histogram
}

// Init sets up OTEL trace, metric, and log providers with OTLP HTTP exporters.
// Configuration comes from standard OTEL env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.).
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("hive")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	// Trace provider
	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Metric provider
	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	// Log provider
	logExp, err := otlploghttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}
	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		_ = lp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
			lp.Shutdown(ctx),
		)
	}

	return inst, shutdown, nil
}

func newInstruments() (*Instruments, error) {
	tracer := otel.Tracer(scopeName)
	meter := otel.Meter(scopeName)
	logger := global.GetLoggerProvider().Logger(scopeName)

	messagesProcessed, err := meter.Int64Counter("agent.messages.processed",
		metric.WithDescription("Messages dispatched to handlers"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}

	handlerFailures, err := meter.Int64Counter("agent.handler.failures",
		metric.WithDescription("Handler errors and panics"),
		metric.WithUnit("{failure}"))
	if err != nil {
		return nil, err
	}

	agentRestarts, err := meter.Int64Counter("agent.restarts",
		metric.WithDescription("Supervisor-initiated restarts"),
		metric.WithUnit("{restart}"))
	if err != nil {
		return nil, err
	}

	tasksCompleted, err := meter.Int64Counter("task.completed",
		metric.WithDescription("Tasks completed successfully"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	tasksFailed, err := meter.Int64Counter("task.failed",
		metric.WithDescription("Tasks failed or expired"),
		metric.WithUnit("{task}"))
	if err != nil {
		return nil, err
	}

	votesFinalized, err := meter.Int64Counter("consensus.votes.finalized",
		metric.WithDescription("Votes finalized"),
		metric.WithUnit("{vote}"))
	if err != nil {
		return nil, err
	}

	handlerDuration, err := meter.Float64Histogram("agent.handler.duration",
		metric.WithDescription("Handler execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	taskDuration, err := meter.Float64Histogram("task.duration",
		metric.WithDescription("Task execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:            tracer,
		Meter:             meter,
		Logger:            logger,
		MessagesProcessed: messagesProcessed,
		HandlerFailures:   handlerFailures,
		AgentRestarts:     agentRestarts,
		TasksCompleted:    tasksCompleted,
		TasksFailed:       tasksFailed,
		VotesFinalized:    votesFinalized,
		HandlerDuration:   handlerDuration,
		TaskDuration:      taskDuration,
	}, nil
}
