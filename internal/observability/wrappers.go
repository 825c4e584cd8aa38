package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/warden/internal/sandbox"
)

// --- InstrumentedRunner ---

// InstrumentedRunner wraps a sandbox.Runner with metrics and tracing.
type InstrumentedRunner struct {
	inner      sandbox.Runner
	runnerType string // "process" or "docker"
	metrics    *MetricsCollector
	tracer     trace.Tracer
}

// NewInstrumentedRunner wraps a command runner with observability.
func NewInstrumentedRunner(inner sandbox.Runner, runnerType string, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedRunner {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedRunner{inner: inner, runnerType: runnerType, metrics: metrics, tracer: tracer}
}

func (r *InstrumentedRunner) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, SpanSandboxRun,
			trace.WithAttributes(attribute.String("sandbox.type", r.runnerType)))
		defer span.End()
	}

	start := time.Now()
	res, err := r.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	case res != nil && res.ExitCode != 0:
		status = "nonzero_exit"
		if span != nil {
			span.SetAttributes(attribute.Int("sandbox.exit_code", res.ExitCode))
		}
	}

	if r.metrics != nil {
		r.metrics.SandboxExecutionsTotal.WithLabelValues(r.runnerType, status).Inc()
		r.metrics.SandboxExecutionDuration.WithLabelValues(r.runnerType).Observe(duration)
	}
	return res, err
}

// --- InstrumentedWorker ---

// InstrumentedWorker wraps an isolation worker with metrics and tracing.
type InstrumentedWorker struct {
	inner      sandbox.Worker
	workerType string
	metrics    *MetricsCollector
	tracer     trace.Tracer
}

func NewInstrumentedWorker(inner sandbox.Worker, workerType string, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedWorker {
	var tracer trace.Tracer
	if ts != nil {
		tracer = ts.Tracer()
	}
	return &InstrumentedWorker{inner: inner, workerType: "worker:" + workerType, metrics: metrics, tracer: tracer}
}

func (w *InstrumentedWorker) Execute(ctx context.Context, req sandbox.WorkRequest) sandbox.Result {
	var span trace.Span
	if w.tracer != nil {
		ctx, span = w.tracer.Start(ctx, SpanIsolationWorker,
			trace.WithAttributes(
				attribute.String("sandbox.type", w.workerType),
				attribute.String("tool.class_path", req.ClassPath),
				attribute.String("work_request.id", req.ID),
			))
		defer span.End()
	}

	start := time.Now()
	res := w.inner.Execute(ctx, req)
	duration := time.Since(start).Seconds()

	status := "success"
	if !res.Success {
		status = "failure"
		if span != nil {
			span.SetStatus(codes.Error, res.Error)
		}
	}

	if w.metrics != nil {
		w.metrics.SandboxExecutionsTotal.WithLabelValues(w.workerType, status).Inc()
		w.metrics.SandboxExecutionDuration.WithLabelValues(w.workerType).Observe(duration)
	}
	return res
}
