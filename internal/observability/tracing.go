package observability

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jkaninda/warden/internal/config"
)

// InstrumentationName names every tracer Warden creates.
const InstrumentationName = "github.com/jkaninda/warden"

// Span names. Dispatch spans are the roots of a trace; sandbox spans nest
// under them, so a sampled dispatch carries its whole isolation path.
const (
	SpanHTTPRequest      = "warden.http.request"
	SpanDispatch         = "warden.dispatch"
	SpanDispatchApproved = "warden.dispatch.approved"
	SpanSandboxRun       = "warden.sandbox.run"
	SpanIsolationWorker  = "warden.sandbox.worker"
)

const (
	defaultGRPCEndpoint = "localhost:4317"
	defaultHTTPEndpoint = "localhost:4318"
)

// BuildInfo identifies the running binary in exported resources.
type BuildInfo struct {
	Version string
	Commit  string
}

// TracerSetup holds the OTel TracerProvider and Warden's tracer.
// It is never installed as the global provider.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerSetup creates a TracerProvider exporting over OTLP.
// Returns nil when tracing is disabled.
func NewTracerSetup(cfg *config.TracingConfig, build BuildInfo) (*TracerSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(resourceAttributes(cfg, build)...),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	return &TracerSetup{
		provider: tp,
		tracer:   tp.Tracer(InstrumentationName, trace.WithInstrumentationVersion(build.Version)),
	}, nil
}

// resourceAttributes describes this Warden instance. Configured attributes
// never replace the service identity keys.
func resourceAttributes(cfg *config.TracingConfig, build BuildInfo) []attribute.KeyValue {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "warden"
	}
	version := build.Version
	if version == "" {
		version = "dev"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
		semconv.ServiceInstanceID(uuid.NewString()),
	}
	if build.Commit != "" {
		attrs = append(attrs, attribute.String("warden.commit", build.Commit))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}

	reserved := map[attribute.Key]bool{}
	for _, a := range attrs {
		reserved[a.Key] = true
	}
	for _, k := range slices.Sorted(maps.Keys(cfg.Attributes)) {
		if reserved[attribute.Key(k)] {
			continue
		}
		attrs = append(attrs, attribute.String(k, cfg.Attributes[k]))
	}
	return attrs
}

func newExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(exporterEndpoint(cfg))}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(exporterEndpoint(cfg))}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", cfg.Protocol)
	}
}

func exporterEndpoint(cfg *config.TracingConfig) string {
	if cfg.Endpoint != "" {
		return cfg.Endpoint
	}
	if cfg.Protocol == "http" {
		return defaultHTTPEndpoint
	}
	return defaultGRPCEndpoint
}

// newSampler samples root dispatch spans at rate and lets child spans follow
// their parent, so a dispatch trace is either complete or absent.
func newSampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns Warden's tracer, or a no-op tracer when tracing is disabled.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer(InstrumentationName)
	}
	return t.tracer
}

// Shutdown flushes pending spans and stops the provider.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
