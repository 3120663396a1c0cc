// Package observability sets up OpenTelemetry tracing for dctables.
//
// Fetches, node streams and sync passes open spans through Tracer(). Until
// Init runs with tracing enabled, the global no-op provider makes every span
// free.
package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/dctables/pkg/errors"
)

const instrumentationName = "github.com/ajitpratap0/dctables"

// TracingConfig configures tracing
type TracingConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	ServiceName    string        `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string        `mapstructure:"service_version" yaml:"service_version"`
	Environment    string        `mapstructure:"environment" yaml:"environment"`
	SamplingRate   float64       `mapstructure:"sampling_rate" yaml:"sampling_rate"`
	Output         string        `mapstructure:"output" yaml:"output"` // stderr, stdout or a file path
	PrettyPrint    bool          `mapstructure:"pretty_print" yaml:"pretty_print"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

// DefaultTracingConfig returns tracing disabled, sampling everything once
// enabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:  "dctables",
		Environment:  "development",
		SamplingRate: 1.0,
		Output:       "stderr",
		BatchTimeout: 5 * time.Second,
	}
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Init installs a global tracer provider exporting spans as JSON. With
// tracing disabled it only installs the propagator and returns a no-op
// shutdown.
func Init(ctx context.Context, cfg TracingConfig) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	out, closeOut, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	opts := []stdouttrace.Option{stdouttrace.WithWriter(out)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		closeOut()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace exporter")
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		closeOut()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create trace resource")
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		defer closeOut()
		return tp.Shutdown(ctx)
	}, nil
}

func openOutput(target string) (io.Writer, func(), error) {
	switch target {
	case "", "stderr":
		return os.Stderr, func() {}, nil
	case "stdout":
		return os.Stdout, func() {}, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open trace output")
	}
	return f, func() { _ = f.Close() }, nil
}

// Tracer returns the dctables tracer from the current global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// InjectHTTP copies the span context of ctx into outgoing request headers.
func InjectHTTP(ctx context.Context, header http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(header))
}

// TracingMiddleware continues the caller's trace for every request and
// wraps the handler in a server span.
func TracingMiddleware(operation string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := Tracer().Start(ctx, operation,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
