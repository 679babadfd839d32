// Package telemetry propagates an inbound trace id onto the request and
// response. It deliberately does not instrument the admission decision
// itself with spans or attributes; full distributed tracing instrumentation
// is treated as an external collaborator.
package telemetry

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Config controls the exporter behind trace-id propagation.
type Config struct {
	Enabled     bool
	Exporter    string // otlp | stdout | none
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// Provider wraps an otel TracerProvider used solely to carry an inbound
// trace id through the pipeline and onto the X-Trace-Id response header.
// Any exporter construction failure degrades gracefully to a no-op tracer.
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	prop     propagation.TextMapPropagator
}

// NewProvider builds a Provider. Any exporter construction failure degrades
// to a no-op tracer rather than failing startup — tracing is an ambient
// concern, never load-bearing for the admission decision.
func NewProvider(cfg Config) *Provider {
	prop := propagation.TraceContext{}

	if !cfg.Enabled {
		return &Provider{config: cfg, tracer: otel.Tracer("sentrygate"), prop: prop}
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "sentrygate"
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return &Provider{config: cfg, tracer: otel.Tracer("sentrygate"), prop: prop}
	}
	if err != nil {
		slog.Warn("telemetry: exporter init failed, degrading to noop", "error", err)
		return &Provider{config: cfg, tracer: otel.Tracer("sentrygate"), prop: prop}
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(prop)

	return &Provider{config: cfg, tracer: tp.Tracer("sentrygate"), provider: tp, prop: prop}
}

func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(context.Background(), opts...)
}

// Propagate extracts an inbound W3C traceparent (if present) and returns
// the trace id string to attach to X-Trace-Id; it generates nothing new —
// callers fall back to a uuid when this returns "".
func (p *Provider) Propagate(ctx context.Context, r *http.Request) (context.Context, string) {
	ctx = p.prop.Extract(ctx, propagation.HeaderCarrier(r.Header))
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return ctx, sc.TraceID().String()
	}
	return ctx, ""
}

// Shutdown releases the tracer provider, if one was created.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Enabled reports whether a real exporter is wired.
func (p *Provider) Enabled() bool {
	return p.config.Enabled && p.provider != nil
}

// ConfigFromEnv builds a Config from OTEL_EXPORTER_OTLP_* environment
// variables.
func ConfigFromEnv() Config {
	cfg := Config{Enabled: false, Exporter: "none", ServiceName: "sentrygate"}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Enabled = true
		cfg.Exporter = "otlp"
		cfg.Endpoint = v
		cfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	return cfg
}
