package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/cluster-patrol-sim/internal/logging"
)

// TracingConfig selects the span exporter for a simulator process.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector, host:port
	SampleRatio float64

	// Output receives spans from the stdout exporter. Defaults to os.Stderr
	// so spans never interleave with a report written to stdout.
	Output io.Writer
}

// TracingConfigFromEnv reads the SIM_TRACING_* and SIM_OTLP_ENDPOINT
// variables.
func TracingConfigFromEnv() TracingConfig {
	return tracingConfigFromLookup(os.Getenv)
}

func tracingConfigFromLookup(getenv func(string) string) TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(getenv("SIM_TRACING_ENABLED"), "true"),
		ServiceName: getenv("SIM_TRACING_SERVICE_NAME"),
		Exporter:    strings.ToLower(getenv("SIM_TRACING_EXPORTER")),
		Endpoint:    getenv("SIM_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if cfg.Exporter == "" {
		cfg.Exporter = "stdout"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cluster-patrol-sim"
	}
	if raw := getenv("SIM_TRACING_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

// RunInfo is stamped on the trace resource, so every exported span carries
// the run it came from.
type RunInfo struct {
	RunID    string
	Scenario string
	Seed     uint64
	Clusters int
	Horizon  time.Duration
}

func (ri RunInfo) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64("sim.seed", int64(ri.Seed)),
		attribute.Int("sim.clusters", ri.Clusters),
		attribute.Float64("sim.horizon_seconds", ri.Horizon.Seconds()),
	}
	if ri.RunID != "" {
		attrs = append(attrs, attribute.String("sim.run_id", ri.RunID))
	}
	if ri.Scenario != "" {
		attrs = append(attrs, attribute.String("sim.scenario", ri.Scenario))
	}
	return attrs
}

// Tracing owns the tracer provider of one simulator process.
type Tracing struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
	enabled  bool
}

// Tracer returns a named tracer backed by this provider. Hand it to the
// engine with core.WithTracer.
func (t *Tracing) Tracer(name string) trace.Tracer {
	return t.provider.Tracer(name)
}

// Enabled reports whether spans are exported.
func (t *Tracing) Enabled() bool { return t.enabled }

// Shutdown flushes buffered spans and stops the exporter.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// InitTracing builds the tracer provider for run and installs it globally.
// With tracing disabled the provider is a no-op.
func InitTracing(ctx context.Context, cfg TracingConfig, run RunInfo, log logging.Logger) (*Tracing, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return &Tracing{provider: tp}, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(append([]attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "simulator"),
	}, run.attributes()...)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("run_id", run.RunID),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return &Tracing{provider: tp, shutdown: tp.Shutdown, enabled: true}, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithPrettyPrint(),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}

// ShutdownWithTimeout flushes t within five seconds and logs a failure
// instead of returning it.
func ShutdownWithTimeout(ctx context.Context, t *Tracing, log logging.Logger) {
	if t == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.Shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Error(err))
	}
}
