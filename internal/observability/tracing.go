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

	"github.com/signalsfoundry/nodesim/internal/logging"
)

// EmulatorTracerName names the tracer handed to the emulator core.
const EmulatorTracerName = "github.com/signalsfoundry/nodesim/core"

// TracingConfig governs how emulator tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp
	SampleRatio float64
	// Writer receives spans from the stdout exporter; os.Stderr when nil,
	// since program output owns stdout.
	Writer io.Writer
}

// RunInfo describes the emulation a trace belongs to. Its fields become
// resource attributes on every exported span.
type RunInfo struct {
	Scenario  string
	Programs  []string
	Tickrate  uint64
	IdleLimit uint64
}

// TracingConfigFromEnv reads SIM_TRACING_ENABLED, SIM_TRACING_EXPORTER,
// SIM_TRACING_SERVICE_NAME, SIM_TRACING_SAMPLE_RATIO and SIM_OTLP_ENDPOINT.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("SIM_TRACING_ENABLED"), "true"),
		ServiceName: os.Getenv("SIM_TRACING_SERVICE_NAME"),
		Exporter:    strings.ToLower(os.Getenv("SIM_TRACING_EXPORTER")),
		Endpoint:    os.Getenv("SIM_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if cfg.Exporter == "" {
		cfg.Exporter = "stdout"
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "nodesim"
	}
	if raw := os.Getenv("SIM_TRACING_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

// Tracing is the tracer provider of one emulator run.
type Tracing struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
	log      logging.Logger
}

// Provider returns the run's tracer provider.
func (t *Tracing) Provider() trace.TracerProvider { return t.provider }

// Tracer returns the tracer for the emulator core's run span.
func (t *Tracing) Tracer() trace.Tracer { return t.provider.Tracer(EmulatorTracerName) }

// Shutdown flushes pending spans, bounded to five seconds. Failures are
// logged, not returned: a lost trace never changes a run's exit status.
func (t *Tracing) Shutdown(ctx context.Context) {
	if t == nil || t.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := t.shutdown(ctx); err != nil {
		t.log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// InitTracing builds the tracer provider for run and installs it as the
// global provider, so gRPC instrumentation shares it. With tracing
// disabled the provider is a no-op.
func InitTracing(ctx context.Context, cfg TracingConfig, run RunInfo, log logging.Logger) (*Tracing, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		log.Debug(ctx, "tracing disabled")
		return &Tracing{provider: tp, log: log}, nil
	}

	exp, err := exporterFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := runResource(ctx, cfg, run)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", cfg.ServiceName),
		logging.String("scenario", run.Scenario),
		logging.Any("sample_ratio", cfg.SampleRatio))
	return &Tracing{provider: tp, shutdown: tp.Shutdown, log: log}, nil
}

// runResource tags spans with the service, the run id carried by ctx and
// the emulation inputs.
func runResource(ctx context.Context, cfg TracingConfig, run RunInfo) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "nodesim"),
		attribute.String("nodesim.scenario", run.Scenario),
		attribute.StringSlice("nodesim.programs", run.Programs),
		attribute.Int64("nodesim.tickrate", int64(run.Tickrate)),
		attribute.Int64("nodesim.idle_limit", int64(run.IdleLimit)),
	}
	if id := logging.RunIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("nodesim.run_id", id))
	}
	return resource.New(ctx, resource.WithAttributes(attrs...))
}

func exporterFromConfig(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		w := cfg.Writer
		if w == nil {
			w = os.Stderr
		}
		return stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter: %s", cfg.Exporter)
	}
}
