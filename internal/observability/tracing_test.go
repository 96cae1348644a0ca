package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/nodesim/internal/logging"
)

func TestTracingConfigFromEnv(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "TRUE")
	t.Setenv("SIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("SIM_TRACING_SERVICE_NAME", "")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("SIM_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.ServiceName != "nodesim" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected ratio/endpoint %+v", cfg)
	}

	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "7")
	if got := TracingConfigFromEnv().SampleRatio; got != 1 {
		t.Fatalf("out-of-range ratio kept: %v", got)
	}
}

func TestInitTracingDisabledAndUnknownExporter(t *testing.T) {
	ctx := context.Background()
	tr, err := InitTracing(ctx, TracingConfig{}, RunInfo{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
	_, span := tr.Tracer().Start(ctx, "emulator.run")
	if span.SpanContext().IsValid() {
		t.Fatalf("disabled tracing produced a recording span")
	}
	span.End()
	tr.Shutdown(ctx)

	if _, err := InitTracing(ctx, TracingConfig{Enabled: true, Exporter: "zipkin"}, RunInfo{}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestRunResourceCarriesRunInputs(t *testing.T) {
	ctx := logging.ContextWithRunID(context.Background(), "run-7")
	res, err := runResource(ctx, TracingConfig{ServiceName: "sim"}, RunInfo{
		Scenario:  "ring.json",
		Programs:  []string{"a.dasm", "b.dasm"},
		Tickrate:  200000,
		IdleLimit: 50,
	})
	if err != nil {
		t.Fatalf("runResource: %v", err)
	}
	set := res.Set()
	want := map[attribute.Key]string{
		"service.name":       "sim",
		"nodesim.scenario":   "ring.json",
		"nodesim.tickrate":   "200000",
		"nodesim.idle_limit": "50",
		"nodesim.run_id":     "run-7",
	}
	for key, val := range want {
		got, ok := set.Value(key)
		if !ok || got.Emit() != val {
			t.Fatalf("%s = %q (present %v), want %q", key, got.Emit(), ok, val)
		}
	}
	progs, _ := set.Value("nodesim.programs")
	if got := progs.AsStringSlice(); len(got) != 2 || got[0] != "a.dasm" || got[1] != "b.dasm" {
		t.Fatalf("nodesim.programs = %v", got)
	}
}

func TestInitTracingStdoutExportsRunSpan(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	tr, err := InitTracing(ctx,
		TracingConfig{Enabled: true, Exporter: "stdout", ServiceName: "test", SampleRatio: 1, Writer: &buf},
		RunInfo{Scenario: "ping.json"},
		logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing stdout: %v", err)
	}
	_, span := tr.Tracer().Start(ctx, "emulator.run")
	span.End()
	tr.Shutdown(ctx)

	out := buf.String()
	for _, want := range []string{"emulator.run", "nodesim.scenario", "ping.json", EmulatorTracerName} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported span missing %q:\n%s", want, out)
		}
	}
}
