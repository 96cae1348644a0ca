package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const senderProgram = `program sender
global sent
proc main void
    LN 1
    SG sent
    LN 5
    LN 42
    sys sendpkt 2
    LN 0
    sys exit 1
end
`

const receiverProgram = `program receiver
global got
proc main void
    RTRN
end
proc packet void
arg node
arg port
arg value
arg ticks
    LP value
    SG got
    LP value
    sys exit 1
end
`

const pingScenario = `{
  "nodes": [
    { "id": 1, "prototype": "sender" },
    { "id": 2, "prototype": "receiver", "vectors": [ { "source": 1, "handler": "packet" } ] }
  ],
  "channels": [
    { "node": 1, "name": "sends", "format": "%d\n", "periodic": false, "globals": ["sent"] }
  ]
}
`

// writeFiles writes name/content pairs into a fresh directory and returns
// it.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func pingDir(t *testing.T) string {
	return writeFiles(t, map[string]string{
		"sender.dasm":   senderProgram,
		"receiver.dasm": receiverProgram,
		"ping.json":     pingScenario,
	})
}

func runArgs(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunDeliversPacketAndWritesChannels(t *testing.T) {
	dir := pingDir(t)
	code, out, errOut := runArgs(t,
		"-program", filepath.Join(dir, "sender.dasm")+","+filepath.Join(dir, "receiver.dasm"),
		"-scenario", filepath.Join(dir, "ping.json"),
		"-logs",
	)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr %q stdout %q", code, errOut, out)
	}
	for _, want := range []string{"Node (1) Exit 0", "Node (2) Exit 42", "Execution time:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q does not contain %q", out, want)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "ping_sender_1_sends.dat"))
	if err != nil {
		t.Fatalf("channel file: %v", err)
	}
	if string(data) != "1\n" {
		t.Fatalf("channel contents = %q, want %q", data, "1\n")
	}
}

func TestRunWritesProfile(t *testing.T) {
	dir := pingDir(t)
	code, out, _ := runArgs(t,
		"-program", filepath.Join(dir, "sender.dasm"),
		"-program", filepath.Join(dir, "receiver.dasm"),
		"-scenario", filepath.Join(dir, "ping.json"),
		"-profile", "1",
	)
	if code != 0 {
		t.Fatalf("exit code = %d, output %q", code, out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "ping_1.pr"))
	if err != nil {
		t.Fatalf("profile file: %v", err)
	}
	if !strings.HasPrefix(string(data), "node 1\n") || !strings.Contains(string(data), "main") {
		t.Fatalf("profile = %q", data)
	}
}

func TestRunTraceListsInstructions(t *testing.T) {
	dir := pingDir(t)
	code, out, _ := runArgs(t,
		"-program", filepath.Join(dir, "sender.dasm")+","+filepath.Join(dir, "receiver.dasm"),
		"-scenario", filepath.Join(dir, "ping.json"),
		"-trace",
	)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(out, "ENTRY") || !strings.Contains(out, "SYSCALL") {
		t.Fatalf("trace output missing instructions: %q", out)
	}
}

func TestRunExportsSpanWithScenario(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "true")
	t.Setenv("SIM_TRACING_EXPORTER", "stdout")
	dir := pingDir(t)
	scenario := filepath.Join(dir, "ping.json")
	code, _, errOut := runArgs(t,
		"-program", filepath.Join(dir, "sender.dasm")+","+filepath.Join(dir, "receiver.dasm"),
		"-scenario", scenario,
	)
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	for _, want := range []string{"emulator.run", "nodesim.scenario", scenario, "receiver.dasm", "nodesim.run_id"} {
		if !strings.Contains(errOut, want) {
			t.Fatalf("exported spans missing %q:\n%s", want, errOut)
		}
	}
}

func TestRunFatalErrorExitsNonZero(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"div.dasm": `program div
proc main void
    LN 1
    LN 0
    DIV
    sys exit 1
end
`,
		"div.json": `{"nodes":[{"id":1,"prototype":"div"}]}`,
	})
	code, out, _ := runArgs(t,
		"-program", filepath.Join(dir, "div.dasm"),
		"-scenario", filepath.Join(dir, "div.json"),
	)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "Runtime error") {
		t.Fatalf("output %q does not report the runtime error", out)
	}
}

func TestRunLoadErrors(t *testing.T) {
	dir := pingDir(t)
	bad := writeFiles(t, map[string]string{"bad.dasm": "proc main void\n    BOGUS 1\nend\n"})
	cases := []struct {
		name string
		args []string
		code int
	}{
		{"no program", []string{"-scenario", filepath.Join(dir, "ping.json")}, 2},
		{"no scenario", []string{"-program", filepath.Join(dir, "sender.dasm")}, 2},
		{"unknown flag", []string{"-nodes", "3"}, 2},
		{"bad program", []string{"-program", filepath.Join(bad, "bad.dasm"), "-scenario", filepath.Join(dir, "ping.json")}, 1},
		{"missing scenario", []string{"-program", filepath.Join(dir, "sender.dasm"), "-scenario", filepath.Join(dir, "nope.json")}, 1},
		{"unknown prototype", []string{"-program", filepath.Join(dir, "sender.dasm"), "-scenario", filepath.Join(dir, "ping.json")}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, _, _ := runArgs(t, tc.args...); code != tc.code {
				t.Fatalf("exit code = %d, want %d", code, tc.code)
			}
		})
	}
}

func TestHelpDescribesFlags(t *testing.T) {
	code, _, errOut := runArgs(t, "-h")
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	for _, want := range []string{"-monitor", "Print every delivered packet", "-program"} {
		if !strings.Contains(errOut, want) {
			t.Fatalf("usage missing %q:\n%s", want, errOut)
		}
	}
}

func TestServeHealthDisabledReportsNotServing(t *testing.T) {
	hs := health.NewServer()
	srv, err := serveHealth(context.Background(), "", hs, nil, noop.NewTracerProvider())
	if err != nil || srv != nil {
		t.Fatalf("serveHealth with empty addr = %v, %v", srv, err)
	}
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: healthService})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("status = %v, want NOT_SERVING", resp.GetStatus())
	}
}
