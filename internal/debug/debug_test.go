package debug

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/nodesim/core"
	"github.com/signalsfoundry/nodesim/internal/asm"
	"github.com/signalsfoundry/nodesim/model"
)

const storeSrc = `
program dbg
global out
global arr[3] = 4 5 6
proc main void
line 3
    LN 7
    SG out
line 4
    LN 0
    sys exit 1
end
`

func newEmulator(t *testing.T, d *Debugger, src string) (*core.Emulator, *core.Node, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	opts := []core.Option{core.WithOutput(&out)}
	if d != nil {
		opts = append(opts, core.WithHook(d))
	}
	e := core.New(core.Config{}, opts...)
	p := asm.MustParse("dbg", src)
	if err := e.AddPrototype(p); err != nil {
		t.Fatalf("AddPrototype: %v", err)
	}
	if err := e.AddNode(1, p.Name, nil); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	return e, e.FindNode(1), &out
}

func TestTraceWritesOneLinePerInstruction(t *testing.T) {
	d := New()
	var trace bytes.Buffer
	d.SetTrace(&trace)
	e, _, _ := newEmulator(t, d, storeSrc)

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(trace.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("trace has %d lines, want 7:\n%s", len(lines), trace.String())
	}
	if !strings.HasPrefix(lines[0], "1:1 pc=1 ENTRY") {
		t.Fatalf("first trace line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "LN") || !strings.Contains(lines[1], " 7 ") {
		t.Fatalf("second trace line = %q", lines[1])
	}
}

func TestBreakpointReportsHitAndResumes(t *testing.T) {
	d := New()
	var events []Event
	d.OnBreak(func(n *core.Node, ev Event) error {
		events = append(events, ev)
		return nil
	})
	e, n, out := newEmulator(t, d, storeSrc)

	pc, err := d.SetLineBreakpoint(n, 3)
	if err != nil {
		t.Fatalf("SetLineBreakpoint: %v", err)
	}
	if pc != 2 {
		t.Fatalf("line 3 starts at pc %d, want 2", pc)
	}
	if ins, _ := n.Instruction(pc); ins.Op != model.OpDEBUG {
		t.Fatalf("instruction at %d = %v, want DEBUG", pc, ins)
	}
	if d.Breakpoints() != 1 {
		t.Fatalf("Breakpoints = %d, want 1", d.Breakpoints())
	}

	if _, err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n.Globals()[0] != 7 {
		t.Fatalf("out = %d, want 7 (replaced instruction not executed)", n.Globals()[0])
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Node != 1 || ev.PC != 2 || ev.Line != 3 || ev.Process != 1 || ev.Hits != 1 {
		t.Fatalf("event = %+v", ev)
	}
	if d.Hits(1, 2) != 1 {
		t.Fatalf("Hits = %d, want 1", d.Hits(1, 2))
	}
	if !strings.Contains(out.String(), "Node (1) Exit 0") {
		t.Fatalf("output = %q", out.String())
	}

	if err := d.ClearBreakpoint(n, pc); err != nil {
		t.Fatalf("ClearBreakpoint: %v", err)
	}
	if ins, _ := n.Instruction(pc); ins.Op != model.OpLN || ins.Arg != 7 {
		t.Fatalf("restored instruction = %v", ins)
	}
	if err := d.ClearBreakpoint(n, pc); err == nil {
		t.Fatalf("expected error clearing a missing breakpoint")
	}
}

func TestBreakpointDoesNotTouchPrototype(t *testing.T) {
	d := New()
	_, n, _ := newEmulator(t, d, storeSrc)
	if err := d.SetBreakpoint(n, 3); err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}
	if op := n.Prototype().Code[3].Op; op != model.OpSG {
		t.Fatalf("prototype code patched: %v", op)
	}
}

func TestBreakFuncErrorAbortsRun(t *testing.T) {
	d := New()
	d.OnBreak(func(*core.Node, Event) error { return errors.New("stop") })
	e, n, _ := newEmulator(t, d, storeSrc)
	if err := d.SetBreakpoint(n, 3); err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}

	_, err := e.Run(context.Background())
	re, ok := core.AsError(err)
	if !ok {
		t.Fatalf("Run error = %v, want runtime error", err)
	}
	if re.Code != core.CodeNoDebugger || !strings.Contains(re.Msg, "stop") {
		t.Fatalf("runtime error = %+v", re)
	}
}

func TestSetBreakpointRejectsInvalidTargets(t *testing.T) {
	src := `
program sw
proc main void
    LN 1
    SWITCHON 0 1 done
done:
    RTRN
end
`
	d := New()
	_, n, _ := newEmulator(t, d, src)

	if err := d.SetBreakpoint(n, 4); err == nil {
		t.Fatalf("expected error for switch table word")
	}
	if err := d.SetBreakpoint(n, 99); err == nil {
		t.Fatalf("expected error for pc out of range")
	}
	if _, err := d.SetLineBreakpoint(n, 42); err == nil {
		t.Fatalf("expected error for line without code")
	}
	if _, err := d.Breakpoint(n, 2); err == nil {
		t.Fatalf("expected error for unplanted breakpoint")
	}
}

func TestSnapshot(t *testing.T) {
	e, n, _ := newEmulator(t, nil, storeSrc)
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s, err := Snapshot(n)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got := s.Fields["node"].GetNumberValue(); got != 1 {
		t.Fatalf("node = %v", got)
	}
	if got := s.Fields["prototype"].GetStringValue(); got != "dbg" {
		t.Fatalf("prototype = %q", got)
	}
	if got := s.Fields["current"].GetNumberValue(); got != 1 {
		t.Fatalf("current = %v", got)
	}
	globals := s.Fields["globals"].GetStructValue().GetFields()
	arr := globals["arr"].GetListValue().GetValues()
	if len(arr) != 3 || arr[2].GetNumberValue() != 6 {
		t.Fatalf("arr = %v", arr)
	}
	procs := s.Fields["processes"].GetListValue().GetValues()
	if len(procs) != 1 {
		t.Fatalf("processes = %d, want 1", len(procs))
	}
	if st := procs[0].GetStructValue().GetFields()["status"].GetStringValue(); st != "running" {
		t.Fatalf("status = %q", st)
	}

	raw, err := MarshalSnapshot(n)
	if err != nil {
		t.Fatalf("MarshalSnapshot: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("snapshot is not JSON: %v", err)
	}
	if decoded["prototype"] != "dbg" || decoded["blocked"] != false {
		t.Fatalf("decoded snapshot = %v", decoded)
	}
}
