package asm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/nodesim/model"
)

const counterSrc = `
; counts clock interrupts
program counter
global count
global table[4] = 1 2 3 4
global gain : float = 1.5
extern samples[8]
string msg "n=%d\n"

proc main void
local i
    LN 0
    SP i
    sys delay 1
    RTRN
end

proc clock void
arg node
arg port
arg value
arg ticks
line 12
    LG count
    LN 1
    PLUS
    SG count
    RTRN
end
`

func TestParseLayout(t *testing.T) {
	p, err := Parse("test", []byte(counterSrc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if p.Name != "counter" {
		t.Fatalf("Name = %q, want counter", p.Name)
	}

	// count, table[4], gain, then msg (6 bytes -> 2 words)
	if got := len(p.GlobalInit); got != 8 {
		t.Fatalf("len(GlobalInit) = %d, want 8", got)
	}
	if p.GlobalInit[1] != 1 || p.GlobalInit[4] != 4 {
		t.Fatalf("table init = %v", p.GlobalInit[1:5])
	}
	if p.GlobalInit[5] != 98304 {
		t.Fatalf("gain = %d, want 1.5 in 16.16", p.GlobalInit[5])
	}
	sym, ok := p.GlobalSymbol("msg")
	if !ok || sym.Offset != 6 || sym.Words() != 2 {
		t.Fatalf("msg symbol = %+v, %v", sym, ok)
	}
	// "n=%d" packed low byte first
	if w := uint32(p.GlobalInit[6]); w != 'n'|'='<<8|'%'<<16|'d'<<24 {
		t.Fatalf("first string word = %#x", w)
	}
	if len(p.ExternInit) != 8 {
		t.Fatalf("len(ExternInit) = %d, want 8", len(p.ExternInit))
	}

	if len(p.Procedures) != 3 {
		t.Fatalf("procedures = %d, want 3 (with placeholder)", len(p.Procedures))
	}
	clock := p.Procedures[2]
	if clock.NArgs != 4 || clock.Frame != 4 {
		t.Fatalf("clock NArgs=%d Frame=%d, want 4/4", clock.NArgs, clock.Frame)
	}
	if clock.Locals[2].Name != "value" || clock.Locals[2].Offset != 3 {
		t.Fatalf("clock arg 3 = %+v", clock.Locals[2])
	}
	main := p.Procedures[1]
	if main.NArgs != 0 || main.Frame != 1 || main.Locals[0].Offset != 1 {
		t.Fatalf("main = %+v", main)
	}

	if p.EntryPC != 1 || p.Code[1].Op != model.OpENTRY || p.Code[1].Arg != 1 {
		t.Fatalf("entry pc %d code %v", p.EntryPC, p.Code[1])
	}
	// ENTRY, LN, SP, sys(3), RTRN
	if p.Code[4].Op != model.OpLN || p.Code[5].Arg != model.SysDelay || p.Code[6].Op != model.OpSYSCALL {
		t.Fatalf("sys expansion = %v %v %v", p.Code[4], p.Code[5], p.Code[6])
	}
	if p.Code[7].Op != model.OpRTRN || p.Code[7].Arg != 1 {
		t.Fatalf("RTRN = %v", p.Code[7])
	}
	clockAddr := p.Labels[clock.Label]
	if clockAddr != 8 || p.Code[clockAddr].Op != model.OpENTRY {
		t.Fatalf("clock entry at %d", clockAddr)
	}
	if line := p.SourceLine(clockAddr + 2); line != 12 {
		t.Fatalf("SourceLine = %d, want 12", line)
	}
}

func TestParseLabelsAndSwitch(t *testing.T) {
	src := `
program sw
global out
proc main void
top:
    LN 2
    SWITCHON other 1 one 2 two
one:
    LN 10
    SG out
    JUMP done
two:
    LN 20
    SG out
    JUMP done
other:
    LN -1
    SG out
done:
    LN main
    RTRN
end
`
	p, err := Parse("sw", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sw := p.Code[3]
	if sw.Op != model.OpSWITCHON || sw.Arg != 2 {
		t.Fatalf("SWITCHON = %v", sw)
	}
	table := p.Code[4:9]
	for _, ins := range table {
		if ins.Op != model.OpDATA {
			t.Fatalf("table word %v is not DATA", ins)
		}
	}
	if table[1].Arg != 1 || table[3].Arg != 2 {
		t.Fatalf("case values = %d %d", table[1].Arg, table[3].Arg)
	}
	if got := p.Labels[table[2].Arg]; got != 9 {
		t.Fatalf("label one -> %d, want 9", got)
	}
	// LN main resolves to main's label number, as used by FNAP.
	var last model.Instruction
	for _, ins := range p.Code {
		if ins.Op == model.OpLN {
			last = ins
		}
	}
	if p.Labels[last.Arg] != p.EntryPC {
		t.Fatalf("LN main -> label %d at %d, entry %d", last.Arg, p.Labels[last.Arg], p.EntryPC)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"unknown op", "proc main\n FOO 1\nend\n", "unknown instruction"},
		{"undefined label", "proc main\n JUMP nowhere\nend\n", "undefined name nowhere"},
		{"no end", "proc main\n RTRN\n", "has no end"},
		{"outside proc", "LN 1\n", "outside proc"},
		{"duplicate label", "proc main\nx:\nx:\n RTRN\nend\n", "redefined"},
		{"unknown syscall", "proc main\n sys launch 1\nend\n", "unknown syscall"},
		{"explicit entry", "proc main\n ENTRY 1\nend\n", "generated by proc"},
		{"missing entry", "entry start\nproc main\n RTRN\nend\n", "entry procedure start"},
		{"syntax", "proc main\n LN [\nend\n", "parse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("bad", []byte(tc.src))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseFileNamesPrototype(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.dasm")
	if err := os.WriteFile(path, []byte("proc main\n RTRN\nend"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if p.Name != "relay" {
		t.Fatalf("Name = %q, want relay", p.Name)
	}
}
