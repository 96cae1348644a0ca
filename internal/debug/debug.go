// Package debug implements the emulator hook used by interactive
// debuggers: instruction tracing, DEBUG-instruction breakpoints and state
// snapshots encoded as protobuf Struct values.
package debug

import (
	"fmt"
	"io"

	"github.com/signalsfoundry/nodesim/core"
	"github.com/signalsfoundry/nodesim/model"
)

// Event describes a breakpoint hit.
type Event struct {
	Node    uint32
	PC      uint32
	Line    uint32
	Process uint32
	Hits    int
}

// BreakFunc is called on every breakpoint hit. A non-nil error aborts the
// run with a fatal runtime error.
type BreakFunc func(n *core.Node, ev Event) error

type bpKey struct {
	node, pc uint32
}

// Debugger satisfies core.Hook.
type Debugger struct {
	trace   io.Writer
	onBreak BreakFunc
	saved   map[bpKey]model.Instruction
	hits    map[bpKey]int
}

// New returns a debugger without breakpoints or tracing.
func New() *Debugger {
	return &Debugger{
		saved: make(map[bpKey]model.Instruction),
		hits:  make(map[bpKey]int),
	}
}

// SetTrace writes one line per executed instruction to w; nil turns
// tracing off.
func (d *Debugger) SetTrace(w io.Writer) { d.trace = w }

// OnBreak installs the breakpoint callback.
func (d *Debugger) OnBreak(fn BreakFunc) { d.onBreak = fn }

// BeforeInstruction traces the instruction about to execute.
func (d *Debugger) BeforeInstruction(n *core.Node, pc uint32) {
	if d.trace == nil {
		return
	}
	ins, ok := n.Instruction(pc)
	if !ok {
		return
	}
	if orig, planted := d.saved[bpKey{n.ID(), pc}]; planted {
		ins = orig
	}
	var handle uint32
	if p := n.Current(); p != nil {
		handle = p.Handle()
	}
	fmt.Fprintf(d.trace, "%d:%d pc=%d %-12s %8d sp=%d fp=%d t=%d\n",
		n.ID(), handle, pc, ins.Op, ins.Arg, n.SP(), n.FP(), n.Clock())
}

// SetBreakpoint plants a DEBUG instruction at pc on node n.
func (d *Debugger) SetBreakpoint(n *core.Node, pc uint32) error {
	key := bpKey{n.ID(), pc}
	if _, exists := d.saved[key]; exists {
		return nil
	}
	orig, ok := n.Instruction(pc)
	if !ok {
		return fmt.Errorf("debug: node %d: pc %d out of range", n.ID(), pc)
	}
	if orig.Op == model.OpDATA {
		return fmt.Errorf("debug: node %d: pc %d is switch table data", n.ID(), pc)
	}
	if err := n.SetInstruction(pc, model.Instruction{Op: model.OpDEBUG}); err != nil {
		return err
	}
	d.saved[key] = orig
	return nil
}

// SetLineBreakpoint plants a breakpoint at the first instruction of a source
// line and returns its pc.
func (d *Debugger) SetLineBreakpoint(n *core.Node, line uint32) (uint32, error) {
	for _, li := range n.Prototype().Lines {
		if li.Line == line {
			return li.Offset, d.SetBreakpoint(n, li.Offset)
		}
	}
	return 0, fmt.Errorf("debug: node %d: no code for line %d", n.ID(), line)
}

// ClearBreakpoint restores the instruction replaced at pc.
func (d *Debugger) ClearBreakpoint(n *core.Node, pc uint32) error {
	key := bpKey{n.ID(), pc}
	orig, ok := d.saved[key]
	if !ok {
		return fmt.Errorf("debug: node %d: no breakpoint at %d", n.ID(), pc)
	}
	if err := n.SetInstruction(pc, orig); err != nil {
		return err
	}
	delete(d.saved, key)
	return nil
}

// Breakpoints returns the number of planted breakpoints.
func (d *Debugger) Breakpoints() int { return len(d.saved) }

// Hits returns how often the breakpoint at pc on node has been reached.
func (d *Debugger) Hits(node, pc uint32) int { return d.hits[bpKey{node, pc}] }

// Breakpoint is called by the emulator on a DEBUG instruction. It reports
// the hit and hands back the instruction to execute in its place.
func (d *Debugger) Breakpoint(n *core.Node, pc uint32) (model.Instruction, error) {
	key := bpKey{n.ID(), pc}
	orig, ok := d.saved[key]
	if !ok {
		return model.Instruction{}, fmt.Errorf("no breakpoint recorded at node %d pc %d", n.ID(), pc)
	}
	d.hits[key]++
	if d.onBreak != nil {
		ev := Event{
			Node: n.ID(),
			PC:   pc,
			Line: n.Prototype().SourceLine(pc),
			Hits: d.hits[key],
		}
		if p := n.Current(); p != nil {
			ev.Process = p.Handle()
		}
		if err := d.onBreak(n, ev); err != nil {
			return model.Instruction{}, err
		}
	}
	return orig, nil
}
