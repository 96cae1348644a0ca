// core/profile.go
package core

import (
	"fmt"
	"io"

	"github.com/signalsfoundry/nodesim/model"
	"github.com/signalsfoundry/nodesim/timectrl"
)

// ProfileEntry is the time spent in one procedure of the profiled node.
type ProfileEntry struct {
	Name  string
	Ticks uint64
	Calls uint64
}

type profiler struct {
	node   uint32
	w      io.Writer
	names  []string
	procOf []int32
	ticks  []uint64
	calls  []uint64
	closed bool
	idle   uint64
}

// newProfiler maps every pc of n's program to the procedure whose ENTRY
// precedes it.
func newProfiler(n *Node, w io.Writer) *profiler {
	procs := len(n.proto.Procedures)
	p := &profiler{
		node:   n.id,
		w:      w,
		procOf: make([]int32, len(n.code)),
		ticks:  make([]uint64, procs),
		calls:  make([]uint64, procs),
		names:  make([]string, procs),
	}
	for i, proc := range n.proto.Procedures {
		p.names[i] = proc.Name
	}
	var cur int32
	for pc := 1; pc < len(n.code); pc++ {
		if ins := n.code[pc]; ins.Op == model.OpENTRY {
			cur = ins.Arg
		}
		p.procOf[pc] = cur
	}
	return p
}

func (p *profiler) charge(pc uint32, cost uint64) {
	if int(pc) < len(p.procOf) {
		if proc := p.procOf[pc]; proc > 0 && int(proc) < len(p.ticks) {
			p.ticks[proc] += cost
		}
	}
}

// closeProfile writes the profile table of n.
func (e *Emulator) closeProfile(n *Node) {
	p := e.profile
	p.closed = true
	p.idle = n.ticks
	for i := 1; i < len(p.ticks); i++ {
		p.idle -= min(p.idle, p.ticks[i])
	}
	if p.w == nil {
		return
	}

	pct := func(t uint64) float32 {
		if n.ticks == 0 {
			return 0
		}
		return float32(t) * 100 / float32(n.ticks)
	}
	fmt.Fprintf(p.w, "node %d\n  %%time      ticks       time      calls       name\n", n.id)
	for i := 1; i < len(p.ticks); i++ {
		fmt.Fprintf(p.w, "%6.2f%% %10d %10.6f %10d %10s\n", pct(p.ticks[i]), p.ticks[i],
			timectrl.TicksToTime(p.ticks[i]), p.calls[i], p.names[i])
	}
	fmt.Fprintf(p.w, "%6.2f%% %10d %10.6f %21s\n", pct(p.idle), p.idle, timectrl.TicksToTime(p.idle), "idle")
}

// Profile returns the per-procedure ticks and calls of the profiled node,
// with a final "idle" entry once the profile has been closed.
func (e *Emulator) Profile() []ProfileEntry {
	p := e.profile
	if p == nil {
		return nil
	}
	res := make([]ProfileEntry, 0, len(p.ticks))
	for i := 1; i < len(p.ticks); i++ {
		res = append(res, ProfileEntry{Name: p.names[i], Ticks: p.ticks[i], Calls: p.calls[i]})
	}
	if p.closed {
		res = append(res, ProfileEntry{Name: "idle", Ticks: p.idle})
	}
	return res
}
