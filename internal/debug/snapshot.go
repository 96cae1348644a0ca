package debug

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/nodesim/core"
)

// Snapshot captures the registers, globals and processes of n as a
// protobuf Struct, the shape debugger front ends consume.
func Snapshot(n *core.Node) (*structpb.Struct, error) {
	procs := make([]any, 0, len(n.Processes()))
	for _, p := range n.Processes() {
		procs = append(procs, map[string]any{
			"handle":    p.Handle(),
			"status":    p.Status().String(),
			"priority":  p.Priority(),
			"pc":        p.PC(),
			"sp":        p.SP(),
			"fp":        p.FP(),
			"delay":     p.DelayTicks(),
			"semaphore": p.Semaphore(),
			"stack":     words(p.Stack()),
		})
	}

	tx, rx := n.Packets()
	fields := map[string]any{
		"node":       n.ID(),
		"prototype":  n.Prototype().Name,
		"ticks":      n.Clock(),
		"tickrate":   n.Tickrate(),
		"last_clock": n.LastClock(),
		"pc":         n.PC(),
		"sp":         n.SP(),
		"fp":         n.FP(),
		"line":       n.Prototype().SourceLine(n.PC()),
		"dma_ticks":  n.DMATicks(),
		"blocked":    n.Blocked(),
		"pkts_tx":    tx,
		"pkts_rx":    rx,
		"globals":    globals(n),
		"processes":  procs,
	}
	if p := n.Current(); p != nil {
		fields["current"] = p.Handle()
	}
	return structpb.NewStruct(fields)
}

// MarshalSnapshot returns Snapshot(n) as JSON.
func MarshalSnapshot(n *core.Node) ([]byte, error) {
	s, err := Snapshot(n)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(s)
}

// globals names every declared global; arrays become lists.
func globals(n *core.Node) map[string]any {
	g := n.Globals()
	res := make(map[string]any, len(n.Prototype().Globals))
	for _, sym := range n.Prototype().Globals {
		end := sym.Offset + sym.Words()
		if int(end) > len(g) {
			continue
		}
		if len(sym.Dims) == 0 {
			res[sym.Name] = g[sym.Offset]
			continue
		}
		res[sym.Name] = words(g[sym.Offset:end])
	}
	return res
}

func words(ws []int32) []any {
	res := make([]any, len(ws))
	for i, w := range ws {
		res[i] = w
	}
	return res
}
