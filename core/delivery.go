// core/delivery.go
package core

import (
	"fmt"

	"github.com/signalsfoundry/nodesim/internal/logging"
	"github.com/signalsfoundry/nodesim/timectrl"
)

// Interrupt sources are encoded as node<<PortBits | port; 0 is the clock.
const (
	PortBits = 11
	MaxPort  = 1<<PortBits - 1
)

// EncodeSource packs a source node and port into an interrupt number.
func EncodeSource(node, port uint32) uint32 { return node<<PortBits | port }

// DecodeSource splits an interrupt number into node and port.
func DecodeSource(src uint32) (node, port uint32) { return src >> PortBits, src & MaxPort }

// SendPkt delivers value from source on port to every linked destination
// that exists and is not waiting at the barrier. A source without links
// drops the packet silently.
func (e *Emulator) SendPkt(source *Node, port uint32, value int32) {
	if port > MaxPort {
		fatalf(CodeInvalidPort, "Invalid port (%d)", port)
	}
	dsts := e.topo.Destinations(source.id)
	if dsts == nil {
		return
	}
	encoded := EncodeSource(source.id, port)
	for _, id := range dsts {
		d := e.FindNode(id)
		if d == nil || d.syncWait {
			continue
		}
		e.Interrupt(d, encoded, value)
		e.Reschedule(d)
		e.metrics.IncPacket()
		if e.cfg.Monitor {
			e.timestamp(source)
			fmt.Fprintf(e.out, " %d->%d port %d [%d] Rx:%d\n", source.id, d.id, port, value, source.ticks)
		}
	}
	source.pktsTX++
}

// Interrupt starts a handler process on dest for the encoded source. A
// packet arriving at an idle node whose clock is ahead of the sender rewinds
// that clock to the sender's, so the handler never runs before the send.
func (e *Emulator) Interrupt(dest *Node, encoded uint32, value int32) {
	node, port := DecodeSource(encoded)
	priority := PriorityPacket
	if node == 0 {
		priority = PriorityClock
	}

	for _, v := range dest.vectors {
		if v.Source != node {
			continue
		}
		if encoded != 0 && dest.current == nil && e.current != nil && e.current.ticks < dest.ticks {
			e.log.Debug(e.ctx, "clock rewound",
				logging.Uint32("node", dest.id),
				logging.Uint64("ticks", dest.ticks-e.current.ticks))
			dest.ticks = e.current.ticks
			e.queue.reorder(dest)
			e.stats.Rewinds++
			e.metrics.IncRewind()
		}
		p := e.createProcess(dest, v.Address, e.cfg.StackSize, priority)
		p.push(int32(node))
		p.push(int32(port))
		p.push(value)
		p.push(int32(dest.ticks))
		p.push(0)
		if node != 0 {
			dest.pktsRX++
		}
		e.stats.Interrupts++
		e.metrics.IncInterrupt(node == 0)
		return
	}

	if node != 0 {
		fatalf(CodeUnknownInterrupt, "Interrupt: unknown interrupt %d", node)
	}
}

// timestamp prefixes program output with the node's time when enabled.
func (e *Emulator) timestamp(n *Node) {
	if e.cfg.TimeStamps {
		fmt.Fprintf(e.out, "%f: ", timectrl.TicksToTime(n.ticks))
	}
}
