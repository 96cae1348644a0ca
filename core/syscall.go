// core/syscall.go
package core

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/nodesim/internal/cfmt"
	"github.com/signalsfoundry/nodesim/internal/logging"
	"github.com/signalsfoundry/nodesim/model"
	"github.com/signalsfoundry/nodesim/timectrl"
)

// syscall executes a SYSCALL instruction. The stack holds the arguments,
// then the argument count, then the call number on top.
func (e *Emulator) syscall(n *Node) (removed bool) {
	num := n.pop()
	nArgs := n.pop()
	if nArgs < 0 || uint32(nArgs) > n.sp {
		fatalf(CodeStackUnderflow, "Stack underflow")
	}
	args := make([]int32, nArgs)
	for i := nArgs - 1; i >= 0; i-- {
		args[i] = n.pop()
	}
	// arg returns the i-th argument, counting from 1; missing ones read as 0.
	arg := func(i int) int32 {
		if i < 1 || i > len(args) {
			return 0
		}
		return args[i-1]
	}

	switch num {
	case model.SysSendPkt:
		e.updateLogs(n, false)
		n.pc++
		e.SendPkt(n, uint32(arg(1)), arg(2))

	case model.SysDelay:
		n.current.dticks = timectrl.DelayTicks(arg(1), n.tickrate)
		n.current.setStatus(Delaying)
		n.pc++
		e.Reschedule(n)

	case model.SysPrintf:
		e.timestamp(n)
		fmt.Fprintf(e.out, "%d   ", n.id)
		format, ok := n.mem.cString(uint32(arg(1)))
		if !ok {
			fatalf(CodeBadAddress, "printf: bad format address %#x", uint32(arg(1)))
		}
		var rest []int32
		if len(args) > 1 {
			rest = args[1:]
		}
		if err := cfmt.Fprintf(e.out, format, rest, n.cString); err != nil {
			fatalf(CodeBadAddress, "printf: %v", err)
		}
		n.pc++

	case model.SysExit:
		fmt.Fprintf(e.out, "Node (%d) Exit %d\n", n.id, arg(1))
		for n.procs != nil {
			e.deleteProcess(n, n.procs.handle)
		}
		e.deleteNode(n, arg(1))
		return true

	case model.SysSignal:
		addr := uint32(arg(1))
		n.store(addr, n.load(addr)+1)
		n.pc++
		e.Reschedule(n)

	case model.SysWait:
		addr := uint32(arg(1))
		n.pc++
		if v := n.load(addr); v > 0 {
			n.store(addr, v-1)
		} else {
			n.current.setStatus(Waiting)
			n.current.sem = addr
			e.Reschedule(n)
		}

	case model.SysTickrate:
		rate, err := timectrl.TickrateFor(arg(1))
		if err != nil {
			fatalf(CodeBadTickrate, "tickrate: %v", err)
		}
		n.tickrate = rate
		n.pc++

	case model.SysPutByte:
		n.storeByte(uint32(arg(1))+uint32(arg(2)), byte(arg(3)))
		n.pc++

	case model.SysPutWord:
		n.store(uint32(arg(1))+uint32(arg(2))*model.WordSize, arg(3))
		n.pc++

	case model.SysReadSDRAM, model.SysWriteSDRAM:
		e.sdram(n, num == model.SysWriteSDRAM, arg(1), uint32(arg(2)), arg(3))

	case model.SysSyncNodes:
		n.pc++
		n.syncWait = true
		e.SyncNodes(n)

	case model.SysGetClk:
		n.push(timectrl.FixedClock(n.ticks))
		n.pc++

	case model.SysAbs, model.SysFabs:
		v := arg(1)
		if v < 0 {
			v = -v
		}
		n.push(v)
		n.pc++

	case model.SysCreateProcess:
		p := e.createProcess(n, uint32(arg(1)), uint32(arg(2)), PriorityProcess)
		if len(args) > 2 {
			for _, v := range args[2:] {
				p.push(v)
			}
			p.push(0)
		}
		n.push(int32(p.handle))
		n.pc++

	case model.SysDeleteProcess:
		e.deleteProcess(n, uint32(arg(1)))
		n.pc++
		e.Reschedule(n)

	case model.SysGetByte:
		n.push(int32(n.loadByte(uint32(arg(1)) + uint32(arg(2)))))
		n.pc++

	case model.SysGetWord:
		n.push(n.load(uint32(arg(1)) + uint32(arg(2))*model.WordSize))
		n.pc++

	default:
		fatalf(CodeUnknownInstruction, "Execute: unknown syscall (%d) at %d", num, n.pc)
	}
	return false
}

// sdram copies count words between the external vector, starting at byte
// offset extOffset, and node memory at addr. The calling process then waits
// one main-loop iteration per word.
func (e *Emulator) sdram(n *Node, write bool, extOffset int32, addr uint32, count int32) {
	name := "readsdram"
	if write {
		name = "writesdram"
	}
	base := int64(extOffset) / model.WordSize
	last := base + int64(count) - 1
	if extOffset < 0 || count < 0 || last > int64(len(n.externals))-1 {
		fatalf(CodeSDRAMBounds, "%s bounds error (%d:%d)", name, last, len(n.externals)-1)
	}
	for i := int64(0); i < int64(count); i++ {
		a := addr + uint32(i)*model.WordSize
		if write {
			n.externals[base+i] = n.load(a)
		} else {
			n.store(a, n.externals[base+i])
		}
	}
	n.dmaTicks = uint32(count)
	n.current.setStatus(DMATransfer)
	n.pc++
	e.Reschedule(n)
}

func (n *Node) cString(addr int32) (string, error) {
	s, ok := n.mem.cString(uint32(addr))
	if !ok {
		return s, fmt.Errorf("bad string address %#x", uint32(addr))
	}
	return s, nil
}

// deleteNode retires n after its exit call.
func (e *Emulator) deleteNode(n *Node, code int32) {
	if e.profile != nil && e.profile.node == n.id {
		e.closeProfile(n)
	}
	e.nodes.remove(n.id)
	if n.pktsTX > 0 || n.pktsRX > 0 {
		fmt.Fprintf(e.out, "Node=%d TxPkts=%d RxPkts=%d\n", n.id, n.pktsTX, n.pktsRX)
	}
	e.stats.TotalTicks += n.ticks
	e.queue.remove(n)
	n.removed = true
	n.current = nil
	n.stack = nil

	n.proto.copies--
	if n.proto.copies == 0 {
		delete(e.prototypes, n.proto.Name)
	}
	e.liveNodes--
	// Everyone still alive may already be waiting at the barrier.
	if e.syncCount > 0 && e.syncCount >= e.liveNodes {
		e.releaseBarrier(n)
	}

	e.log.Info(e.ctx, "node exited",
		logging.Uint32("node", n.id),
		logging.Int("code", int(code)),
		logging.Uint64("ticks", n.ticks))
	e.span.AddEvent("node.exit", trace.WithAttributes(
		attribute.Int64("node", int64(n.id)),
		attribute.Int64("code", int64(code)),
	))
	e.metrics.SetLive(e.liveNodes, e.liveProcs)
}
