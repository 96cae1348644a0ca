// core/interpreter.go
package core

import (
	"github.com/signalsfoundry/nodesim/model"
)

// execute runs one instruction on the current process of n. It reports
// whether n was removed from the simulation.
func (e *Emulator) execute(n *Node, ins model.Instruction) (removed bool) {
	op, arg := ins.Op, ins.Arg

	switch op {
	case model.OpLG:
		n.push(n.globals[n.global(arg)])
		n.pc++

	case model.OpLP:
		n.push(n.stack[n.slot(arg)])
		n.pc++

	case model.OpRV:
		addr := uint32(n.pop())
		n.push(n.load(addr))
		n.pc++

	case model.OpLLP:
		n.push(int32(n.stackAddress(n.slot(arg))))
		n.pc++

	case model.OpLSTR, model.OpLLG:
		n.push(int32(wordAddress(globalSegment, n.global(arg))))
		n.pc++

	case model.OpLLL:
		n.push(int32(n.label(arg)))
		n.pc++

	case model.OpSTIND:
		addr := uint32(n.pop())
		v := n.pop()
		n.store(addr, v)
		n.pc++

	case model.OpSG:
		i := n.global(arg)
		n.globals[i] = n.pop()
		n.pc++

	case model.OpSP:
		i := n.slot(arg)
		n.stack[i] = n.pop()
		n.pc++

	case model.OpLN:
		n.push(arg)
		n.pc++

	case model.OpPUSHTOS:
		n.push(n.top())
		n.pc++

	case model.OpSWAP:
		x := n.pop()
		y := n.pop()
		n.push(x)
		n.push(y)
		n.pc++

	case model.OpVCOPY:
		src := uint32(n.pop())
		dst := uint32(n.pop())
		if arg < 0 || !n.mem.copyBytes(dst, src, uint32(arg)) {
			fatalf(CodeBadAddress, "VCOPY %d bytes %#x -> %#x", arg, src, dst)
		}
		n.pc++

	case model.OpEQ, model.OpNE, model.OpLS, model.OpGR, model.OpLE, model.OpGE,
		model.OpOR, model.OpAND, model.OpPLUS, model.OpMINUS, model.OpMULT,
		model.OpMULTF, model.OpDIV, model.OpDIVF, model.OpREM,
		model.OpLOGAND, model.OpLOGOR, model.OpNEQV, model.OpLSHIFT, model.OpRSHIFT:
		e.dyadic(n, op)
		n.pc++

	case model.OpNEG, model.OpNOT, model.OpCOMP, model.OpFLOAT, model.OpINT, model.OpABS:
		e.monadic(n, op)
		n.pc++

	case model.OpJT:
		if n.pop() != 0 {
			n.pc = n.label(arg)
		} else {
			n.pc++
		}

	case model.OpJF:
		if n.pop() != 0 {
			n.pc++
		} else {
			n.pc = n.label(arg)
		}

	case model.OpSWITCHON:
		e.switchOn(n, arg)

	case model.OpRES, model.OpJUMP:
		n.pc = n.label(arg)

	case model.OpENTRY:
		e.entry(n, arg)

	case model.OpFNAP, model.OpRTAP:
		lab := n.pop()
		n.push(int32(n.pc + 1))
		n.pc = n.label(lab)

	case model.OpRTRN:
		e.rtrn(n, arg)

	case model.OpLBOUNDSCHECK, model.OpGBOUNDSCHECK:
		hi := uint32(n.pop())
		lo := uint32(n.pop())
		hi += lo
		if addr := uint32(n.top()); addr < lo || addr >= hi {
			var name string
			if op == model.OpLBOUNDSCHECK {
				name = n.proto.LocalName(n.pc, uint32(arg))
			} else {
				name = n.proto.GlobalName(uint32(arg))
			}
			fatalf(CodeArrayBound, "array bound %s[%d]", name, int32(addr-lo)/model.WordSize)
		}
		n.pc++

	case model.OpDEBUG:
		if e.hook == nil {
			fatalf(CodeNoDebugger, "DEBUG at %d without a debugger", n.pc)
		}
		orig, err := e.hook.Breakpoint(n, n.pc)
		if err != nil {
			fatalf(CodeNoDebugger, "debugger: %v", err)
		}
		if orig.Op == model.OpDEBUG {
			fatalf(CodeNoDebugger, "debugger returned a breakpoint at %d", n.pc)
		}
		// DEBUG itself is free; charge the replaced instruction.
		cost := orig.Op.Cost()
		n.ticks += cost
		e.stats.ProcessingTicks += cost
		e.unflushedTicks += cost
		return e.execute(n, orig)

	case model.OpDISCARD:
		n.pop()
		n.pc++

	case model.OpSTACK, model.OpQUERY, model.OpSTORE, model.OpSAVE, model.OpRSTACK, model.OpLAB:
		n.pc++

	case model.OpSYSCALL:
		return e.syscall(n)

	default:
		fatalf(CodeUnknownInstruction, "Execute: unknown instruction (%d) at %d", uint8(op), n.pc)
	}
	return false
}

// switchOn jumps on the popped value. The next instruction's argument is the
// default label, followed by count (value, label) argument pairs.
func (e *Emulator) switchOn(n *Node, count int32) {
	x := n.pop()
	next := func() int32 {
		n.pc++
		ins, ok := n.Instruction(n.pc)
		if !ok {
			fatalf(CodePCOutOfRange, "SWITCHON table runs past end of program")
		}
		return ins.Arg
	}
	def := next()
	var lab int32
	for i := int32(0); i < count; i++ {
		v := next()
		l := next()
		if x == v {
			lab = l
			break
		}
	}
	switch {
	case lab != 0:
		n.pc = n.label(lab)
	case def != 0:
		n.pc = n.label(def)
	default:
		n.pc++
	}
}

// entry builds the frame of procedure p: the arguments already on the stack
// become FP+1..FP+nArgs, locals are zeroed and the return address and old
// frame pointer are saved above the frame.
func (e *Emulator) entry(n *Node, p int32) {
	proc := &n.proto.Procedures[p]
	oldFP := n.fp
	ret := n.pop()
	if n.sp < proc.NArgs {
		fatalf(CodeStackUnderflow, "Stack underflow")
	}
	n.fp = n.sp - proc.NArgs

	if e.profile != nil && e.profile.node == n.id {
		e.profile.calls[p]++
	}

	for i := int(proc.NArgs); i < len(proc.Locals); i++ {
		local := proc.Locals[i]
		base := int64(n.fp) + int64(local.Offset)
		size := int64(local.Words())
		if base < 0 || base+size > int64(len(n.stack)) {
			fatalf(CodeStackOverflow, "Stack overflow (%d)", len(n.stack))
		}
		clear(n.stack[base : base+size])
	}

	n.sp = n.fp + proc.Frame
	n.push(ret)
	n.push(int32(oldFP))
	n.pc++
}

// rtrn unwinds the frame of procedure p. Returning to address 0 ends the
// process.
func (e *Emulator) rtrn(n *Node, p int32) {
	proc := &n.proto.Procedures[p]
	var result int32
	if proc.Type != model.VoidType {
		result = n.pop()
	}
	n.fp = uint32(n.pop())
	ret := uint32(n.pop())
	if n.sp < proc.Frame {
		fatalf(CodeStackUnderflow, "Stack underflow")
	}
	n.sp -= proc.Frame
	if proc.Type != model.VoidType {
		n.push(result)
	}
	n.pc = ret
	if ret == 0 {
		e.deleteProcess(n, n.current.handle)
		e.Reschedule(n)
	}
}
