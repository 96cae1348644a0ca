// core/process.go
package core

import "fmt"

// Status is the scheduling state of a process.
type Status int

const (
	Running Status = iota
	Waiting
	Delaying
	DMATransfer
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Delaying:
		return "delaying"
	case DMATransfer:
		return "dma"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Interrupt handler priorities. Processes created by programs run at 0.
const (
	PriorityProcess uint32 = 0
	PriorityPacket  uint32 = 1
	PriorityClock   uint32 = 3
)

// Process is a process control block. While a process is current its
// registers live in the owning node; the saved copies are refreshed by
// Reschedule.
type Process struct {
	node   *Node
	handle uint32

	pc, sp, fp uint32
	stack      []int32
	seg        uint32

	status   Status
	priority uint32
	dticks   uint32
	// sem is the address of the semaphore word a Waiting process blocks on.
	sem uint32

	next, prev *Process
}

func (p *Process) Handle() uint32   { return p.handle }
func (p *Process) Status() Status   { return p.status }
func (p *Process) Priority() uint32 { return p.priority }
func (p *Process) DelayTicks() uint32 {
	return p.dticks
}

// PC returns the process's program counter, live if it is current.
func (p *Process) PC() uint32 {
	if p.node != nil && p.node.current == p {
		return p.node.pc
	}
	return p.pc
}

// SP returns the process's stack pointer, live if it is current.
func (p *Process) SP() uint32 {
	if p.node != nil && p.node.current == p {
		return p.node.sp
	}
	return p.sp
}

// FP returns the process's frame pointer, live if it is current.
func (p *Process) FP() uint32 {
	if p.node != nil && p.node.current == p {
		return p.node.fp
	}
	return p.fp
}

// Stack returns the occupied stack words S[1..SP]. The slice aliases the
// process stack.
func (p *Process) Stack() []int32 {
	sp := p.SP()
	if int(sp) >= len(p.stack) {
		sp = uint32(len(p.stack) - 1)
	}
	return p.stack[1 : sp+1]
}

// StackBase is the address of the stack word S[0].
func (p *Process) StackBase() uint32 { return wordAddress(p.seg, 0) }

// Semaphore returns the address the process waits on, or 0.
func (p *Process) Semaphore() uint32 { return p.sem }

var transitions = map[Status][]Status{
	Running:     {Waiting, Delaying, DMATransfer},
	Waiting:     {Running},
	Delaying:    {Running},
	DMATransfer: {Running},
}

// setStatus is the only way a process changes state.
func (p *Process) setStatus(to Status) {
	if p.status == to {
		return
	}
	for _, allowed := range transitions[p.status] {
		if allowed == to {
			p.status = to
			if to != Waiting {
				p.sem = 0
			}
			return
		}
	}
	fatalf(CodeBadTransition, "process %d: illegal transition %s -> %s", p.handle, p.status, to)
}

func (p *Process) push(v int32) {
	if int(p.sp)+1 >= len(p.stack) {
		fatalf(CodeStackOverflow, "Stack overflow (%d)", len(p.stack))
	}
	p.sp++
	p.stack[p.sp] = v
}

// createProcess allocates a process running at pc with a stack of size
// words. The stack starts with a zero return address at S[1].
func (e *Emulator) createProcess(n *Node, pc, size, priority uint32) *Process {
	if n.nprocs >= e.cfg.MaxProcesses {
		fatalf(CodeTooManyProcesses, "Too many processes (%d)", e.cfg.MaxProcesses)
	}
	if size < 2 || size > SegmentWords {
		fatalf(CodeStackAlloc, "CreateProcess: unable to allocate stack (%d)", size)
	}
	p := &Process{
		node:     n,
		pc:       pc,
		stack:    make([]int32, size),
		status:   Running,
		priority: priority,
	}
	p.seg = n.mem.mapSegment(p.stack)
	if p.seg == 0 {
		fatalf(CodeStackAlloc, "CreateProcess: address space exhausted on node %d", n.id)
	}
	n.nextHandle++
	p.handle = n.nextHandle
	p.push(0)

	p.next = n.procs
	if n.procs != nil {
		n.procs.prev = p
	}
	n.procs = p
	n.nprocs++

	if !n.ptable.insert(p) {
		fatalf(CodeProcessTableFull, "Process hash table overflow (node=%d handle=%d size=%d)",
			n.id, p.handle, len(n.ptable.slots))
	}
	e.liveProcs++
	return p
}

// findProcess looks a process up by handle; a missing handle is fatal.
func (n *Node) findProcess(handle uint32) *Process {
	p := n.ptable.find(handle)
	if p == nil {
		fatalf(CodeProcessMissing, "Process missing in hash table node=%d handle=%d", n.id, handle)
	}
	return p
}

// deleteProcess unlinks and frees a process. The node's current process is
// cleared only when it is the one being deleted.
func (e *Emulator) deleteProcess(n *Node, handle uint32) {
	p := n.ptable.find(handle)
	if p == nil {
		fatalf(CodeUnknownProcess, "DeleteProcess: unknown process %d", handle)
	}
	if !n.ptable.remove(handle) {
		fatalf(CodeProcessMissing, "Process missing in hash table node=%d handle=%d", n.id, handle)
	}
	if p.prev != nil {
		p.prev.next = p.next
	}
	if p.next != nil {
		p.next.prev = p.prev
	}
	if n.procs == p {
		n.procs = p.next
	}
	p.next, p.prev = nil, nil
	n.mem.unmap(p.seg)
	n.nprocs--
	e.liveProcs--
	if n.current == p {
		n.current = nil
		n.stack = nil
	}
	p.node = nil
}

func processKey(p *Process) uint32 { return p.handle }
