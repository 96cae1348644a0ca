// core/node.go
package core

import (
	"fmt"

	"github.com/signalsfoundry/nodesim/model"
)

// prototype is a registered program image plus the number of live nodes
// cloned from it.
type prototype struct {
	*model.Prototype
	copies int
}

// Node is one simulated processor: a clone of a prototype with private
// global and external vectors, its own clock and its own processes.
type Node struct {
	id    uint32
	proto *prototype
	code  []model.Instruction

	ticks     uint64
	tickrate  uint64
	lastClock uint64

	// Live registers of the current process.
	pc, sp, fp uint32
	stack      []int32

	globals   []int32
	externals []int32
	vectors   []model.InterruptVector
	mem       addressSpace

	procs      *Process
	ptable     *table[Process]
	nprocs     int
	nextHandle uint32
	current    *Process

	dmaTicks uint32
	syncWait bool
	pktsTX   uint32
	pktsRX   uint32
	removed  bool

	// Time queue membership.
	prev, next *Node
	bucket     *bucket
}

func nodeKey(n *Node) uint32 { return n.id }

// newNode clones proto into a fresh node.
func newNode(id uint32, proto *prototype, vectors []model.InterruptVector, tickrate uint64, ptableSize int) (*Node, error) {
	if len(proto.GlobalInit) > SegmentWords {
		return nil, fmt.Errorf("node %d: global vector of %d words exceeds %d", id, len(proto.GlobalInit), SegmentWords)
	}
	n := &Node{
		id:        id,
		proto:     proto,
		code:      proto.Code,
		tickrate:  tickrate,
		pc:        proto.EntryPC,
		globals:   append([]int32(nil), proto.GlobalInit...),
		externals: append([]int32(nil), proto.ExternInit...),
		vectors:   append([]model.InterruptVector(nil), vectors...),
		ptable:    newTable(ptableSize, processKey),
	}
	if len(n.globals) == 0 {
		n.globals = make([]int32, 1)
	}
	n.mem = newAddressSpace(n.globals)
	return n, nil
}

func (n *Node) ID() uint32                  { return n.id }
func (n *Node) Prototype() *model.Prototype { return n.proto.Prototype }

// Clock returns the node's virtual time in ticks.
func (n *Node) Clock() uint64     { return n.ticks }
func (n *Node) Tickrate() uint64  { return n.tickrate }
func (n *Node) LastClock() uint64 { return n.lastClock }
func (n *Node) PC() uint32        { return n.pc }
func (n *Node) SP() uint32        { return n.sp }
func (n *Node) FP() uint32        { return n.fp }
func (n *Node) DMATicks() uint32  { return n.dmaTicks }

// Blocked reports whether the node waits at the synchronization barrier.
func (n *Node) Blocked() bool { return n.syncWait }

// Packets returns the number of packets sent and received.
func (n *Node) Packets() (tx, rx uint32) { return n.pktsTX, n.pktsRX }

// Globals returns the node's private global vector. The slice aliases node memory.
func (n *Node) Globals() []int32 { return n.globals }

// Externals returns the node's external (SDRAM) vector.
func (n *Node) Externals() []int32 { return n.externals }

// Current returns the process that owns the live registers, or nil.
func (n *Node) Current() *Process { return n.current }

// Processes lists the node's processes, most recently created first.
func (n *Node) Processes() []*Process {
	res := make([]*Process, 0, n.nprocs)
	for p := n.procs; p != nil; p = p.next {
		res = append(res, p)
	}
	return res
}

// Instruction returns the instruction at pc.
func (n *Node) Instruction(pc uint32) (model.Instruction, bool) {
	if pc < 1 || int(pc) >= len(n.code) {
		return model.Instruction{}, false
	}
	return n.code[pc], true
}

// SetInstruction patches the node's code, e.g. to plant a DEBUG breakpoint.
// The first patch gives the node a private copy of the prototype's code.
func (n *Node) SetInstruction(pc uint32, ins model.Instruction) error {
	if pc < 1 || int(pc) >= len(n.code) {
		return fmt.Errorf("node %d: pc %d out of range", n.id, pc)
	}
	if !ins.Op.Valid() {
		return fmt.Errorf("node %d: %w: %d", n.id, model.ErrInvalidInstruction, uint8(ins.Op))
	}
	if &n.code[0] == &n.proto.Code[0] {
		n.code = append([]model.Instruction(nil), n.code...)
	}
	n.code[pc] = ins
	return nil
}

// Word reads the word at a program address.
func (n *Node) Word(addr uint32) (int32, bool) { return n.mem.loadWord(addr) }

// GlobalAddress returns the program address of global word i.
func (n *Node) GlobalAddress(i uint32) uint32 { return wordAddress(globalSegment, i) }

func (n *Node) line(pc uint32) uint32 {
	if n.proto == nil {
		return 0
	}
	return n.proto.SourceLine(pc)
}

// saveCurrent copies the live registers into the current PCB.
func (n *Node) saveCurrent() {
	if p := n.current; p != nil {
		p.pc, p.sp, p.fp = n.pc, n.sp, n.fp
	}
}

// restore makes p current and loads its registers.
func (n *Node) restore(p *Process) {
	n.pc, n.sp, n.fp = p.pc, p.sp, p.fp
	n.stack = p.stack
	n.current = p
}

func (n *Node) push(v int32) {
	if int(n.sp)+1 >= len(n.stack) {
		fatalf(CodeStackOverflow, "Stack overflow (%d)", len(n.stack))
	}
	n.sp++
	n.stack[n.sp] = v
}

func (n *Node) pop() int32 {
	if n.sp < 1 {
		fatalf(CodeStackUnderflow, "Stack underflow")
	}
	n.sp--
	return n.stack[n.sp+1]
}

func (n *Node) top() int32 {
	return n.stack[n.sp]
}

func (n *Node) pushBool(b bool) {
	if b {
		n.push(1)
	} else {
		n.push(0)
	}
}

// slot returns the index of the frame-relative stack word FP+off.
func (n *Node) slot(off int32) uint32 {
	i := int64(n.fp) + int64(off)
	if i < 0 || i >= int64(len(n.stack)) {
		fatalf(CodeBadAddress, "stack slot %d out of range", i)
	}
	return uint32(i)
}

func (n *Node) global(off int32) uint32 {
	if off < 0 || int(off) >= len(n.globals) {
		fatalf(CodeBadAddress, "global %d out of range (%d)", off, len(n.globals))
	}
	return uint32(off)
}

func (n *Node) load(addr uint32) int32 {
	v, ok := n.mem.loadWord(addr)
	if !ok {
		fatalf(CodeBadAddress, "bad address %#x", addr)
	}
	return v
}

func (n *Node) store(addr uint32, v int32) {
	if !n.mem.storeWord(addr, v) {
		fatalf(CodeBadAddress, "bad address %#x", addr)
	}
}

func (n *Node) loadByte(addr uint32) byte {
	b, ok := n.mem.loadByte(addr)
	if !ok {
		fatalf(CodeBadAddress, "bad address %#x", addr)
	}
	return b
}

func (n *Node) storeByte(addr uint32, b byte) {
	if !n.mem.storeByte(addr, b) {
		fatalf(CodeBadAddress, "bad address %#x", addr)
	}
}

func (n *Node) stackAddress(i uint32) uint32 {
	if n.current == nil {
		return 0
	}
	return wordAddress(n.current.seg, i)
}

// label resolves a label number through the prototype's label table.
func (n *Node) label(lab int32) uint32 {
	labels := n.proto.Labels
	if lab < 1 || int(lab) >= len(labels) {
		fatalf(CodePCOutOfRange, "label %d out of range", lab)
	}
	return labels[lab]
}
