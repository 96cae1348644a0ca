package model

import (
	"errors"
	"fmt"
)

// WordSize is the number of bytes in one machine word.
const WordSize = 4

// VarType is the declared type of a variable or procedure result.
type VarType int

const (
	VoidType VarType = iota
	IntType
	FloatType
)

func (t VarType) String() string {
	switch t {
	case IntType:
		return "int"
	case FloatType:
		return "float"
	default:
		return "void"
	}
}

// Instruction is one (opcode, argument) pair of the instruction store.
type Instruction struct {
	Op  Opcode
	Arg int32
}

func (i Instruction) String() string {
	return fmt.Sprintf("%s %d", i.Op, i.Arg)
}

// Symbol names a variable slot: a global offset or a frame-relative local.
type Symbol struct {
	Name   string
	Type   VarType
	Offset uint32
	// Dims holds the array dimensions; empty for scalars.
	Dims []uint32
}

// Words returns the number of words the symbol occupies.
func (s Symbol) Words() uint32 {
	size := uint32(1)
	for _, d := range s.Dims {
		size *= d
	}
	return size
}

// Procedure describes one compiled procedure.
type Procedure struct {
	Name  string
	Type  VarType
	NArgs uint32
	// Label is the label number of the procedure's entry point.
	Label uint32
	// Frame is the number of words reserved above FP for arguments and locals.
	Frame uint32
	// Locals lists the arguments first, then the declared locals.
	Locals []Symbol
}

// InterruptVector maps an interrupt source node (0 for the periodic clock) to
// the instruction address of its handler.
type InterruptVector struct {
	Source  uint32
	Address uint32
}

// LineInfo maps the first code offset of a source line.
type LineInfo struct {
	Line   uint32
	Offset uint32
}

// Prototype is the immutable program image shared by all nodes cloned from it.
// Code, Labels and Procedures are indexed from 1; index 0 is a placeholder so
// that a program counter or label of 0 can act as a sentinel.
type Prototype struct {
	Name       string
	Code       []Instruction
	Labels     []uint32
	Procedures []Procedure
	Globals    []Symbol
	Externals  []Symbol
	GlobalInit []int32
	ExternInit []int32
	Lines      []LineInfo
	EntryPC    uint32
}

var (
	// ErrEmptyProgram is returned when a prototype has no instructions.
	ErrEmptyProgram = errors.New("program has no instructions")
	// ErrInvalidInstruction is returned for an unknown opcode.
	ErrInvalidInstruction = errors.New("invalid instruction")
	// ErrInvalidLabel is returned when a label refers outside the program.
	ErrInvalidLabel = errors.New("label out of range")
	// ErrInvalidProcedure is returned for an inconsistent procedure entry.
	ErrInvalidProcedure = errors.New("invalid procedure")
)

// ProgramSize returns the number of real instructions.
func (p *Prototype) ProgramSize() uint32 {
	if len(p.Code) == 0 {
		return 0
	}
	return uint32(len(p.Code) - 1)
}

// Validate checks that every opcode is known and every static reference
// resolves, so the interpreter never meets an undecodable instruction.
func (p *Prototype) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("prototype: empty name")
	}
	size := p.ProgramSize()
	if size == 0 {
		return fmt.Errorf("prototype %q: %w", p.Name, ErrEmptyProgram)
	}
	if p.EntryPC < 1 || p.EntryPC > size {
		return fmt.Errorf("prototype %q: entry %d: %w", p.Name, p.EntryPC, ErrInvalidLabel)
	}
	for i, lab := range p.Labels {
		if i == 0 {
			continue
		}
		if lab > size {
			return fmt.Errorf("prototype %q: label %d -> %d: %w", p.Name, i, lab, ErrInvalidLabel)
		}
	}
	for i := 1; i < len(p.Procedures); i++ {
		proc := p.Procedures[i]
		if proc.NArgs > uint32(len(proc.Locals)) {
			return fmt.Errorf("prototype %q: procedure %q declares %d args but %d slots: %w",
				p.Name, proc.Name, proc.NArgs, len(proc.Locals), ErrInvalidProcedure)
		}
	}
	for pc := 1; pc < len(p.Code); pc++ {
		ins := p.Code[pc]
		if !ins.Op.Valid() {
			return fmt.Errorf("prototype %q: pc %d opcode %d: %w", p.Name, pc, uint8(ins.Op), ErrInvalidInstruction)
		}
		switch ins.Op {
		case OpENTRY, OpRTRN:
			if ins.Arg < 1 || int(ins.Arg) >= len(p.Procedures) {
				return fmt.Errorf("prototype %q: pc %d %s %d: %w", p.Name, pc, ins.Op, ins.Arg, ErrInvalidProcedure)
			}
		case OpJT, OpJF, OpJUMP, OpRES, OpLLL:
			if ins.Arg < 1 || int(ins.Arg) >= len(p.Labels) {
				return fmt.Errorf("prototype %q: pc %d %s %d: %w", p.Name, pc, ins.Op, ins.Arg, ErrInvalidLabel)
			}
		}
	}
	return nil
}

// ProcedureAt returns the index of the procedure whose ENTRY most recently
// precedes pc, or 0 when pc lies before any procedure.
func (p *Prototype) ProcedureAt(pc uint32) uint32 {
	if int(pc) >= len(p.Code) {
		pc = p.ProgramSize()
	}
	for ; pc > 0; pc-- {
		if p.Code[pc].Op == OpENTRY {
			return uint32(p.Code[pc].Arg)
		}
	}
	return 0
}

// LocalName resolves a frame offset to a variable name of the procedure
// executing at pc.
func (p *Prototype) LocalName(pc, offset uint32) string {
	idx := p.ProcedureAt(pc)
	if idx == 0 || int(idx) >= len(p.Procedures) {
		return ""
	}
	for _, s := range p.Procedures[idx].Locals {
		if s.Offset == offset {
			return s.Name
		}
	}
	return ""
}

// GlobalName resolves a global vector offset to a variable name.
func (p *Prototype) GlobalName(offset uint32) string {
	for _, s := range p.Globals {
		if s.Offset == offset {
			return s.Name
		}
	}
	return ""
}

// GlobalSymbol looks a global up by name.
func (p *Prototype) GlobalSymbol(name string) (Symbol, bool) {
	for _, s := range p.Globals {
		if s.Name == name {
			return s, true
		}
	}
	return Symbol{}, false
}

// SourceLine maps a code offset to the source line that produced it, or 0.
func (p *Prototype) SourceLine(pc uint32) uint32 {
	var line uint32
	for _, li := range p.Lines {
		if li.Offset > pc {
			break
		}
		line = li.Line
	}
	return line
}
