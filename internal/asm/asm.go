package asm

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
	"github.com/pkg/errors"

	"github.com/signalsfoundry/nodesim/model"
	"github.com/signalsfoundry/nodesim/timectrl"
)

// Syscalls maps the names accepted by the sys macro to syscall numbers.
var Syscalls = map[string]int32{
	"sendpkt":       model.SysSendPkt,
	"delay":         model.SysDelay,
	"printf":        model.SysPrintf,
	"exit":          model.SysExit,
	"signal":        model.SysSignal,
	"wait":          model.SysWait,
	"tickrate":      model.SysTickrate,
	"putbyte":       model.SysPutByte,
	"putword":       model.SysPutWord,
	"readsdram":     model.SysReadSDRAM,
	"writesdram":    model.SysWriteSDRAM,
	"syncnodes":     model.SysSyncNodes,
	"getclk":        model.SysGetClk,
	"abs":           model.SysAbs,
	"fabs":          model.SysFabs,
	"createprocess": model.SysCreateProcess,
	"deleteprocess": model.SysDeleteProcess,
	"getbyte":       model.SysGetByte,
	"getword":       model.SysGetWord,
}

// ParseFile assembles the file at path. The prototype is named after the
// program directive, or after the file name without its extension.
func ParseFile(path string) (*model.Prototype, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "asm: read source")
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(name, src)
}

// Parse assembles src. name is used for diagnostics and as the default
// prototype name.
func Parse(name string, src []byte) (*model.Prototype, error) {
	if len(src) == 0 || src[len(src)-1] != '\n' {
		src = append(append([]byte(nil), src...), '\n')
	}
	ast, err := parser.ParseBytes(name, src)
	if err != nil {
		return nil, errors.Wrapf(err, "asm: parse %s", name)
	}

	a := newAssembler(name)
	if err := a.layout(ast.Stmts); err != nil {
		return nil, err
	}
	if err := a.emit(); err != nil {
		return nil, err
	}
	if err := a.p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "asm: %s", name)
	}
	return a.p, nil
}

// MustParse is Parse for programs embedded in Go code. It panics on error.
func MustParse(name, src string) *model.Prototype {
	p, err := Parse(name, []byte(src))
	if err != nil {
		panic(err)
	}
	return p
}

type varInfo struct {
	decl *varDecl
	pos  lexer.Position
}

type procState struct {
	index  int32
	pos    lexer.Position
	args   []varInfo
	locals []varInfo
	names  map[string]uint32
}

// item is an instruction waiting for its operands to be resolved.
type item struct {
	ins  *instr
	pos  lexer.Position
	proc *procState
	// entry marks the ENTRY instruction emitted by a proc line.
	entry bool
}

type assembler struct {
	source string
	p      *model.Prototype

	pc      uint32
	labels  map[string]uint32
	procs   map[string]*procState
	globals map[string]model.Symbol
	cur     *procState
	items   []item
	entry   string
}

func newAssembler(name string) *assembler {
	return &assembler{
		source: name,
		p: &model.Prototype{
			Name:       name,
			Code:       []model.Instruction{{}},
			Labels:     []uint32{0},
			Procedures: []model.Procedure{{}},
		},
		pc:      1,
		labels:  make(map[string]uint32),
		procs:   make(map[string]*procState),
		globals: make(map[string]model.Symbol),
		entry:   "main",
	}
}

func (a *assembler) errorf(pos lexer.Position, format string, args ...any) error {
	return errors.Errorf("asm: %s:%d: "+format, append([]any{a.source, pos.Line}, args...)...)
}

// layout assigns addresses to labels and instructions, offsets to
// variables and frames to procedures.
func (a *assembler) layout(stmts []*stmt) error {
	for _, s := range stmts {
		if s == nil {
			continue
		}
		var err error
		switch {
		case s.Program != nil:
			a.p.Name = *s.Program
		case s.Entry != nil:
			a.entry = *s.Entry
		case s.Proc != nil:
			err = a.beginProc(s.Proc, s.Pos)
		case s.End:
			err = a.endProc(s.Pos)
		case s.Var != nil:
			err = a.declare(s.Var, s.Pos)
		case s.Str != nil:
			err = a.declareString(s.Str, s.Pos)
		case s.Line != nil:
			a.p.Lines = append(a.p.Lines, model.LineInfo{Line: uint32(*s.Line), Offset: a.pc})
		case s.Label != nil:
			err = a.defineLabel(*s.Label, s.Pos)
		case s.Instr != nil:
			err = a.addInstr(s.Instr, s.Pos)
		}
		if err != nil {
			return err
		}
	}
	if a.cur != nil {
		return a.errorf(a.cur.pos, "proc %s has no end", a.p.Procedures[a.cur.index].Name)
	}
	return nil
}

func (a *assembler) defineLabel(name string, pos lexer.Position) error {
	if _, dup := a.labels[name]; dup {
		return a.errorf(pos, "label %s redefined", name)
	}
	a.p.Labels = append(a.p.Labels, a.pc)
	a.labels[name] = uint32(len(a.p.Labels) - 1)
	return nil
}

func (a *assembler) beginProc(d *procDecl, pos lexer.Position) error {
	if a.cur != nil {
		return a.errorf(pos, "proc %s inside proc %s", d.Name, a.p.Procedures[a.cur.index].Name)
	}
	if err := a.defineLabel(d.Name, pos); err != nil {
		return err
	}
	typ := model.VoidType
	switch d.Type {
	case "int":
		typ = model.IntType
	case "float":
		typ = model.FloatType
	}
	a.p.Procedures = append(a.p.Procedures, model.Procedure{
		Name:  d.Name,
		Type:  typ,
		Label: a.labels[d.Name],
	})
	a.cur = &procState{
		index: int32(len(a.p.Procedures) - 1),
		pos:   pos,
		names: make(map[string]uint32),
	}
	a.procs[d.Name] = a.cur
	a.items = append(a.items, item{pos: pos, proc: a.cur, entry: true})
	a.pc++
	return nil
}

// endProc places the arguments at FP+1.. in declaration order, followed by
// the locals.
func (a *assembler) endProc(pos lexer.Position) error {
	ps := a.cur
	if ps == nil {
		return a.errorf(pos, "end outside proc")
	}
	proc := &a.p.Procedures[ps.index]
	offset := uint32(1)
	for _, group := range [][]varInfo{ps.args, ps.locals} {
		for _, v := range group {
			sym, err := a.symbol(v.decl, v.pos)
			if err != nil {
				return err
			}
			if _, dup := ps.names[sym.Name]; dup {
				return a.errorf(v.pos, "%s redeclared in proc %s", sym.Name, proc.Name)
			}
			sym.Offset = offset
			offset += sym.Words()
			ps.names[sym.Name] = sym.Offset
			proc.Locals = append(proc.Locals, sym)
		}
	}
	proc.NArgs = uint32(len(ps.args))
	proc.Frame = offset - 1
	a.cur = nil
	return nil
}

func (a *assembler) symbol(d *varDecl, pos lexer.Position) (model.Symbol, error) {
	sym := model.Symbol{Name: d.Name, Type: model.IntType}
	if d.Type == "float" {
		sym.Type = model.FloatType
	}
	for _, dim := range d.Dims {
		v, err := strconv.ParseUint(dim, 0, 32)
		if err != nil || v == 0 {
			return sym, a.errorf(pos, "bad dimension %q of %s", dim, d.Name)
		}
		sym.Dims = append(sym.Dims, uint32(v))
	}
	return sym, nil
}

func (a *assembler) declare(d *varDecl, pos lexer.Position) error {
	switch d.Kind {
	case "arg", "local":
		if a.cur == nil {
			return a.errorf(pos, "%s %s outside proc", d.Kind, d.Name)
		}
		if len(d.Init) > 0 {
			return a.errorf(pos, "%s %s cannot be initialised", d.Kind, d.Name)
		}
		v := varInfo{decl: d, pos: pos}
		if d.Kind == "arg" {
			a.cur.args = append(a.cur.args, v)
		} else {
			a.cur.locals = append(a.cur.locals, v)
		}
		return nil
	}

	sym, err := a.symbol(d, pos)
	if err != nil {
		return err
	}
	init := make([]int32, sym.Words())
	if len(d.Init) > len(init) {
		return a.errorf(pos, "%d initialisers for %d words of %s", len(d.Init), len(init), d.Name)
	}
	for i, op := range d.Init {
		v, err := a.constant(op, sym.Type == model.FloatType)
		if err != nil {
			return err
		}
		init[i] = v
	}

	if d.Kind == "extern" {
		sym.Offset = uint32(len(a.p.ExternInit))
		a.p.Externals = append(a.p.Externals, sym)
		a.p.ExternInit = append(a.p.ExternInit, init...)
		return nil
	}
	return a.addGlobal(sym, init, pos)
}

// declareString stores a NUL-terminated string in the global vector, four
// bytes to a word, low byte first.
func (a *assembler) declareString(d *strDecl, pos lexer.Position) error {
	s, err := strconv.Unquote(d.Value)
	if err != nil {
		return a.errorf(pos, "bad string %s: %v", d.Value, err)
	}
	b := append([]byte(s), 0)
	words := make([]int32, (len(b)+model.WordSize-1)/model.WordSize)
	for i, c := range b {
		words[i/model.WordSize] |= int32(uint32(c) << (8 * (i % model.WordSize)))
	}
	sym := model.Symbol{Name: d.Name, Type: model.IntType, Dims: []uint32{uint32(len(words))}}
	return a.addGlobal(sym, words, pos)
}

func (a *assembler) addGlobal(sym model.Symbol, init []int32, pos lexer.Position) error {
	if _, dup := a.globals[sym.Name]; dup {
		return a.errorf(pos, "global %s redeclared", sym.Name)
	}
	sym.Offset = uint32(len(a.p.GlobalInit))
	a.globals[sym.Name] = sym
	a.p.Globals = append(a.p.Globals, sym)
	a.p.GlobalInit = append(a.p.GlobalInit, init...)
	return nil
}

func (a *assembler) addInstr(in *instr, pos lexer.Position) error {
	if a.cur == nil {
		return a.errorf(pos, "%s outside proc", in.Op)
	}
	a.items = append(a.items, item{ins: in, pos: pos, proc: a.cur})
	a.pc += size(in)
	return nil
}

// size returns the number of code words an instruction line occupies.
func size(in *instr) uint32 {
	switch strings.ToUpper(in.Op) {
	case "SYS":
		return 3
	case "SWITCHON":
		return 1 + uint32(len(in.Args))
	}
	return 1
}

// emit resolves operands and writes the code.
func (a *assembler) emit() error {
	for _, it := range a.items {
		if it.entry {
			a.code(model.OpENTRY, it.proc.index)
			continue
		}
		if err := a.emitInstr(it); err != nil {
			return err
		}
	}

	switch ps, ok := a.procs[a.entry]; {
	case ok:
		a.p.EntryPC = a.p.Labels[a.p.Procedures[ps.index].Label]
	case a.entry != "main":
		return errors.Errorf("asm: %s: entry procedure %s not found", a.source, a.entry)
	default:
		a.p.EntryPC = 1
	}
	return nil
}

func (a *assembler) code(op model.Opcode, arg int32) {
	a.p.Code = append(a.p.Code, model.Instruction{Op: op, Arg: arg})
}

func (a *assembler) emitInstr(it item) error {
	in := it.ins
	mnemonic := strings.ToUpper(in.Op)

	switch mnemonic {
	case "SYS":
		return a.emitSys(it)
	case "SWITCHON":
		return a.emitSwitch(it)
	}

	op, ok := model.ParseOpcode(mnemonic)
	if !ok || op == model.OpDATA {
		return a.errorf(it.pos, "unknown instruction %s", in.Op)
	}
	if op == model.OpENTRY {
		return a.errorf(it.pos, "ENTRY is generated by proc")
	}
	if len(in.Args) > 1 {
		return a.errorf(it.pos, "%s takes at most one operand", mnemonic)
	}
	var arg *operand
	if len(in.Args) == 1 {
		arg = in.Args[0]
	}

	var (
		v   int32
		err error
	)
	switch op {
	case model.OpLG, model.OpSG, model.OpLLG, model.OpLSTR, model.OpGBOUNDSCHECK:
		v, err = a.resolve(arg, func(name string) (int32, bool) {
			s, ok := a.globals[name]
			return int32(s.Offset), ok
		})
	case model.OpLP, model.OpSP, model.OpLLP, model.OpLBOUNDSCHECK:
		v, err = a.resolve(arg, func(name string) (int32, bool) {
			off, ok := it.proc.names[name]
			return int32(off), ok
		})
	case model.OpJT, model.OpJF, model.OpJUMP, model.OpRES, model.OpLLL:
		v, err = a.resolve(arg, a.label)
	case model.OpLN:
		if arg != nil && arg.Float != nil {
			v = timectrl.FloatToFixed(*arg.Float)
			break
		}
		v, err = a.resolve(arg, a.label)
	case model.OpRTRN:
		v = it.proc.index
		if arg != nil {
			v, err = a.resolve(arg, func(name string) (int32, bool) {
				ps, ok := a.procs[name]
				if !ok {
					return 0, false
				}
				return ps.index, true
			})
		}
	default:
		if arg != nil {
			v, err = a.constant(arg, false)
		}
	}
	if err != nil {
		return err
	}
	a.code(op, v)
	return nil
}

// emitSys expands "sys NAME NARGS" into LN NARGS, LN NUMBER, SYSCALL.
func (a *assembler) emitSys(it item) error {
	args := it.ins.Args
	if len(args) < 1 || len(args) > 2 || args[0].Name == nil {
		return a.errorf(it.pos, "usage: sys NAME [NARGS]")
	}
	num, ok := Syscalls[strings.ToLower(*args[0].Name)]
	if !ok {
		return a.errorf(it.pos, "unknown syscall %s", *args[0].Name)
	}
	var nargs int32
	if len(args) == 2 {
		var err error
		if nargs, err = a.constant(args[1], false); err != nil {
			return err
		}
	}
	a.code(model.OpLN, nargs)
	a.code(model.OpLN, num)
	a.code(model.OpSYSCALL, 0)
	return nil
}

// emitSwitch writes "SWITCHON DEFAULT V1 L1 V2 L2 ..." as the SWITCHON
// instruction followed by its table words.
func (a *assembler) emitSwitch(it item) error {
	args := it.ins.Args
	if len(args) == 0 || len(args)%2 == 0 {
		return a.errorf(it.pos, "usage: SWITCHON DEFAULT [VALUE LABEL]...")
	}
	def, err := a.resolve(args[0], a.label)
	if err != nil {
		return err
	}
	a.code(model.OpSWITCHON, int32(len(args)/2))
	a.code(model.OpDATA, def)
	for i := 1; i < len(args); i += 2 {
		v, err := a.constant(args[i], false)
		if err != nil {
			return err
		}
		l, err := a.resolve(args[i+1], a.label)
		if err != nil {
			return err
		}
		a.code(model.OpDATA, v)
		a.code(model.OpDATA, l)
	}
	return nil
}

func (a *assembler) label(name string) (int32, bool) {
	l, ok := a.labels[name]
	return int32(l), ok
}

// resolve turns an operand into a number: literals stand for themselves and
// names go through lookup. A missing operand is 0.
func (a *assembler) resolve(op *operand, lookup func(string) (int32, bool)) (int32, error) {
	if op == nil {
		return 0, nil
	}
	if op.Name != nil {
		v, ok := lookup(*op.Name)
		if !ok {
			return 0, a.errorf(op.Pos, "undefined name %s", *op.Name)
		}
		return v, nil
	}
	return a.constant(op, false)
}

// constant evaluates a literal. Integers assigned to float storage and all
// decimal literals become 16.16 fixed point.
func (a *assembler) constant(op *operand, float bool) (int32, error) {
	switch {
	case op.Float != nil:
		return timectrl.FloatToFixed(*op.Float), nil
	case op.Int != nil:
		v, err := strconv.ParseInt(*op.Int, 0, 64)
		if err != nil || v < -1<<31 || v > 1<<32-1 {
			return 0, a.errorf(op.Pos, "bad integer %s", *op.Int)
		}
		if float {
			return int32(v) * timectrl.FixedOne, nil
		}
		return int32(v), nil
	}
	return 0, a.errorf(op.Pos, "constant expected, found %s", *op.Name)
}
