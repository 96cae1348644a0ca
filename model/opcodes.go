package model

import (
	"fmt"
	"strings"
)

// Opcode identifies a bytecode instruction. The numbering is shared with the
// compiler that emits the programs and must not change.
type Opcode uint8

const (
	// OpDATA marks the words of a SWITCHON table. It is never executed.
	OpDATA         Opcode = 0
	OpLG           Opcode = 1
	OpLP           Opcode = 2
	OpLN           Opcode = 3
	OpLSTR         Opcode = 4
	OpLL           Opcode = 5 // reserved, never emitted
	OpLLG          Opcode = 6
	OpLLP          Opcode = 7
	OpLLL          Opcode = 8
	OpEQ           Opcode = 9
	OpNE           Opcode = 10
	OpLS           Opcode = 11
	OpGR           Opcode = 12
	OpLE           Opcode = 13
	OpGE           Opcode = 14
	OpJT           Opcode = 15
	OpJF           Opcode = 16
	OpJUMP         Opcode = 17
	OpOR           Opcode = 18
	OpAND          Opcode = 19
	OpPLUS         Opcode = 20
	OpMINUS        Opcode = 21
	OpMULT         Opcode = 22
	OpMULTF        Opcode = 23
	OpDIV          Opcode = 24
	OpDIVF         Opcode = 25
	OpREM          Opcode = 26
	OpNEG          Opcode = 27
	OpNOT          Opcode = 28
	OpABS          Opcode = 29
	OpSG           Opcode = 30
	OpSP           Opcode = 31
	OpSL           Opcode = 32 // reserved, never emitted
	OpSYSCALL      Opcode = 33
	OpLOGAND       Opcode = 34
	OpLOGOR        Opcode = 35
	OpNEQV         Opcode = 36
	OpLSHIFT       Opcode = 37
	OpRSHIFT       Opcode = 38
	OpCOMP         Opcode = 39
	OpSWITCHON     Opcode = 40
	OpFNAP         Opcode = 41
	OpRTAP         Opcode = 42
	OpRTRN         Opcode = 43
	OpENTRY        Opcode = 44
	OpRV           Opcode = 45
	OpSTIND        Opcode = 46
	OpPUSHTOS      Opcode = 47
	OpVCOPY        Opcode = 48
	OpFLOAT        Opcode = 49
	OpINT          Opcode = 50
	OpSWAP         Opcode = 51
	OpDEBUG        Opcode = 52
	OpLBOUNDSCHECK Opcode = 53
	OpGBOUNDSCHECK Opcode = 54

	// Pseudo instructions kept by the compiler for its own bookkeeping.
	OpSTACK   Opcode = 60
	OpQUERY   Opcode = 61
	OpSTORE   Opcode = 62
	OpSAVE    Opcode = 63
	OpRES     Opcode = 64
	OpRSTACK  Opcode = 65
	OpLAB     Opcode = 66
	OpDISCARD Opcode = 67
)

type opInfo struct {
	name string
	cost uint64
}

var opTable = map[Opcode]opInfo{
	OpDATA: {"DATA", 0},
	OpLG: {"LG", 1}, OpLP: {"LP", 1}, OpLN: {"LN", 1}, OpLSTR: {"LSTR", 1},
	OpLLG: {"LLG", 1}, OpLLP: {"LLP", 1}, OpLLL: {"LLL", 1},
	OpEQ: {"EQ", 1}, OpNE: {"NE", 1}, OpLS: {"LS", 1}, OpGR: {"GR", 1},
	OpLE: {"LE", 1}, OpGE: {"GE", 1}, OpJT: {"JT", 1}, OpJF: {"JF", 1},
	OpJUMP: {"JUMP", 1}, OpOR: {"OR", 1}, OpAND: {"AND", 1}, OpPLUS: {"PLUS", 1},
	OpMINUS: {"MINUS", 1}, OpMULT: {"MULT", 1}, OpMULTF: {"MULTF", 11},
	OpDIV: {"DIV", 57}, OpDIVF: {"DIVF", 129}, OpREM: {"REM", 57},
	OpNEG: {"NEG", 1}, OpNOT: {"NOT", 1}, OpABS: {"ABS", 1}, OpSG: {"SG", 1},
	OpSP: {"SP", 1}, OpSYSCALL: {"SYSCALL", 1},
	OpLOGAND: {"LOGAND", 1}, OpLOGOR: {"LOGOR", 1}, OpNEQV: {"NEQV", 1},
	OpLSHIFT: {"LSHIFT", 1}, OpRSHIFT: {"RSHIFT", 1}, OpCOMP: {"COMP", 1},
	OpSWITCHON: {"SWITCHON", 1}, OpFNAP: {"FNAP", 0}, OpRTAP: {"RTAP", 0},
	OpRTRN: {"RTRN", 1}, OpENTRY: {"ENTRY", 1}, OpRV: {"RV", 1},
	OpSTIND: {"STIND", 1}, OpPUSHTOS: {"PUSHTOS", 1}, OpVCOPY: {"VCOPY", 1},
	OpFLOAT: {"FLOAT", 1}, OpINT: {"INT", 1}, OpSWAP: {"SWAP", 1},
	OpDEBUG: {"DEBUG", 0}, OpLBOUNDSCHECK: {"LBOUNDSCHECK", 0},
	OpGBOUNDSCHECK: {"GBOUNDSCHECK", 0},

	OpSTACK: {"STACK", 0}, OpQUERY: {"QUERY", 0}, OpSTORE: {"STORE", 0},
	OpSAVE: {"SAVE", 0}, OpRES: {"RES", 0}, OpRSTACK: {"RSTACK", 0},
	OpLAB: {"LAB", 0}, OpDISCARD: {"DISCARD", 0},
}

var opByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opTable))
	for op, info := range opTable {
		m[info.name] = op
	}
	return m
}()

// Valid reports whether op is a known instruction.
func (op Opcode) Valid() bool {
	_, ok := opTable[op]
	return ok
}

// Cost returns the number of clock ticks charged for executing op.
func (op Opcode) Cost() uint64 {
	return opTable[op].cost
}

// Pseudo reports whether op only exists for compiler bookkeeping.
func (op Opcode) Pseudo() bool {
	return op >= OpSTACK && op <= OpDISCARD
}

func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// ParseOpcode resolves a mnemonic such as "LN" or "syscall".
func ParseOpcode(name string) (Opcode, bool) {
	op, ok := opByName[strings.ToUpper(name)]
	return op, ok
}

// Syscall numbers understood by the SYSCALL instruction.
const (
	SysSendPkt       = 1
	SysDelay         = 2
	SysPrintf        = 3
	SysExit          = 4
	SysSignal        = 5
	SysWait          = 6
	SysTickrate      = 7
	SysPutByte       = 8
	SysPutWord       = 9
	SysReadSDRAM     = 10
	SysWriteSDRAM    = 11
	SysSyncNodes     = 12
	SysGetClk        = 101
	SysAbs           = 102
	SysFabs          = 103
	SysCreateProcess = 104
	SysDeleteProcess = 105
	SysGetByte       = 106
	SysGetWord       = 107
)
