// core/errors.go
package core

import (
	"errors"
	"fmt"
)

// WarningThreshold separates fatal error codes (below) from warnings.
const WarningThreshold = 1000

// Runtime error codes. The numbering matches the diagnostics printed by the
// toolchain that produces the programs, so scripts grepping run output keep
// working.
const (
	CodeSDRAMBounds        = 1
	CodeArrayBound         = 2
	CodeInvalidPort        = 3
	CodeDivideByZero       = 10
	CodeFixedDivideByZero  = 11
	CodeNodeTableFull      = 201
	CodeNodeMissing        = 202
	CodeStackAlloc         = 222
	CodeUnknownInterrupt   = 219
	CodeTooManyProcesses   = 221
	CodeUnknownProcess     = 223
	CodeProcessMissing     = 224
	CodeProcessTableFull   = 225
	CodeStackOverflow      = 228
	CodeStackUnderflow     = 229
	CodePCOutOfRange       = 233
	CodeUnknownInstruction = 234
	CodeBadAddress         = 235
	CodeNoDebugger         = 236
	CodeBadTransition      = 237
	CodeBadTickrate        = 238

	CodeMultOverflow       = 1001
	CodeFixedMultOverflow  = 1002
	CodeFixedMultUnderflow = 1003
	CodeFixedDivOverflow   = 1004
	CodeFixedDivUnderflow  = 1005
)

// Error is a runtime fault raised while executing a program.
type Error struct {
	Code int
	Node uint32
	PC   uint32
	// Line is the source line of PC, or 0 when no line table is loaded.
	Line uint32
	Msg  string
}

// Fatal reports whether the error stops the simulation.
func (e *Error) Fatal() bool { return e.Code < WarningThreshold }

func (e *Error) Error() string {
	kind := "Runtime error"
	if !e.Fatal() {
		kind = "WARNING"
	}
	if e.Node == 0 {
		return fmt.Sprintf("%s %d: %s", kind, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s %d: node=%d line=%d %s", kind, e.Code, e.Node, e.Line, e.Msg)
}

var (
	// ErrPrototypeExists is returned when a prototype name is registered twice.
	ErrPrototypeExists = errors.New("prototype already registered")
	// ErrUnknownPrototype is returned when a node refers to an unregistered prototype.
	ErrUnknownPrototype = errors.New("unknown prototype")
	// ErrNodeExists is returned when a node id is registered twice.
	ErrNodeExists = errors.New("node already exists")
	// ErrInvalidNodeID is returned for node id 0, which encodes the clock.
	ErrInvalidNodeID = errors.New("node id 0 is reserved for the clock")
	// ErrNoNodes is returned when starting an emulator without nodes.
	ErrNoNodes = errors.New("no nodes registered")
	// ErrStarted is returned when configuration is changed after Start.
	ErrStarted = errors.New("emulator already started")
	// ErrFinished is returned by Step once the run has ended.
	ErrFinished = errors.New("emulator finished")
)

// AsError extracts a runtime *Error from err.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
