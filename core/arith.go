// core/arith.go
package core

import (
	"math"

	"github.com/signalsfoundry/nodesim/model"
	"github.com/signalsfoundry/nodesim/timectrl"
)

func abs32(x int32) int64 {
	v := int64(x)
	if v < 0 {
		return -v
	}
	return v
}

// dyadic pops the right operand x1 and then the left operand x2 and pushes
// the result of x2 op x1.
func (e *Emulator) dyadic(n *Node, op model.Opcode) {
	x1 := n.pop()
	x2 := n.pop()

	switch op {
	case model.OpOR:
		n.pushBool(x1 != 0 || x2 != 0)
	case model.OpAND:
		n.pushBool(x1 != 0 && x2 != 0)
	case model.OpPLUS:
		n.push(x2 + x1)
	case model.OpMINUS:
		n.push(x2 - x1)
	case model.OpMULT:
		if e.cfg.ArithmeticChecking && abs32(x1)*abs32(x2) > math.MaxInt32 {
			e.warnf(n, CodeMultOverflow, "Integer multiply overflow (%d*%d)", x1, x2)
		}
		n.push(x2 * x1)
	case model.OpMULTF:
		n.push(e.multf(n, x1, x2))
	case model.OpDIV:
		if x1 < 0 {
			x1, x2 = -x1, -x2
		}
		if x1 == 0 {
			fatalf(CodeDivideByZero, "Integer division by zero (%d/0)", x2)
		}
		n.push(int32(int64(x2) / int64(x1)))
	case model.OpDIVF:
		n.push(e.divf(n, x1, x2))
	case model.OpREM:
		if x1 == 0 {
			fatalf(CodeDivideByZero, "Integer division by zero (%d%%0)", x2)
		}
		n.push(int32(int64(x2) % int64(x1)))
	case model.OpLOGAND:
		n.push(x2 & x1)
	case model.OpLOGOR:
		n.push(x2 | x1)
	case model.OpNEQV:
		n.push(x2 ^ x1)
	case model.OpLSHIFT:
		n.push(x2 << (uint32(x1) & 31))
	case model.OpRSHIFT:
		n.push(x2 >> (uint32(x1) & 31))
	case model.OpEQ:
		n.pushBool(x2 == x1)
	case model.OpNE:
		n.pushBool(x2 != x1)
	case model.OpLS:
		n.pushBool(x2 < x1)
	case model.OpGR:
		n.pushBool(x2 > x1)
	case model.OpLE:
		n.pushBool(x2 <= x1)
	case model.OpGE:
		n.pushBool(x2 >= x1)
	}
}

// multf multiplies two 16.16 fixed-point values, rounding to nearest.
func (e *Emulator) multf(n *Node, x1, x2 int32) int32 {
	a1, a2 := abs32(x1), abs32(x2)
	r := (a1*a2 + 32768) / 65536
	if e.cfg.ArithmeticChecking {
		if r > math.MaxInt32 {
			e.warnf(n, CodeFixedMultOverflow, "Floating multiply overflow (%f*%f)",
				timectrl.FixedToFloat(x1), timectrl.FixedToFloat(x2))
		}
		if a1 > 0 && a2 > 0 && r == 0 {
			e.warnf(n, CodeFixedMultUnderflow, "Floating multiply underflow (%f*%f)",
				timectrl.FixedToFloat(x2), timectrl.FixedToFloat(x1))
		}
	}
	if (x1 ^ x2) < 0 {
		r = -r
	}
	return int32(r)
}

// divf divides x2 by x1 in 16.16 fixed point, rounding to nearest.
func (e *Emulator) divf(n *Node, x1, x2 int32) int32 {
	if x1 == 0 {
		fatalf(CodeFixedDivideByZero, "Floating division by zero (%f/0.0)", timectrl.FixedToFloat(x2))
	}
	a1, a2 := abs32(x1), abs32(x2)
	r := (a2*65536 + a1/2) / a1
	if e.cfg.ArithmeticChecking {
		if r > math.MaxInt32 {
			e.warnf(n, CodeFixedDivOverflow, "Floating division overflow (%f/%f)",
				timectrl.FixedToFloat(x2), timectrl.FixedToFloat(x1))
		}
		if a2 > 0 && r == 0 {
			e.warnf(n, CodeFixedDivUnderflow, "Floating division underflow (%f/%f)",
				timectrl.FixedToFloat(x2), timectrl.FixedToFloat(x1))
		}
	}
	if (x1 ^ x2) < 0 {
		r = -r
	}
	return int32(r)
}

func (e *Emulator) monadic(n *Node, op model.Opcode) {
	x := n.pop()
	switch op {
	case model.OpNEG:
		n.push(-x)
	case model.OpABS:
		if x < 0 {
			x = -x
		}
		n.push(x)
	case model.OpCOMP:
		n.push(^x)
	case model.OpNOT:
		n.pushBool(x == 0)
	case model.OpFLOAT:
		n.push(x * timectrl.FixedOne)
	case model.OpINT:
		n.push(fixedToInt(x))
	}
}

// fixedToInt rounds a 16.16 value to the nearest integer, halves away from zero.
func fixedToInt(x int32) int32 {
	f := float64(float32(x)) / 65536.0
	if x >= 0 {
		return int32(f + 0.5)
	}
	return int32(f - 0.5)
}
