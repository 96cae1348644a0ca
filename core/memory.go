// core/memory.go
package core

import "github.com/signalsfoundry/nodesim/model"

// Programs address memory with 32-bit byte addresses of the form
// segment<<segmentShift | offset. Segment 1 is the node's global vector and
// every process stack owns a segment of its own. Segment 0 is never mapped,
// so a zero address always faults.
const (
	segmentShift = 18
	segmentMask  = 1<<segmentShift - 1
	// SegmentWords is the largest vector a single segment can map.
	SegmentWords = (segmentMask + 1) / model.WordSize
	maxSegments  = 1 << (32 - segmentShift)

	globalSegment = 1
)

// addressSpace maps segments to word vectors for one node.
type addressSpace struct {
	segs [][]int32
	free []uint32
}

func newAddressSpace(globals []int32) addressSpace {
	return addressSpace{segs: [][]int32{nil, globals}}
}

// mapSegment assigns a segment to words and returns its number, or 0 when
// the address space is exhausted.
func (a *addressSpace) mapSegment(words []int32) uint32 {
	if n := len(a.free); n > 0 {
		seg := a.free[n-1]
		a.free = a.free[:n-1]
		a.segs[seg] = words
		return seg
	}
	if len(a.segs) >= maxSegments {
		return 0
	}
	a.segs = append(a.segs, words)
	return uint32(len(a.segs) - 1)
}

func (a *addressSpace) unmap(seg uint32) {
	if seg <= globalSegment || int(seg) >= len(a.segs) {
		return
	}
	a.segs[seg] = nil
	a.free = append(a.free, seg)
}

func wordAddress(seg, index uint32) uint32 {
	return seg<<segmentShift | index*model.WordSize
}

// resolve returns the vector and byte offset addressed by addr.
func (a *addressSpace) resolve(addr uint32) ([]int32, uint32, bool) {
	seg := addr >> segmentShift
	if seg == 0 || int(seg) >= len(a.segs) || a.segs[seg] == nil {
		return nil, 0, false
	}
	return a.segs[seg], addr & segmentMask, true
}

func (a *addressSpace) loadByte(addr uint32) (byte, bool) {
	vec, off, ok := a.resolve(addr)
	if !ok || int(off/model.WordSize) >= len(vec) {
		return 0, false
	}
	w := uint32(vec[off/model.WordSize])
	return byte(w >> (8 * (off % model.WordSize))), true
}

func (a *addressSpace) storeByte(addr uint32, b byte) bool {
	vec, off, ok := a.resolve(addr)
	if !ok || int(off/model.WordSize) >= len(vec) {
		return false
	}
	shift := 8 * (off % model.WordSize)
	w := uint32(vec[off/model.WordSize])
	w = w&^(0xff<<shift) | uint32(b)<<shift
	vec[off/model.WordSize] = int32(w)
	return true
}

func (a *addressSpace) loadWord(addr uint32) (int32, bool) {
	vec, off, ok := a.resolve(addr)
	if !ok {
		return 0, false
	}
	if off%model.WordSize == 0 {
		i := off / model.WordSize
		if int(i) >= len(vec) {
			return 0, false
		}
		return vec[i], true
	}
	var w uint32
	for i := uint32(0); i < model.WordSize; i++ {
		b, ok := a.loadByte(addr + i)
		if !ok {
			return 0, false
		}
		w |= uint32(b) << (8 * i)
	}
	return int32(w), true
}

func (a *addressSpace) storeWord(addr uint32, v int32) bool {
	vec, off, ok := a.resolve(addr)
	if !ok {
		return false
	}
	if off%model.WordSize == 0 {
		i := off / model.WordSize
		if int(i) >= len(vec) {
			return false
		}
		vec[i] = v
		return true
	}
	for i := uint32(0); i < model.WordSize; i++ {
		if !a.storeByte(addr+i, byte(uint32(v)>>(8*i))) {
			return false
		}
	}
	return true
}

// copyBytes copies n bytes from src to dst. Overlapping ranges behave like a
// forward byte copy.
func (a *addressSpace) copyBytes(dst, src, n uint32) bool {
	if n%model.WordSize == 0 && dst%model.WordSize == 0 && src%model.WordSize == 0 {
		for i := uint32(0); i < n; i += model.WordSize {
			w, ok := a.loadWord(src + i)
			if !ok || !a.storeWord(dst+i, w) {
				return false
			}
		}
		return true
	}
	for i := uint32(0); i < n; i++ {
		b, ok := a.loadByte(src + i)
		if !ok || !a.storeByte(dst+i, b) {
			return false
		}
	}
	return true
}

// cString reads a NUL-terminated byte string starting at addr.
func (a *addressSpace) cString(addr uint32) (string, bool) {
	var buf []byte
	for {
		b, ok := a.loadByte(addr)
		if !ok {
			return string(buf), false
		}
		if b == 0 {
			return string(buf), true
		}
		buf = append(buf, b)
		addr++
	}
}
