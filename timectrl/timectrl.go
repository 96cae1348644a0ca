// Package timectrl converts between node clock ticks, seconds and the 16.16
// fixed-point representation used by simulated programs.
package timectrl

import (
	"errors"
	"math"
	"time"
)

const (
	// ClockFrequency is the simulated processor clock in ticks per second.
	ClockFrequency = 200_000_000
	// DefaultTickrate is the default period of the clock interrupt (1 ms).
	DefaultTickrate = ClockFrequency / 1000
	// FixedOne is 1.0 in 16.16 fixed point.
	FixedOne = 65536
)

// ErrZeroFrequency is returned when a clock interrupt frequency of 0 is requested.
var ErrZeroFrequency = errors.New("tick frequency must be non-zero")

// SimClock is anything that exposes a virtual time in ticks.
type SimClock interface {
	// Now returns the current virtual time in clock ticks.
	Now() uint64
}

// TicksToTime converts clock ticks to seconds.
func TicksToTime(t uint64) float32 {
	return float32(t) / float32(ClockFrequency)
}

// TimeToTicks converts seconds to clock ticks. Negative times clamp to zero.
func TimeToTicks(seconds float32) uint64 {
	v := seconds * float32(ClockFrequency)
	if v <= 0 || math.IsNaN(float64(v)) {
		return 0
	}
	return uint64(v)
}

// TicksToDuration expresses ticks as a wall-clock duration of the simulated machine.
func TicksToDuration(t uint64) time.Duration {
	return time.Duration(float64(t) / ClockFrequency * float64(time.Second))
}

// FixedToFloat reinterprets a 16.16 fixed-point word.
func FixedToFloat(x int32) float64 {
	return float64(x) / FixedOne
}

// FloatToFixed converts f to 16.16 fixed point, rounding to nearest.
func FloatToFixed(f float64) int32 {
	return int32(math.Round(f * FixedOne))
}

// DelayTicks returns the number of clock interrupts a process sleeps for a
// delay of fixedSeconds (16.16 fixed point) on a node with the given tickrate.
func DelayTicks(fixedSeconds int32, tickrate uint64) uint32 {
	if tickrate == 0 {
		tickrate = DefaultTickrate
	}
	ticks := TimeToTicks(float32(fixedSeconds) / float32(FixedOne))
	return uint32(ticks/tickrate) + 1
}

// TickrateFor converts an interrupt frequency in Hz to a tick period.
func TickrateFor(hz int32) (uint64, error) {
	if hz == 0 {
		return 0, ErrZeroFrequency
	}
	if hz < 0 {
		hz = -hz
	}
	return uint64(ClockFrequency / hz), nil
}

// FixedClock reports the clock of a node in 16.16 fixed-point seconds, the
// value returned by the getclk runtime call.
func FixedClock(ticks uint64) int32 {
	return int32(uint32(float64(TicksToTime(ticks)) * FixedOne))
}
