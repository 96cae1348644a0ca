package timectrl

import (
	"errors"
	"testing"
	"time"
)

func TestTickConversionsRoundTrip(t *testing.T) {
	if got := TicksToTime(ClockFrequency); got != 1 {
		t.Fatalf("TicksToTime(ClockFrequency) = %v, want 1", got)
	}
	if got := TimeToTicks(0.5); got != ClockFrequency/2 {
		t.Fatalf("TimeToTicks(0.5) = %d, want %d", got, ClockFrequency/2)
	}
	if got := TimeToTicks(-1); got != 0 {
		t.Fatalf("TimeToTicks(-1) = %d, want 0", got)
	}
	if got := TicksToDuration(DefaultTickrate); got != time.Millisecond {
		t.Fatalf("TicksToDuration(DefaultTickrate) = %v, want 1ms", got)
	}
}

func TestDelayTicks(t *testing.T) {
	cases := []struct {
		name     string
		fixed    int32
		tickrate uint64
		want     uint32
	}{
		{"zero", 0, DefaultTickrate, 1},
		{"one second", FixedOne, DefaultTickrate, 1001},
		{"five millis", FloatToFixed(0.005), DefaultTickrate, 6},
		{"default tickrate", FixedOne, 0, 1001},
		{"slow clock", FixedOne, ClockFrequency / 10, 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DelayTicks(tc.fixed, tc.tickrate); got != tc.want {
				t.Fatalf("DelayTicks(%d, %d) = %d, want %d", tc.fixed, tc.tickrate, got, tc.want)
			}
		})
	}
}

func TestTickrateFor(t *testing.T) {
	got, err := TickrateFor(1000)
	if err != nil {
		t.Fatalf("TickrateFor(1000) error: %v", err)
	}
	if got != DefaultTickrate {
		t.Fatalf("TickrateFor(1000) = %d, want %d", got, DefaultTickrate)
	}
	if _, err := TickrateFor(0); !errors.Is(err, ErrZeroFrequency) {
		t.Fatalf("TickrateFor(0) error = %v, want ErrZeroFrequency", err)
	}
}

func TestFixedPoint(t *testing.T) {
	if got := FloatToFixed(1.5); got != 98304 {
		t.Fatalf("FloatToFixed(1.5) = %d, want 98304", got)
	}
	if got := FixedToFloat(-32768); got != -0.5 {
		t.Fatalf("FixedToFloat(-32768) = %v, want -0.5", got)
	}
	if got := FixedClock(ClockFrequency * 2); got != 2*FixedOne {
		t.Fatalf("FixedClock(2s) = %d, want %d", got, 2*FixedOne)
	}
}
