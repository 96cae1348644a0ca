package cfmt

import (
	"bytes"
	"errors"
	"testing"
)

func TestSprintf(t *testing.T) {
	strs := map[int32]string{100: "node", 200: "x"}
	resolve := func(addr int32) (string, error) {
		s, ok := strs[addr]
		if !ok {
			return "", errors.New("bad address")
		}
		return s, nil
	}

	cases := []struct {
		name   string
		format string
		args   []int32
		want   string
	}{
		{"plain", "hello\n", nil, "hello\n"},
		{"int", "v=%d", []int32{-42}, "v=-42"},
		{"i verb", "%i", []int32{7}, "7"},
		{"unsigned", "%u", []int32{-1}, "4294967295"},
		{"hex", "%x %X %#x", []int32{255, 255, 16}, "ff FF 0x10"},
		{"hex negative", "%x", []int32{-1}, "ffffffff"},
		{"octal", "%o", []int32{8}, "10"},
		{"width", "[%5d|%-4d|%05d]", []int32{42, 7, 3}, "[   42|7   |00003]"},
		{"char", "%c%c", []int32{'o', 'k'}, "ok"},
		{"string", "%s says %s", []int32{100, 200}, "node says x"},
		{"fixed", "%f", []int32{98304}, "1.500000"},
		{"fixed precision", "%.2f", []int32{-32768}, "-0.50"},
		{"g default precision", "%g", []int32{65536 / 3}, "0.333328"},
		{"exponent", "%e", []int32{65536}, "1.000000e+00"},
		{"length modifiers", "%ld %hd", []int32{1, 2}, "1 2"},
		{"percent", "100%%", nil, "100%"},
		{"missing args", "%d %d", []int32{1}, "1 0"},
		{"unterminated", "50%", nil, "50%"},
		{"pointer", "%p", []int32{0x40004}, "0x40004"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Sprintf(tc.format, tc.args, resolve)
			if err != nil {
				t.Fatalf("Sprintf: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Sprintf(%q) = %q, want %q", tc.format, got, tc.want)
			}
		})
	}
}

func TestSprintfStringError(t *testing.T) {
	fail := func(int32) (string, error) { return "", errors.New("unmapped") }
	got, err := Sprintf("a=%d %s", []int32{1, 2}, fail)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got != "a=1 " {
		t.Fatalf("partial output = %q", got)
	}
	if _, err := Sprintf("%s", []int32{1}, nil); err == nil {
		t.Fatalf("expected error without resolver")
	}
}

func TestFprintf(t *testing.T) {
	var buf bytes.Buffer
	if err := Fprintf(&buf, "%d+%d\n", []int32{1, 2}, nil); err != nil {
		t.Fatalf("Fprintf: %v", err)
	}
	if buf.String() != "1+2\n" {
		t.Fatalf("output = %q", buf.String())
	}
}
