// Package cfmt formats the printf calls of simulated programs. Arguments are
// raw machine words: floating point conversions read them as 16.16 fixed
// point and %s reads them as string addresses.
package cfmt

import (
	"fmt"
	"io"
	"strings"
)

// StringFunc resolves a string address of the calling node.
type StringFunc func(addr int32) (string, error)

// Fprintf writes format to w, consuming one word of args per conversion.
// Missing arguments read as zero.
func Fprintf(w io.Writer, format string, args []int32, str StringFunc) error {
	s, err := Sprintf(format, args, str)
	if _, werr := io.WriteString(w, s); werr != nil && err == nil {
		err = werr
	}
	return err
}

// Sprintf is Fprintf into a string. On a %s error the output up to the
// failing conversion is returned along with the error.
func Sprintf(format string, args []int32, str StringFunc) (string, error) {
	var b strings.Builder
	next := func() int32 {
		if len(args) == 0 {
			return 0
		}
		v := args[0]
		args = args[1:]
		return v
	}

	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		spec, verb, end := scan(format, i+1)
		if end < 0 {
			// unterminated conversion
			b.WriteString(format[i:])
			break
		}
		i = end

		switch verb {
		case '%':
			b.WriteByte('%')
		case 'd', 'i':
			fmt.Fprintf(&b, "%"+spec+"d", next())
		case 'u':
			fmt.Fprintf(&b, "%"+spec+"d", uint32(next()))
		case 'o', 'x', 'X':
			fmt.Fprintf(&b, "%"+spec+string(verb), uint32(next()))
		case 'c':
			fmt.Fprintf(&b, "%"+spec+"c", rune(byte(next())))
		case 'p':
			fmt.Fprintf(&b, "%#"+spec+"x", uint32(next()))
		case 's':
			if str == nil {
				return b.String(), fmt.Errorf("cfmt: %%s without a string resolver")
			}
			s, err := str(next())
			if err != nil {
				return b.String(), err
			}
			fmt.Fprintf(&b, "%"+spec+"s", s)
		case 'f', 'e', 'E', 'g', 'G':
			x := float64(next()) / 65536.0
			if (verb == 'g' || verb == 'G') && !strings.Contains(spec, ".") {
				spec += ".6"
			}
			fmt.Fprintf(&b, "%"+spec+string(verb), x)
		}
	}
	return b.String(), nil
}

// scan reads the flags, width and precision of a conversion starting at i,
// dropping length modifiers. It returns the Go-compatible spec, the verb and
// the index of the verb, or -1 when the format ends first.
func scan(format string, i int) (string, byte, int) {
	var spec strings.Builder
	for ; i < len(format); i++ {
		c := format[i]
		switch {
		case strings.IndexByte("diouxXcspfeEgG%", c) >= 0:
			return spec.String(), c, i
		case strings.IndexByte("-+ #0123456789.", c) >= 0:
			spec.WriteByte(c)
		}
		// anything else, such as a length modifier, is dropped
	}
	return "", 0, -1
}
