package records

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samcharles93/wfnconv/internal/wfn"
)

// DefaultPrecision gives the historic "%13.6e" coefficient lines.
const DefaultPrecision = 6

// ExactPrecision is enough digits for every float64 to survive a text
// round trip unchanged.
const ExactPrecision = 17

// FormatGVectors writes one "%4d %4d %4d" line per G-vector.
func FormatGVectors(w io.Writer, g wfn.GVectorChunk) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 64)
	for _, v := range g {
		buf = buf[:0]
		for i, c := range v {
			if i > 0 {
				buf = append(buf, ' ')
			}
			buf = appendPadded(buf, strconv.AppendInt(nil, int64(c), 10), 4)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// FormatCoefficients writes one "re im" line per value in %W.Pe form, where
// P is precision and W = P+7 as in the classic %13.6e.
func FormatCoefficients(w io.Writer, values []complex128, precision int) error {
	if precision < 0 {
		precision = DefaultPrecision
	}
	width := precision + 7
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 2*width+2)
	num := make([]byte, 0, width)
	for _, v := range values {
		buf = buf[:0]
		num = strconv.AppendFloat(num[:0], real(v), 'e', precision, 64)
		buf = appendPadded(buf, num, width)
		buf = append(buf, ' ')
		num = strconv.AppendFloat(num[:0], imag(v), 'e', precision, 64)
		buf = appendPadded(buf, num, width)
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func appendPadded(dst, s []byte, width int) []byte {
	for i := len(s); i < width; i++ {
		dst = append(dst, ' ')
	}
	return append(dst, s...)
}

// ParseGVectors reads exactly count G-vector lines. name labels errors.
func ParseGVectors(r io.Reader, name string, count int) (wfn.GVectorChunk, error) {
	out := make(wfn.GVectorChunk, 0, count)
	err := scanLines(r, name, count, func(lineNo int, fields []string) error {
		if len(fields) != 3 {
			return formatErr(name, lineNo, "want 3 integers, got %d fields", len(fields))
		}
		var v [3]int32
		for i, f := range fields {
			n, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return formatErr(name, lineNo, "%q is not an int32", f)
			}
			v[i] = int32(n)
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseCoefficients reads exactly count "re im" lines.
func ParseCoefficients(r io.Reader, name string, count int) ([]complex128, error) {
	out := make([]complex128, 0, count)
	err := scanLines(r, name, count, func(lineNo int, fields []string) error {
		if len(fields) != 2 {
			return formatErr(name, lineNo, "want 2 numbers, got %d fields", len(fields))
		}
		re, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return formatErr(name, lineNo, "%q is not a number", fields[0])
		}
		im, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return formatErr(name, lineNo, "%q is not a number", fields[1])
		}
		out = append(out, complex(re, im))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// scanLines feeds the whitespace-split fields of each non-blank line to fn
// and checks that exactly count such lines exist.
func scanLines(r io.Reader, name string, count int, fn func(lineNo int, fields []string) error) error {
	sc := bufio.NewScanner(r)
	lineNo, n := 0, 0
	for sc.Scan() {
		lineNo++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if n == count {
			return formatErr(name, lineNo, "more than %d lines", count)
		}
		if err := fn(lineNo, fields); err != nil {
			return err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: %s: %w", wfn.ErrStoreIO, name, err)
	}
	if n != count {
		return fmt.Errorf("%w: %s: %d lines, want %d", wfn.ErrRecordFormat, name, n, count)
	}
	return nil
}

func formatErr(name string, line int, format string, args ...any) error {
	return fmt.Errorf("%w: %s:%d: %s", wfn.ErrRecordFormat, name, line, fmt.Sprintf(format, args...))
}
