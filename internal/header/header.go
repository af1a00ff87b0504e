// Package header reads and writes the wavefunction header: the k-point
// count, spin multiplicities, band count and per-k-point plane-wave counts.
//
// The text form is the header.dat file that accompanies a record directory:
//
//	nrk: 2
//	nspin: 1
//	nspinor: 1
//	nb: 2
//	ngk:
//	3
//	2
package header

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/samcharles93/wfnconv/internal/wfn"
)

// FileName is the conventional name of the header inside a record directory.
const FileName = "header.dat"

var scalarKeys = []string{"nrk", "nspin", "nspinor", "nb"}

// Parse reads a header in text form. Blank lines are ignored; the ngk
// values may follow on the same line as the key or one per line.
func Parse(r io.Reader) (wfn.Shape, error) {
	var (
		scalars = make(map[string]int, len(scalarKeys))
		ngk     []int
		inNGK   bool
		sawNGK  bool
		lineNo  int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		key, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			if !inNGK {
				return wfn.Shape{}, lineErr(lineNo, "expected key: value, got %q", line)
			}
			vals, err := parseInts(line)
			if err != nil {
				return wfn.Shape{}, lineErr(lineNo, "ngk: %v", err)
			}
			ngk = append(ngk, vals...)
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		inNGK = false
		switch {
		case key == "ngk":
			if sawNGK {
				return wfn.Shape{}, lineErr(lineNo, "duplicate key ngk")
			}
			sawNGK, inNGK = true, true
			vals, err := parseInts(value)
			if err != nil {
				return wfn.Shape{}, lineErr(lineNo, "ngk: %v", err)
			}
			ngk = append(ngk, vals...)
		case slices.Contains(scalarKeys, key):
			if _, dup := scalars[key]; dup {
				return wfn.Shape{}, lineErr(lineNo, "duplicate key %s", key)
			}
			n, err := strconv.Atoi(value)
			if err != nil {
				return wfn.Shape{}, lineErr(lineNo, "%s: %q is not an integer", key, value)
			}
			scalars[key] = n
		default:
			return wfn.Shape{}, lineErr(lineNo, "unknown key %q", key)
		}
	}
	if err := sc.Err(); err != nil {
		return wfn.Shape{}, fmt.Errorf("%w: read header: %w", wfn.ErrStoreIO, err)
	}

	for _, k := range scalarKeys {
		if _, ok := scalars[k]; !ok {
			return wfn.Shape{}, fmt.Errorf("%w: missing key %s", wfn.ErrInvalidHeader, k)
		}
	}
	if !sawNGK {
		return wfn.Shape{}, fmt.Errorf("%w: missing key ngk", wfn.ErrInvalidHeader)
	}
	return wfn.NewShape(scalars["nrk"], scalars["nspin"], scalars["nspinor"], scalars["nb"], ngk)
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", f)
		}
		out = append(out, n)
	}
	return out, nil
}

func lineErr(line int, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", wfn.ErrInvalidHeader, line, fmt.Sprintf(format, args...))
}

// Write emits s in text form.
func Write(w io.Writer, s wfn.Shape) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "nrk: %d\n", s.NumKPoints)
	fmt.Fprintf(bw, "nspin: %d\n", s.NumSpin)
	fmt.Fprintf(bw, "nspinor: %d\n", s.NumSpinor)
	fmt.Fprintf(bw, "nb: %d\n", s.NumBands)
	fmt.Fprintf(bw, "ngk:\n")
	for _, ng := range s.GVecCounts() {
		fmt.Fprintf(bw, "%d\n", ng)
	}
	return bw.Flush()
}

// FromStore reads the header datasets of a store.
func FromStore(store wfn.Store) (wfn.Shape, error) {
	vals := make(map[string]int, len(scalarKeys))
	for key, name := range scalarDatasets() {
		v, err := readInts(store, name, 1)
		if err != nil {
			return wfn.Shape{}, err
		}
		vals[key] = v[0]
	}
	if vals["nrk"] <= 0 {
		return wfn.Shape{}, fmt.Errorf("%w: nrk must be positive, got %d", wfn.ErrInvalidHeader, vals["nrk"])
	}
	ngk, err := readInts(store, wfn.DatasetGVecCounts, vals["nrk"])
	if err != nil {
		return wfn.Shape{}, err
	}
	return wfn.NewShape(vals["nrk"], vals["nspin"], vals["nspinor"], vals["nb"], ngk)
}

// ToStore creates the header datasets in store and fills them from s.
func ToStore(store wfn.WritableStore, s wfn.Shape) error {
	vals := map[string]int{
		"nrk":     s.NumKPoints,
		"nspin":   s.NumSpin,
		"nspinor": s.NumSpinor,
		"nb":      s.NumBands,
	}
	for key, name := range scalarDatasets() {
		if err := writeInts(store, name, []int{vals[key]}); err != nil {
			return err
		}
	}
	return writeInts(store, wfn.DatasetGVecCounts, s.GVecCounts())
}

func scalarDatasets() map[string]string {
	return map[string]string{
		"nrk":     wfn.DatasetNumKPoints,
		"nspin":   wfn.DatasetNumSpin,
		"nspinor": wfn.DatasetNumSpinor,
		"nb":      wfn.DatasetNumBands,
	}
}

func readInts(store wfn.Store, name string, n int) (_ []int, err error) {
	ds, err := store.OpenInt32(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", wfn.ErrStoreIO, name, err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: close %s: %w", wfn.ErrStoreIO, name, cerr))
		}
	}()

	dims := ds.Dims()
	if len(dims) != 1 || dims[0] != uint64(n) {
		return nil, fmt.Errorf("%w: %s has dims %v, want [%d]", wfn.ErrInvalidHeader, name, dims, n)
	}
	buf := make([]int32, n)
	sel := wfn.Selection{Offset: []uint64{0}, Count: []uint64{uint64(n)}}
	if err := ds.ReadHyperslab(sel, buf); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", wfn.ErrStoreIO, name, err)
	}
	out := make([]int, n)
	for i, v := range buf {
		out[i] = int(v)
	}
	return out, nil
}

func writeInts(store wfn.WritableStore, name string, vals []int) (err error) {
	ds, err := store.CreateInt32(name, []uint64{uint64(len(vals))})
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", wfn.ErrStoreIO, name, err)
	}
	defer func() {
		if cerr := ds.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("%w: close %s: %w", wfn.ErrStoreIO, name, cerr))
		}
	}()

	buf := make([]int32, len(vals))
	for i, v := range vals {
		if int(int32(v)) != v {
			return fmt.Errorf("%w: %s value %d exceeds int32", wfn.ErrArithmeticOverflow, name, v)
		}
		buf[i] = int32(v)
	}
	sel := wfn.Selection{Offset: []uint64{0}, Count: []uint64{uint64(len(vals))}}
	if err := ds.WriteHyperslab(sel, buf); err != nil {
		return fmt.Errorf("%w: write %s: %w", wfn.ErrStoreIO, name, err)
	}
	return nil
}
