// Package records stores wavefunction chunks as plain-text files in a
// directory: one G-vector file per k-point and one coefficient file per
// (k-point, band), plus header.dat and a run manifest.
package records

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/samcharles93/wfnconv/internal/header"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

// GVectorFile names the G-vector record of k-point k.
func GVectorFile(k int) string {
	return fmt.Sprintf("gvecs_ik_%02d.dat", k)
}

// CoefficientFile names the coefficient record of (k, band).
func CoefficientFile(k, band int) string {
	return fmt.Sprintf("coeffs_ik_%02d_ib_%04d.dat", k, band)
}

// Options configures a Dir.
type Options struct {
	// Precision is the number of digits after the decimal point in
	// coefficient lines. Values <= 0 select DefaultPrecision.
	Precision int
}

// Dir is a record directory. It implements wfn.RecordReader and
// wfn.RecordWriter and is safe for concurrent use.
//
// Every file is written to a temporary name and renamed into place, so a
// record is either absent or complete.
type Dir struct {
	path      string
	precision int

	mu      sync.Mutex
	written []string
}

// Create makes path (and parents) if needed and returns it for writing.
func Create(path string, opts Options) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}
	return newDir(path, opts), nil
}

// Open returns an existing directory.
func Open(path string, opts Options) (*Dir, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", wfn.ErrStoreIO, path)
	}
	return newDir(path, opts), nil
}

func newDir(path string, opts Options) *Dir {
	p := opts.Precision
	if p <= 0 {
		p = DefaultPrecision
	}
	return &Dir{path: path, precision: p}
}

// Path is the directory the records live in.
func (d *Dir) Path() string { return d.path }

// Precision is the number of mantissa digits written after the decimal point.
func (d *Dir) Precision() int { return d.precision }

// Written lists the files written through d, sorted.
func (d *Dir) Written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := slices.Clone(d.written)
	slices.Sort(out)
	return out
}

func (d *Dir) WriteGVectors(k int, g wfn.GVectorChunk) error {
	return d.writeFile(GVectorFile(k), func(w io.Writer) error {
		return FormatGVectors(w, g)
	})
}

func (d *Dir) WriteCoefficients(k, band int, values []complex128) error {
	return d.writeFile(CoefficientFile(k, band), func(w io.Writer) error {
		return FormatCoefficients(w, values, d.precision)
	})
}

func (d *Dir) ReadGVectors(k, count int) (g wfn.GVectorChunk, err error) {
	name := GVectorFile(k)
	err = d.readFile(name, func(r io.Reader) error {
		g, err = ParseGVectors(r, name, count)
		return err
	})
	return g, err
}

func (d *Dir) ReadCoefficients(k, band, count int) (c []complex128, err error) {
	name := CoefficientFile(k, band)
	err = d.readFile(name, func(r io.Reader) error {
		c, err = ParseCoefficients(r, name, count)
		return err
	})
	return c, err
}

// WriteHeader writes header.dat.
func (d *Dir) WriteHeader(s wfn.Shape) error {
	return d.writeFile(header.FileName, func(w io.Writer) error {
		return header.Write(w, s)
	})
}

// ReadHeader parses header.dat.
func (d *Dir) ReadHeader() (s wfn.Shape, err error) {
	err = d.readFile(header.FileName, func(r io.Reader) error {
		s, err = header.Parse(r)
		return err
	})
	if err != nil {
		return wfn.Shape{}, fmt.Errorf("%s: %w", header.FileName, err)
	}
	return s, nil
}

func (d *Dir) writeFile(name string, fn func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(d.path, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := fn(tmp); err != nil {
		return fmt.Errorf("%w: write %s: %w", wfn.ErrStoreIO, name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", wfn.ErrStoreIO, name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.path, name)); err != nil {
		return fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}

	d.mu.Lock()
	d.written = append(d.written, name)
	d.mu.Unlock()
	return nil
}

func (d *Dir) readFile(name string, fn func(io.Reader) error) error {
	f, err := os.Open(filepath.Join(d.path, name))
	if err != nil {
		return fmt.Errorf("%w: %w", wfn.ErrStoreIO, err)
	}
	return errors.Join(fn(f), f.Close())
}
