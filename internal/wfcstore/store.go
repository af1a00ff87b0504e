// Package wfcstore exposes a WFC container as a wavefunction store.
package wfcstore

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/wfnconv/internal/wfn"
	"github.com/samcharles93/wfnconv/pkg/wfc"
)

// Store adapts a *wfc.File to wfn.WritableStore.
type Store struct {
	file *wfc.File
}

// DatasetSpecs returns the layout of a WFC file holding shape: the G-vector
// and coefficient arrays plus the header scalars.
func DatasetSpecs(shape wfn.Shape) []wfc.DatasetSpec {
	scalar := []uint64{1}
	return []wfc.DatasetSpec{
		{Name: wfn.DatasetGVectors, DType: wfc.DTypeI32, Dims: shape.GVectorDims()},
		{Name: wfn.DatasetCoefficients, DType: wfc.DTypeF64, Dims: shape.CoefficientDims()},
		{Name: wfn.DatasetNumKPoints, DType: wfc.DTypeI32, Dims: scalar},
		{Name: wfn.DatasetNumSpin, DType: wfc.DTypeI32, Dims: scalar},
		{Name: wfn.DatasetNumSpinor, DType: wfc.DTypeI32, Dims: scalar},
		{Name: wfn.DatasetNumBands, DType: wfc.DTypeI32, Dims: scalar},
		{Name: wfn.DatasetGVecCounts, DType: wfc.DTypeI32, Dims: []uint64{uint64(shape.NumKPoints)}},
	}
}

// Create lays out a new file for shape and opens it for writing.
func Create(path string, shape wfn.Shape) (*Store, error) {
	f, err := wfc.Create(path, DatasetSpecs(shape))
	if err != nil {
		return nil, err
	}
	return &Store{file: f}, nil
}

// Open opens path read-only.
func Open(path string) (*Store, error) {
	f, err := wfc.Open(path)
	if err != nil {
		return nil, err
	}
	return &Store{file: f}, nil
}

// OpenRW opens an existing file for in-place writes.
func OpenRW(path string) (*Store, error) {
	f, err := wfc.OpenRW(path)
	if err != nil {
		return nil, err
	}
	return &Store{file: f}, nil
}

// Datasets lists the datasets in the file.
func (s *Store) Datasets() []wfc.DatasetInfo {
	return s.file.Datasets()
}

func (s *Store) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *Store) OpenInt32(name string) (wfn.Dataset[int32], error) {
	d, err := s.dataset(name, wfc.DTypeI32)
	if err != nil {
		return nil, err
	}
	return int32Dataset{d}, nil
}

func (s *Store) OpenFloat64(name string) (wfn.Dataset[float64], error) {
	d, err := s.dataset(name, wfc.DTypeF64)
	if err != nil {
		return nil, err
	}
	return float64Dataset{d}, nil
}

// CreateInt32 returns the pre-declared dataset name. Its dims must match.
func (s *Store) CreateInt32(name string, dims []uint64) (wfn.Dataset[int32], error) {
	d, err := s.declared(name, wfc.DTypeI32, dims)
	if err != nil {
		return nil, err
	}
	return int32Dataset{d}, nil
}

// CreateFloat64 returns the pre-declared dataset name. Its dims must match.
func (s *Store) CreateFloat64(name string, dims []uint64) (wfn.Dataset[float64], error) {
	d, err := s.declared(name, wfc.DTypeF64, dims)
	if err != nil {
		return nil, err
	}
	return float64Dataset{d}, nil
}

func (s *Store) dataset(name string, dt wfc.DType) (*wfc.Dataset, error) {
	if s == nil || s.file == nil {
		return nil, wfc.ErrClosed
	}
	d, err := s.file.Dataset(name)
	if err != nil {
		return nil, err
	}
	if d.DType() != dt {
		return nil, fmt.Errorf("%w: %s is %s, not %s", wfn.ErrShapeMismatch, name, d.DType(), dt)
	}
	return d, nil
}

func (s *Store) declared(name string, dt wfc.DType, dims []uint64) (*wfc.Dataset, error) {
	if s == nil || s.file == nil {
		return nil, wfc.ErrClosed
	}
	if !s.file.Writable() {
		return nil, wfc.ErrReadOnly
	}
	d, err := s.dataset(name, dt)
	if errors.Is(err, wfc.ErrDatasetNotFound) {
		return nil, fmt.Errorf("%w: %s was not declared when the file was created", wfn.ErrShapeMismatch, name)
	}
	if err != nil {
		return nil, err
	}
	if !slices.Equal(d.Dims(), dims) {
		return nil, fmt.Errorf("%w: %s declared with dims %v, requested %v", wfn.ErrShapeMismatch, name, d.Dims(), dims)
	}
	return d, nil
}

type int32Dataset struct{ d *wfc.Dataset }

func (x int32Dataset) Dims() []uint64 { return x.d.Dims() }

func (x int32Dataset) ReadHyperslab(sel wfn.Selection, dst []int32) error {
	return x.d.ReadInt32(sel.Offset, sel.Count, dst)
}

func (x int32Dataset) WriteHyperslab(sel wfn.Selection, src []int32) error {
	return x.d.WriteInt32(sel.Offset, sel.Count, src)
}

// Close is a no-op; dataset handles live as long as the file.
func (int32Dataset) Close() error { return nil }

type float64Dataset struct{ d *wfc.Dataset }

func (x float64Dataset) Dims() []uint64 { return x.d.Dims() }

func (x float64Dataset) ReadHyperslab(sel wfn.Selection, dst []float64) error {
	return x.d.ReadFloat64(sel.Offset, sel.Count, dst)
}

func (x float64Dataset) WriteHyperslab(sel wfn.Selection, src []float64) error {
	return x.d.WriteFloat64(sel.Offset, sel.Count, src)
}

func (float64Dataset) Close() error { return nil }
