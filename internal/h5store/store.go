// Package h5store reads wavefunction datasets from HDF5 files such as
// BerkeleyGW's WFN.h5.
//
// The store is read-only. The hdf5 reader only returns whole datasets, so
// each dataset is read once on first open and hyperslabs are served from
// that copy. Dims of the G-vector and coefficient arrays come from the
// header datasets and are checked against the element count actually
// stored; every other dataset is treated as one-dimensional.
package h5store

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/scigolib/hdf5"

	"github.com/samcharles93/wfnconv/internal/header"
	"github.com/samcharles93/wfnconv/internal/wfn"
	"github.com/samcharles93/wfnconv/pkg/wfc"
)

// ErrReadOnly is returned by every write.
var ErrReadOnly = fmt.Errorf("%w: hdf5 store is read-only", wfn.ErrStoreIO)

// Store implements wfn.Store over an HDF5 file. File access is serialised
// because the underlying handle is not safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	file     *hdf5.File
	datasets map[string]*hdf5.Dataset
	values   map[string][]float64

	shapeOnce sync.Once
	shape     wfn.Shape
	shapeErr  error
}

// Open opens path and indexes its datasets.
func Open(path string) (*Store, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", wfn.ErrStoreIO, path, err)
	}
	s := &Store{
		file:     f,
		datasets: make(map[string]*hdf5.Dataset),
		values:   make(map[string][]float64),
	}
	f.Walk(func(p string, obj hdf5.Object) {
		if ds, ok := obj.(*hdf5.Dataset); ok {
			s.datasets[canonical(p)] = ds
		}
	})
	return s, nil
}

func canonical(name string) string {
	return "/" + strings.Trim(name, "/")
}

// Datasets lists dataset paths in sorted order.
func (s *Store) Datasets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.datasets))
	for n := range s.datasets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Close releases the file. Datasets opened earlier fail with
// wfn.ErrStoreIO afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.datasets = nil
	s.values = nil
	return err
}

func (s *Store) OpenInt32(name string) (wfn.Dataset[int32], error) {
	vals, dims, err := s.open(name)
	if err != nil {
		return nil, err
	}
	return &dataset[int32]{store: s, name: name, dims: dims, values: vals}, nil
}

func (s *Store) OpenFloat64(name string) (wfn.Dataset[float64], error) {
	vals, dims, err := s.open(name)
	if err != nil {
		return nil, err
	}
	return &dataset[float64]{store: s, name: name, dims: dims, values: vals}, nil
}

func (s *Store) open(name string) ([]float64, []uint64, error) {
	key := canonical(name)
	vals, err := s.load(key)
	if err != nil {
		return nil, nil, err
	}

	var dims []uint64
	switch key {
	case wfn.DatasetGVectors, wfn.DatasetCoefficients:
		shape, err := s.Shape()
		if err != nil {
			return nil, nil, err
		}
		dims = shape.GVectorDims()
		if key == wfn.DatasetCoefficients {
			dims = shape.CoefficientDims()
		}
	default:
		return vals, []uint64{uint64(len(vals))}, nil
	}

	if n := elements(dims); n != uint64(len(vals)) {
		return nil, nil, fmt.Errorf("%w: %s holds %d values, header implies dims %v (%d values)",
			wfn.ErrShapeMismatch, key, len(vals), dims, n)
	}
	return vals, dims, nil
}

// load returns the full contents of a dataset, reading it on first use.
func (s *Store) load(key string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, fmt.Errorf("%w: store closed", wfn.ErrStoreIO)
	}
	if v, ok := s.values[key]; ok {
		return v, nil
	}
	ds, ok := s.datasets[key]
	if !ok {
		return nil, fmt.Errorf("%w: dataset %s not found", wfn.ErrStoreIO, key)
	}
	v, err := ds.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", wfn.ErrStoreIO, key, err)
	}
	s.values[key] = v
	return v, nil
}

func (s *Store) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file == nil
}

// Shape reads the header datasets once.
func (s *Store) Shape() (wfn.Shape, error) {
	s.shapeOnce.Do(func() {
		s.shape, s.shapeErr = header.FromStore(s)
	})
	return s.shape, s.shapeErr
}

func elements(dims []uint64) uint64 {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	return n
}

type dataset[T int32 | float64] struct {
	store  *Store
	name   string
	dims   []uint64
	values []float64
}

func (d *dataset[T]) Dims() []uint64 {
	return slices.Clone(d.dims)
}

func (d *dataset[T]) ReadHyperslab(sel wfn.Selection, dst []T) error {
	if err := sel.Validate(d.dims); err != nil {
		return err
	}
	if sel.Len() != uint64(len(dst)) {
		return fmt.Errorf("%w: %s buffer holds %d elements, selection %d", wfn.ErrShapeMismatch, d.name, len(dst), sel.Len())
	}
	if d.store.closed() {
		return fmt.Errorf("%w: store closed", wfn.ErrStoreIO)
	}
	return wfc.Runs(d.dims, sel.Offset, sel.Count, func(elem, buf, n uint64) error {
		for i := range n {
			dst[buf+i] = T(d.values[elem+i])
		}
		return nil
	})
}

func (d *dataset[T]) WriteHyperslab(wfn.Selection, []T) error {
	return ErrReadOnly
}

func (d *dataset[T]) Close() error { return nil }
