// Package wfntest provides in-memory stores and record sets for tests.
package wfntest

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/wfnconv/internal/wfn"
	"github.com/samcharles93/wfnconv/pkg/wfc"
)

var ErrNotFound = errors.New("wfntest: dataset not found")

// MemDataset is a row-major in-memory array. Fail, when set, is consulted
// before every hyperslab transfer.
type MemDataset[T int32 | float64] struct {
	mu   sync.Mutex
	dims []uint64
	Data []T
	Fail func(sel wfn.Selection) error
}

func newMemDataset[T int32 | float64](dims []uint64, data []T) *MemDataset[T] {
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	if data == nil {
		data = make([]T, n)
	}
	return &MemDataset[T]{dims: slices.Clone(dims), Data: data}
}

func (d *MemDataset[T]) Dims() []uint64 {
	return slices.Clone(d.dims)
}

func (d *MemDataset[T]) ReadHyperslab(sel wfn.Selection, dst []T) error {
	return d.transfer(sel, len(dst), func(elem, buf, n uint64) {
		copy(dst[buf:buf+n], d.Data[elem:elem+n])
	})
}

func (d *MemDataset[T]) WriteHyperslab(sel wfn.Selection, src []T) error {
	return d.transfer(sel, len(src), func(elem, buf, n uint64) {
		copy(d.Data[elem:elem+n], src[buf:buf+n])
	})
}

func (d *MemDataset[T]) transfer(sel wfn.Selection, n int, fn func(elem, buf, n uint64)) error {
	if d.Fail != nil {
		if err := d.Fail(sel); err != nil {
			return err
		}
	}
	if err := sel.Validate(d.dims); err != nil {
		return err
	}
	if sel.Len() != uint64(n) {
		return fmt.Errorf("%w: buffer holds %d elements, selection %d", wfn.ErrShapeMismatch, n, sel.Len())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return wfc.Runs(d.dims, sel.Offset, sel.Count, func(elem, buf, run uint64) error {
		fn(elem, buf, run)
		return nil
	})
}

func (d *MemDataset[T]) Close() error { return nil }

// MemStore implements wfn.WritableStore in memory.
type MemStore struct {
	mu     sync.Mutex
	ints   map[string]*MemDataset[int32]
	floats map[string]*MemDataset[float64]
	Closed bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		ints:   make(map[string]*MemDataset[int32]),
		floats: make(map[string]*MemDataset[float64]),
	}
}

// PutInt32 installs an int32 dataset. A nil data slice is zero-filled.
func (s *MemStore) PutInt32(name string, dims []uint64, data []int32) *MemDataset[int32] {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := newMemDataset(dims, data)
	s.ints[name] = d
	return d
}

// PutFloat64 installs a float64 dataset. A nil data slice is zero-filled.
func (s *MemStore) PutFloat64(name string, dims []uint64, data []float64) *MemDataset[float64] {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := newMemDataset(dims, data)
	s.floats[name] = d
	return d
}

// Int32 returns the named dataset, or nil.
func (s *MemStore) Int32(name string) *MemDataset[int32] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ints[name]
}

// Float64 returns the named dataset, or nil.
func (s *MemStore) Float64(name string) *MemDataset[float64] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.floats[name]
}

func (s *MemStore) OpenInt32(name string) (wfn.Dataset[int32], error) {
	if d := s.Int32(name); d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (s *MemStore) OpenFloat64(name string) (wfn.Dataset[float64], error) {
	if d := s.Float64(name); d != nil {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

func (s *MemStore) CreateInt32(name string, dims []uint64) (wfn.Dataset[int32], error) {
	return s.PutInt32(name, dims, nil), nil
}

func (s *MemStore) CreateFloat64(name string, dims []uint64) (wfn.Dataset[float64], error) {
	return s.PutFloat64(name, dims, nil), nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// GVector is the synthetic Miller index triple stored at global row i.
func GVector(i int) [3]int32 {
	return [3]int32{int32(i), int32(i + 1), int32(i + 2)}
}

// Coefficient is the synthetic coefficient stored at (band, spin plane,
// global G index).
func Coefficient(band, spin, g int) complex128 {
	v := float64(band*1000 + spin*100 + g)
	return complex(v, -v-0.25)
}

// Populate returns a store holding shape, filled with GVector and
// Coefficient values.
func Populate(shape wfn.Shape) *MemStore {
	s := NewMemStore()
	total := shape.TotalGVecs()
	nb, ns := shape.NumBands, shape.SpinMultiplicity()

	g := make([]int32, 0, 3*total)
	for i := range total {
		v := GVector(i)
		g = append(g, v[0], v[1], v[2])
	}
	s.PutInt32(wfn.DatasetGVectors, shape.GVectorDims(), g)

	c := make([]float64, 0, 2*nb*ns*total)
	for b := range nb {
		for sp := range ns {
			for i := range total {
				v := Coefficient(b, sp, i)
				c = append(c, real(v), imag(v))
			}
		}
	}
	s.PutFloat64(wfn.DatasetCoefficients, shape.CoefficientDims(), c)
	return s
}

// MemRecords implements wfn.RecordReader and wfn.RecordWriter in memory.
// Fail, when set, is consulted before every record access; band is -1 for
// G-vector records.
type MemRecords struct {
	mu     sync.Mutex
	gvecs  map[int]wfn.GVectorChunk
	coeffs map[[2]int][]complex128
	Fail   func(k, band int) error
}

func NewMemRecords() *MemRecords {
	return &MemRecords{
		gvecs:  make(map[int]wfn.GVectorChunk),
		coeffs: make(map[[2]int][]complex128),
	}
}

func (r *MemRecords) fail(k, band int) error {
	if r.Fail == nil {
		return nil
	}
	return r.Fail(k, band)
}

func (r *MemRecords) WriteGVectors(k int, g wfn.GVectorChunk) error {
	if err := r.fail(k, -1); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gvecs[k] = slices.Clone(g)
	return nil
}

func (r *MemRecords) WriteCoefficients(k, band int, values []complex128) error {
	if err := r.fail(k, band); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coeffs[[2]int{k, band}] = slices.Clone(values)
	return nil
}

func (r *MemRecords) ReadGVectors(k, count int) (wfn.GVectorChunk, error) {
	if err := r.fail(k, -1); err != nil {
		return nil, err
	}
	g, ok := r.GVectors(k)
	if !ok {
		return nil, fmt.Errorf("%w: no G-vector record for k-point %d", wfn.ErrStoreIO, k)
	}
	if len(g) != count {
		return nil, fmt.Errorf("%w: k-point %d holds %d G-vectors, want %d", wfn.ErrRecordFormat, k, len(g), count)
	}
	return g, nil
}

func (r *MemRecords) ReadCoefficients(k, band, count int) ([]complex128, error) {
	if err := r.fail(k, band); err != nil {
		return nil, err
	}
	c, ok := r.Coefficients(k, band)
	if !ok {
		return nil, fmt.Errorf("%w: no coefficient record for k-point %d band %d", wfn.ErrStoreIO, k, band)
	}
	if len(c) != count {
		return nil, fmt.Errorf("%w: k-point %d band %d holds %d values, want %d", wfn.ErrRecordFormat, k, band, len(c), count)
	}
	return c, nil
}

// GVectors returns a copy of the stored G-vector record for k.
func (r *MemRecords) GVectors(k int) (wfn.GVectorChunk, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.gvecs[k]
	return slices.Clone(g), ok
}

// Coefficients returns a copy of the stored record for (k, band).
func (r *MemRecords) Coefficients(k, band int) ([]complex128, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coeffs[[2]int{k, band}]
	return slices.Clone(c), ok
}

// Len is the number of stored records.
func (r *MemRecords) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gvecs) + len(r.coeffs)
}
