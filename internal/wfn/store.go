package wfn

import (
	"fmt"
	"slices"
)

// Dataset names inside a wavefunction store.
const (
	DatasetGVectors     = "/wfns/gvecs"
	DatasetCoefficients = "/wfns/coeffs"

	DatasetNumKPoints = "/mf_header/kpoints/nrk"
	DatasetNumSpin    = "/mf_header/kpoints/nspin"
	DatasetNumSpinor  = "/mf_header/kpoints/nspinor"
	DatasetNumBands   = "/mf_header/kpoints/mnband"
	DatasetGVecCounts = "/mf_header/kpoints/ngk"
)

// Selection is a rectangular hyperslab: a start offset and an extent per axis.
type Selection struct {
	Offset []uint64
	Count  []uint64
}

// Len is the number of elements covered by the selection.
func (s Selection) Len() uint64 {
	if len(s.Count) == 0 {
		return 0
	}
	n := uint64(1)
	for _, c := range s.Count {
		n *= c
	}
	return n
}

// Validate checks the selection against dataset dims.
func (s Selection) Validate(dims []uint64) error {
	if len(s.Offset) != len(dims) || len(s.Count) != len(dims) {
		return fmt.Errorf("%w: selection rank %d/%d, dataset rank %d", ErrShapeMismatch, len(s.Offset), len(s.Count), len(dims))
	}
	for i := range dims {
		end := s.Offset[i] + s.Count[i]
		if end < s.Offset[i] || end > dims[i] {
			return fmt.Errorf("%w: axis %d selection [%d,+%d) exceeds %d", ErrShapeMismatch, i, s.Offset[i], s.Count[i], dims[i])
		}
	}
	return nil
}

// Dataset is a typed n-dimensional array inside a store that supports
// rectangular reads and writes. Buffers are laid out row-major over the
// selection's Count.
type Dataset[T int32 | float64] interface {
	Dims() []uint64
	ReadHyperslab(sel Selection, dst []T) error
	WriteHyperslab(sel Selection, src []T) error
	Close() error
}

// Store opens the datasets of one wavefunction file.
type Store interface {
	OpenInt32(name string) (Dataset[int32], error)
	OpenFloat64(name string) (Dataset[float64], error)
	Close() error
}

// WritableStore can also create datasets.
type WritableStore interface {
	Store
	CreateInt32(name string, dims []uint64) (Dataset[int32], error)
	CreateFloat64(name string, dims []uint64) (Dataset[float64], error)
}

// RecordWriter receives decoded chunks on export.
type RecordWriter interface {
	WriteGVectors(k int, g GVectorChunk) error
	WriteCoefficients(k, band int, values []complex128) error
}

// RecordReader supplies chunks on import. count is the number of lines
// the record must hold.
type RecordReader interface {
	ReadGVectors(k, count int) (GVectorChunk, error)
	ReadCoefficients(k, band, count int) ([]complex128, error)
}

func checkDims(name string, got, want []uint64) error {
	if !slices.Equal(got, want) {
		return fmt.Errorf("%w: %s has dims %v, want %v", ErrShapeMismatch, name, got, want)
	}
	return nil
}
