// Package wfn moves plane-wave wavefunction data between a concatenated
// dataset store and per-k-point, per-band records.
//
// The global G-vector axis of a store is the concatenation of every
// k-point's plane waves in ascending k order. Plan derives that partition
// from a Shape, and the Transcoder streams each chunk through the codec in
// either direction.
package wfn

import (
	"fmt"
	"slices"
)

// Shape holds the header parameters of one wavefunction file. Build it
// with NewShape; Plan rejects a hand-assembled Shape that NewShape would
// not have returned.
type Shape struct {
	NumKPoints int
	NumSpin    int
	NumSpinor  int
	NumBands   int

	gvecCounts []int
}

// NewShape validates the header fields and copies gvecCounts.
func NewShape(numKPoints, numSpin, numSpinor, numBands int, gvecCounts []int) (Shape, error) {
	s := Shape{
		NumKPoints: numKPoints,
		NumSpin:    numSpin,
		NumSpinor:  numSpinor,
		NumBands:   numBands,
		gvecCounts: slices.Clone(gvecCounts),
	}
	if err := s.validate(); err != nil {
		return Shape{}, err
	}
	return s, nil
}

func (s Shape) validate() error {
	if s.NumKPoints <= 0 {
		return fmt.Errorf("%w: nrk must be positive, got %d", ErrInvalidHeader, s.NumKPoints)
	}
	if s.NumSpin != 1 && s.NumSpin != 2 {
		return fmt.Errorf("%w: nspin must be 1 or 2, got %d", ErrInvalidHeader, s.NumSpin)
	}
	if s.NumSpinor != 1 && s.NumSpinor != 2 {
		return fmt.Errorf("%w: nspinor must be 1 or 2, got %d", ErrInvalidHeader, s.NumSpinor)
	}
	if s.NumSpin*s.NumSpinor > 2 {
		return fmt.Errorf("%w: nspin*nspinor must be 1 or 2, got %d", ErrInvalidHeader, s.NumSpin*s.NumSpinor)
	}
	if s.NumBands <= 0 {
		return fmt.Errorf("%w: nb must be positive, got %d", ErrInvalidHeader, s.NumBands)
	}
	if len(s.gvecCounts) != s.NumKPoints {
		return fmt.Errorf("%w: ngk has %d entries, want %d", ErrInvalidHeader, len(s.gvecCounts), s.NumKPoints)
	}
	for ik, ng := range s.gvecCounts {
		if ng <= 0 {
			return fmt.Errorf("%w: ngk[%d] must be positive, got %d", ErrInvalidHeader, ik, ng)
		}
	}
	return nil
}

// SpinMultiplicity is nspin*nspinor, either 1 or 2.
func (s Shape) SpinMultiplicity() int {
	return s.NumSpin * s.NumSpinor
}

// GVecCount returns the number of plane waves at k-point k.
func (s Shape) GVecCount(k int) int {
	return s.gvecCounts[k]
}

// GVecCounts returns a copy of the per-k-point plane-wave counts.
func (s Shape) GVecCounts() []int {
	return slices.Clone(s.gvecCounts)
}

// TotalGVecs is the length of the global G-vector axis. Use Plan when the
// sum may not fit in an int.
func (s Shape) TotalGVecs() int {
	total := 0
	for _, ng := range s.gvecCounts {
		total += ng
	}
	return total
}

// GVectorDims is the shape of the /wfns/gvecs dataset.
func (s Shape) GVectorDims() []uint64 {
	return []uint64{uint64(s.TotalGVecs()), 3}
}

// CoefficientDims is the shape of the /wfns/coeffs dataset.
func (s Shape) CoefficientDims() []uint64 {
	return []uint64{uint64(s.NumBands), uint64(s.SpinMultiplicity()), uint64(s.TotalGVecs()), 2}
}

func (s Shape) String() string {
	return fmt.Sprintf("nrk=%d nspin=%d nspinor=%d nb=%d ngk=%v", s.NumKPoints, s.NumSpin, s.NumSpinor, s.NumBands, s.gvecCounts)
}

// Equal reports whether both shapes describe the same layout.
func (s Shape) Equal(o Shape) bool {
	return s.NumKPoints == o.NumKPoints &&
		s.NumSpin == o.NumSpin &&
		s.NumSpinor == o.NumSpinor &&
		s.NumBands == o.NumBands &&
		slices.Equal(s.gvecCounts, o.gvecCounts)
}
