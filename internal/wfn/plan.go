package wfn

import (
	"fmt"
	"math"
	"math/bits"
)

// Chunk is one k-point's window on the global G-vector axis.
type Chunk struct {
	KIndex  int
	GCount  uint64
	GOffset uint64
}

// End is the exclusive upper bound of the chunk on the G axis.
func (c Chunk) End() uint64 {
	return c.GOffset + c.GCount
}

// OffsetTable is the ordered partition of the G axis into per-k-point chunks.
// It is read-only after Plan and safe to share between goroutines.
type OffsetTable struct {
	chunks    []Chunk
	total     uint64
	numBands  uint64
	spinMult  uint64
	maxGCount uint64
}

// Plan computes the offset table for shape. Entries are in ascending k order
// with GOffset equal to the prefix sum of the preceding counts.
func Plan(shape Shape) (OffsetTable, error) {
	if err := shape.validate(); err != nil {
		return OffsetTable{}, err
	}

	t := OffsetTable{
		chunks:   make([]Chunk, len(shape.gvecCounts)),
		numBands: uint64(shape.NumBands),
		spinMult: uint64(shape.SpinMultiplicity()),
	}

	var offset uint64
	for ik, ng := range shape.gvecCounts {
		count := uint64(ng)
		t.chunks[ik] = Chunk{KIndex: ik, GCount: count, GOffset: offset}
		next, carry := bits.Add64(offset, count, 0)
		if carry != 0 {
			return OffsetTable{}, fmt.Errorf("%w: G-vector offset after k-point %d", ErrArithmeticOverflow, ik)
		}
		offset = next
		t.maxGCount = max(t.maxGCount, count)
	}
	t.total = offset

	if t.total > math.MaxInt {
		return OffsetTable{}, fmt.Errorf("%w: %d G-vectors exceed int range", ErrArithmeticOverflow, t.total)
	}
	// Whole coefficient dataset must be addressable in elements.
	if _, err := mulChecked(t.numBands, t.spinMult, t.total, 2); err != nil {
		return OffsetTable{}, fmt.Errorf("coefficient dataset: %w", err)
	}
	// Largest per-chunk buffer must fit a Go slice.
	n, err := mulChecked(t.numBands, t.spinMult, t.maxGCount, 2)
	if err != nil || n > math.MaxInt {
		return OffsetTable{}, fmt.Errorf("%w: chunk buffer of %d bands x %d G-vectors", ErrArithmeticOverflow, t.numBands, t.maxGCount)
	}
	return t, nil
}

func mulChecked(factors ...uint64) (uint64, error) {
	p := uint64(1)
	for _, f := range factors {
		hi, lo := bits.Mul64(p, f)
		if hi != 0 {
			return 0, ErrArithmeticOverflow
		}
		p = lo
	}
	return p, nil
}

// Len is the number of chunks (k-points).
func (t OffsetTable) Len() int {
	return len(t.chunks)
}

// Chunk returns the entry for k-point k.
func (t OffsetTable) Chunk(k int) Chunk {
	return t.chunks[k]
}

// Chunks returns a copy of all entries in ascending k order.
func (t OffsetTable) Chunks() []Chunk {
	out := make([]Chunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// TotalGVecs is the length of the global G axis.
func (t OffsetTable) TotalGVecs() uint64 {
	return t.total
}

// GVectorSelection is the /wfns/gvecs hyperslab owned by k-point k.
func (t OffsetTable) GVectorSelection(k int) Selection {
	c := t.chunks[k]
	return Selection{
		Offset: []uint64{c.GOffset, 0},
		Count:  []uint64{c.GCount, 3},
	}
}

// CoefficientSelection is the /wfns/coeffs hyperslab owned by k-point k:
// every band and spin plane, restricted to the chunk's G window.
func (t OffsetTable) CoefficientSelection(k int) Selection {
	c := t.chunks[k]
	return Selection{
		Offset: []uint64{0, 0, c.GOffset, 0},
		Count:  []uint64{t.numBands, t.spinMult, c.GCount, 2},
	}
}
