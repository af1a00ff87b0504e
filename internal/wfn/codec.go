package wfn

import (
	"fmt"
)

// GVectorChunk is the Miller indices of one k-point's plane waves in local
// index order.
type GVectorChunk [][3]int32

// EncodeGVectors flattens g into consecutive (x, y, z) triples.
func EncodeGVectors(g GVectorChunk) []int32 {
	out := make([]int32, 0, 3*len(g))
	for _, v := range g {
		out = append(out, v[0], v[1], v[2])
	}
	return out
}

// DecodeGVectors is the inverse of EncodeGVectors. flat must hold exactly
// count triples.
func DecodeGVectors(flat []int32, count int) (GVectorChunk, error) {
	if len(flat)%3 != 0 {
		return nil, fmt.Errorf("%w: %d integers is not a whole number of triples", ErrShapeMismatch, len(flat))
	}
	if count < 0 || len(flat) != 3*count {
		return nil, fmt.Errorf("%w: got %d triples, want %d", ErrShapeMismatch, len(flat)/3, count)
	}
	out := make(GVectorChunk, count)
	for i := range out {
		out[i] = [3]int32{flat[3*i], flat[3*i+1], flat[3*i+2]}
	}
	return out, nil
}

// CoefficientChunk holds one k-point's coefficients as a (band, spin plane,
// local G) array. Spin planes of a band are contiguous, so for spin plane 0
// Index reduces to band*GCount*SpinMult + g.
type CoefficientChunk struct {
	NumBands int
	SpinMult int
	GCount   int
	Values   []complex128
}

// NewCoefficientChunk allocates a zeroed chunk.
func NewCoefficientChunk(numBands, spinMult, gCount int) CoefficientChunk {
	return CoefficientChunk{
		NumBands: numBands,
		SpinMult: spinMult,
		GCount:   gCount,
		Values:   make([]complex128, numBands*spinMult*gCount),
	}
}

// Index linearizes (band, spin plane, local G).
func (c CoefficientChunk) Index(band, spin, g int) int {
	return (band*c.SpinMult+spin)*c.GCount + g
}

// At returns the coefficient at (band, spin plane, local G).
func (c CoefficientChunk) At(band, spin, g int) complex128 {
	return c.Values[c.Index(band, spin, g)]
}

// Band returns the slice of all spin planes of one band, plane 0 first.
// The slice aliases Values.
func (c CoefficientChunk) Band(band int) []complex128 {
	start := c.Index(band, 0, 0)
	return c.Values[start : start+c.SpinMult*c.GCount]
}

func (c CoefficientChunk) validate() error {
	if c.NumBands <= 0 || c.SpinMult <= 0 || c.GCount <= 0 {
		return fmt.Errorf("%w: empty coefficient chunk %dx%dx%d", ErrShapeMismatch, c.NumBands, c.SpinMult, c.GCount)
	}
	if want := c.NumBands * c.SpinMult * c.GCount; len(c.Values) != want {
		return fmt.Errorf("%w: coefficient chunk holds %d values, want %d", ErrShapeMismatch, len(c.Values), want)
	}
	return nil
}

// EncodeCoefficients flattens the chunk into (re, im) float64 pairs in
// band, spin plane, local G order. The result matches the row-major layout
// of a (nb, ns, ng, 2) hyperslab.
func EncodeCoefficients(c CoefficientChunk) ([]float64, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	out := make([]float64, 2*len(c.Values))
	for i, v := range c.Values {
		out[2*i] = real(v)
		out[2*i+1] = imag(v)
	}
	return out, nil
}

// DecodeCoefficients is the inverse of EncodeCoefficients. flat must hold
// exactly numBands*spinMult*gCount pairs.
func DecodeCoefficients(flat []float64, numBands, spinMult, gCount int) (CoefficientChunk, error) {
	if numBands <= 0 || spinMult <= 0 || gCount <= 0 {
		return CoefficientChunk{}, fmt.Errorf("%w: empty coefficient chunk %dx%dx%d", ErrShapeMismatch, numBands, spinMult, gCount)
	}
	n := numBands * spinMult * gCount
	if len(flat) != 2*n {
		return CoefficientChunk{}, fmt.Errorf("%w: got %d floats, want %d (re,im) pairs", ErrShapeMismatch, len(flat), n)
	}
	c := CoefficientChunk{NumBands: numBands, SpinMult: spinMult, GCount: gCount, Values: make([]complex128, n)}
	for i := range c.Values {
		c.Values[i] = complex(flat[2*i], flat[2*i+1])
	}
	return c, nil
}
