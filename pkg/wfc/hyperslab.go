package wfc

import (
	"fmt"
	"math/bits"
)

// Runs decomposes the rectangular selection (offset, count) of a row-major
// array with the given dims into maximal contiguous runs. For each run fn
// receives the element offset into the array, the element offset into a
// packed selection buffer, and the run length in elements. Runs are visited
// in row-major order, so bufOff increases monotonically.
func Runs(dims, offset, count []uint64, fn func(elemOff, bufOff, n uint64) error) error {
	if _, err := checkSelection(dims, offset, count); err != nil {
		return err
	}
	rank := len(dims)

	strides := make([]uint64, rank)
	strides[rank-1] = 1
	for i := rank - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * dims[i+1]
	}

	// Axes after split are selected in full, so each run spans count[split]
	// rows of the sub-array below it.
	split := rank - 1
	for split > 0 && count[split] == dims[split] && offset[split] == 0 {
		split--
	}
	runLen := count[split] * strides[split]

	base := uint64(0)
	for i := split; i < rank; i++ {
		base += offset[i] * strides[i]
	}

	idx := make([]uint64, split)
	var bufOff uint64
	for {
		elemOff := base
		for i := range split {
			elemOff += (offset[i] + idx[i]) * strides[i]
		}
		if err := fn(elemOff, bufOff, runLen); err != nil {
			return err
		}
		bufOff += runLen

		i := split - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < count[i] {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return nil
		}
	}
}

// checkSelection validates a selection against dims and returns its element
// count. A selection must be non-empty along every axis.
func checkSelection(dims, offset, count []uint64) (uint64, error) {
	if len(dims) == 0 || len(offset) != len(dims) || len(count) != len(dims) {
		return 0, fmt.Errorf("%w: rank %d selection on rank %d dataset", ErrOutOfBounds, len(count), len(dims))
	}
	n := uint64(1)
	for i := range dims {
		end, carry := bits.Add64(offset[i], count[i], 0)
		if carry != 0 || end > dims[i] || count[i] == 0 {
			return 0, fmt.Errorf("%w: axis %d offset %d count %d dim %d", ErrOutOfBounds, i, offset[i], count[i], dims[i])
		}
		n *= count[i]
	}
	return n, nil
}
