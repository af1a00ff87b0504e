package wfn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
)

// Diff is the largest disagreement found between two wavefunction sources.
type Diff struct {
	// MaxGVectorDelta is max |a-b| over all Miller index components.
	MaxGVectorDelta int64
	// MaxCoefficientDelta is max |a-b| over all complex coefficients.
	MaxCoefficientDelta float64
	// WorstKPoint is where MaxCoefficientDelta occurs, or -1 when both
	// sources agree exactly.
	WorstKPoint int
	Chunks      int
}

// Identical reports whether no difference was found.
func (d Diff) Identical() bool {
	return d.MaxGVectorDelta == 0 && d.MaxCoefficientDelta == 0
}

// Within reports whether G-vectors agree exactly and coefficients agree to tol.
func (d Diff) Within(tol float64) bool {
	return d.MaxGVectorDelta == 0 && d.MaxCoefficientDelta <= tol
}

type diffAcc struct {
	mu   sync.Mutex
	diff Diff
}

func (a *diffAcc) add(k int, gDelta int64, cDelta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.diff.Chunks++
	a.diff.MaxGVectorDelta = max(a.diff.MaxGVectorDelta, gDelta)
	if cDelta > a.diff.MaxCoefficientDelta {
		a.diff.MaxCoefficientDelta = cDelta
		a.diff.WorstKPoint = k
	}
}

// Compare walks two stores chunk by chunk.
func (t *Transcoder) Compare(ctx context.Context, a, b Store) (diff Diff, err error) {
	agds, acds, err := t.OpenDatasets(a)
	if err != nil {
		return Diff{}, fmt.Errorf("first store: %w", err)
	}
	defer func() { err = errors.Join(err, closeErr(agds.Close()), closeErr(acds.Close())) }()

	bgds, bcds, err := t.OpenDatasets(b)
	if err != nil {
		return Diff{}, fmt.Errorf("second store: %w", err)
	}
	defer func() { err = errors.Join(err, closeErr(bgds.Close()), closeErr(bcds.Close())) }()

	acc := &diffAcc{diff: Diff{WorstKPoint: -1}}
	err = t.forEachChunk(ctx, func(k int) error {
		ag, ac, err := t.ReadChunk(agds, acds, k)
		if err != nil {
			return chunkErr("compare", k, -1, err)
		}
		bg, bc, err := t.ReadChunk(bgds, bcds, k)
		if err != nil {
			return chunkErr("compare", k, -1, err)
		}
		acc.add(k, gvecDelta(ag, bg), coeffDelta(ac.Values, bc.Values))
		return nil
	})
	return acc.diff, err
}

// CompareRecords walks a store against a record set using the configured
// spin layout.
func (t *Transcoder) CompareRecords(ctx context.Context, s Store, r RecordReader) (diff Diff, err error) {
	gds, cds, err := t.OpenDatasets(s)
	if err != nil {
		return Diff{}, err
	}
	defer func() { err = errors.Join(err, closeErr(gds.Close()), closeErr(cds.Close())) }()

	layout := t.opts.SpinLayout
	acc := &diffAcc{diff: Diff{WorstKPoint: -1}}
	err = t.forEachChunk(ctx, func(k int) error {
		g, c, err := t.ReadChunk(gds, cds, k)
		if err != nil {
			return chunkErr("compare", k, -1, err)
		}
		rg, err := r.ReadGVectors(k, len(g))
		if err != nil {
			return chunkErr("compare", k, -1, storeErr(err))
		}
		var cDelta float64
		for band := 0; band < t.shape.NumBands; band++ {
			want := layout.BandRecord(c, band)
			got, err := r.ReadCoefficients(k, band, len(want))
			if err != nil {
				return chunkErr("compare", k, band, storeErr(err))
			}
			cDelta = max(cDelta, coeffDelta(want, got))
		}
		acc.add(k, gvecDelta(g, rg), cDelta)
		return nil
	})
	return acc.diff, err
}

func gvecDelta(a, b GVectorChunk) int64 {
	if len(a) != len(b) {
		return math.MaxInt64
	}
	var d int64
	for i := range a {
		for j := range 3 {
			d = max(d, absInt64(int64(a[i][j])-int64(b[i][j])))
		}
	}
	return d
}

// coeffDelta is max |a-b|. A NaN component equals only another NaN; against
// any number it is infinitely far.
func coeffDelta(a, b []complex128) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var d float64
	for i := range a {
		re := partDelta(real(a[i]), real(b[i]))
		im := partDelta(imag(a[i]), imag(b[i]))
		d = max(d, math.Hypot(re, im))
	}
	return d
}

func partDelta(x, y float64) float64 {
	xn, yn := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xn && yn, x == y:
		return 0
	case xn || yn:
		return math.Inf(1)
	}
	return math.Abs(x - y)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
