package wfn_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/wfnconv/internal/wfn"
	"github.com/samcharles93/wfnconv/internal/wfn/wfntest"
)

func mustShape(t *testing.T, nrk, nspin, nspinor, nb int, ngk ...int) wfn.Shape {
	t.Helper()
	s, err := wfn.NewShape(nrk, nspin, nspinor, nb, ngk)
	require.NoError(t, err)
	return s
}

func mustTranscoder(t *testing.T, s wfn.Shape, opts wfn.Options) *wfn.Transcoder {
	t.Helper()
	tc, err := wfn.NewTranscoder(s, opts)
	require.NoError(t, err)
	return tc
}

func TestExportWritesPerKPointRecords(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 2, 1, 1, 2, 3, 2)
	store := wfntest.Populate(s)
	recs := wfntest.NewMemRecords()

	stats, err := mustTranscoder(t, s, wfn.Options{}).Export(context.Background(), store, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 6, stats.Records)
	assert.Equal(t, uint64(5), stats.GVectors)

	g0, ok := recs.GVectors(0)
	require.True(t, ok)
	assert.Equal(t, wfn.GVectorChunk{{0, 1, 2}, {1, 2, 3}, {2, 3, 4}}, g0)
	g1, ok := recs.GVectors(1)
	require.True(t, ok)
	assert.Equal(t, wfn.GVectorChunk{{3, 4, 5}, {4, 5, 6}}, g1)

	c, ok := recs.Coefficients(1, 1)
	require.True(t, ok)
	assert.Equal(t, []complex128{wfntest.Coefficient(1, 0, 3), wfntest.Coefficient(1, 0, 4)}, c)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	shapes := map[string]wfn.Shape{
		"single chunk": mustShape(t, 1, 1, 1, 1, 1),
		"uneven":       mustShape(t, 4, 1, 1, 3, 5, 1, 8, 2),
		"spin":         mustShape(t, 3, 2, 1, 2, 4, 3, 6),
		"spinor":       mustShape(t, 2, 1, 2, 2, 2, 5),
	}
	for name, s := range shapes {
		for _, workers := range []int{1, 4} {
			src := wfntest.Populate(s)
			recs := wfntest.NewMemRecords()
			tc := mustTranscoder(t, s, wfn.Options{Workers: workers})

			_, err := tc.Export(context.Background(), src, recs)
			require.NoError(t, err, name)

			dst := wfntest.NewMemStore()
			stats, err := tc.Import(context.Background(), dst, recs)
			require.NoError(t, err, name)
			assert.Equal(t, s.NumKPoints, stats.Chunks, name)

			assert.Equal(t, src.Int32(wfn.DatasetGVectors).Data, dst.Int32(wfn.DatasetGVectors).Data, name)
			assert.Equal(t, src.Float64(wfn.DatasetCoefficients).Data, dst.Float64(wfn.DatasetCoefficients).Data, name)

			diff, err := tc.Compare(context.Background(), src, dst)
			require.NoError(t, err, name)
			assert.True(t, diff.Identical(), "%s: %+v", name, diff)
			assert.Equal(t, -1, diff.WorstKPoint)
		}
	}
}

func TestSpinPlanesKeepsEveryPlane(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 2, 2, 1, 2, 3, 2)
	recs := wfntest.NewMemRecords()
	tc := mustTranscoder(t, s, wfn.Options{SpinLayout: wfn.SpinPlanes})
	_, err := tc.Export(context.Background(), wfntest.Populate(s), recs)
	require.NoError(t, err)

	c, ok := recs.Coefficients(1, 0)
	require.True(t, ok)
	assert.Equal(t, []complex128{
		wfntest.Coefficient(0, 0, 3), wfntest.Coefficient(0, 0, 4),
		wfntest.Coefficient(0, 1, 3), wfntest.Coefficient(0, 1, 4),
	}, c)
}

func TestSpinLegacyDropsSecondPlane(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 2, 2, 1, 2, 3, 2)
	src := wfntest.Populate(s)
	recs := wfntest.NewMemRecords()
	tc := mustTranscoder(t, s, wfn.Options{SpinLayout: wfn.SpinLegacy, Workers: 2})

	_, err := tc.Export(context.Background(), src, recs)
	require.NoError(t, err)
	c, ok := recs.Coefficients(1, 1)
	require.True(t, ok)
	assert.Equal(t, []complex128{wfntest.Coefficient(1, 0, 3), wfntest.Coefficient(1, 0, 4)}, c)

	dst := wfntest.NewMemStore()
	_, err = tc.Import(context.Background(), dst, recs)
	require.NoError(t, err)

	coeffs := dst.Float64(wfn.DatasetCoefficients).Data
	total := s.TotalGVecs()
	at := func(b, sp, g int) complex128 {
		i := 2 * ((b*2+sp)*total + g)
		return complex(coeffs[i], coeffs[i+1])
	}
	for b := range 2 {
		for g := range total {
			assert.Equal(t, wfntest.Coefficient(b, 0, g), at(b, 0, g))
			assert.Zero(t, at(b, 1, g))
		}
	}

	diff, err := tc.Compare(context.Background(), src, dst)
	require.NoError(t, err)
	assert.False(t, diff.Identical())
	assert.Zero(t, diff.MaxGVectorDelta)

	recDiff, err := tc.CompareRecords(context.Background(), dst, recs)
	require.NoError(t, err)
	assert.True(t, recDiff.Identical())
}

func TestExportRejectsMismatchedStore(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 2, 1, 1, 2, 3, 2)
	store := wfntest.Populate(mustShape(t, 2, 1, 1, 2, 3, 3))
	recs := wfntest.NewMemRecords()

	_, err := mustTranscoder(t, s, wfn.Options{}).Export(context.Background(), store, recs)
	assert.ErrorIs(t, err, wfn.ErrShapeMismatch)
	assert.Zero(t, recs.Len(), "no record may be written before the shape check")
}

func TestExportMissingDataset(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 1, 1, 1, 1, 2)
	_, err := mustTranscoder(t, s, wfn.Options{}).Export(context.Background(), wfntest.NewMemStore(), wfntest.NewMemRecords())
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
	assert.ErrorIs(t, err, wfntest.ErrNotFound)
}

func TestExportReportsFailingChunk(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 3, 1, 1, 4, 2, 2, 2)
	recs := wfntest.NewMemRecords()
	recs.Fail = func(k, band int) error {
		if k == 1 && band == 2 {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := mustTranscoder(t, s, wfn.Options{}).Export(context.Background(), wfntest.Populate(s), recs)
	require.Error(t, err)
	assert.ErrorIs(t, err, wfn.ErrStoreIO)

	var ce *wfn.ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.KPoint)
	assert.Equal(t, 2, ce.Band)
	assert.Equal(t, "export", ce.Op)

	// Sequential mode stops at the first failure.
	_, ok := recs.GVectors(2)
	assert.False(t, ok)
}

func TestImportReportsStoreFailure(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 2, 1, 1, 1, 2, 2)
	recs := wfntest.NewMemRecords()
	tc := mustTranscoder(t, s, wfn.Options{})
	_, err := tc.Export(context.Background(), wfntest.Populate(s), recs)
	require.NoError(t, err)

	dst := &failingStore{MemStore: wfntest.NewMemStore(), failAt: 2}
	_, err = tc.Import(context.Background(), dst, recs)
	assert.ErrorIs(t, err, wfn.ErrStoreIO)

	var ce *wfn.ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.KPoint)
	assert.Equal(t, -1, ce.Band)
}

// failingStore fails G-vector writes whose offset is failAt.
type failingStore struct {
	*wfntest.MemStore
	failAt uint64
}

func (f *failingStore) CreateInt32(name string, dims []uint64) (wfn.Dataset[int32], error) {
	ds, err := f.MemStore.CreateInt32(name, dims)
	if err != nil {
		return nil, err
	}
	md := f.Int32(name)
	md.Fail = func(sel wfn.Selection) error {
		if sel.Offset[0] == f.failAt {
			return errors.New("write refused")
		}
		return nil
	}
	return ds, nil
}

func TestImportMissingRecord(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 2, 1, 1, 2, 1, 1)
	recs := wfntest.NewMemRecords()
	require.NoError(t, recs.WriteGVectors(0, wfn.GVectorChunk{{1, 1, 1}}))

	_, err := mustTranscoder(t, s, wfn.Options{}).Import(context.Background(), wfntest.NewMemStore(), recs)
	var ce *wfn.ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, ce.KPoint)
	assert.Equal(t, 0, ce.Band)
}

func TestImportWrongRecordLength(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 1, 1, 1, 1, 2)
	recs := wfntest.NewMemRecords()
	require.NoError(t, recs.WriteGVectors(0, wfn.GVectorChunk{{1, 1, 1}}))

	_, err := mustTranscoder(t, s, wfn.Options{}).Import(context.Background(), wfntest.NewMemStore(), recs)
	assert.ErrorIs(t, err, wfn.ErrRecordFormat)
}

func TestParallelExportVisitsEveryChunkOnce(t *testing.T) {
	t.Parallel()

	ngk := make([]int, 16)
	for i := range ngk {
		ngk[i] = 1 + i%5
	}
	s := mustShape(t, len(ngk), 1, 1, 2, ngk...)

	var (
		mu   sync.Mutex
		seen = map[int]int{}
	)
	tc := mustTranscoder(t, s, wfn.Options{
		Workers: 8,
		OnChunk: func(ev wfn.ChunkEvent) {
			mu.Lock()
			defer mu.Unlock()
			seen[ev.Chunk.KIndex]++
			assert.Equal(t, 3, ev.Records)
		},
	})
	recs := wfntest.NewMemRecords()
	stats, err := tc.Export(context.Background(), wfntest.Populate(s), recs)
	require.NoError(t, err)
	assert.Equal(t, len(ngk), stats.Chunks)
	assert.Len(t, seen, len(ngk))
	for k, n := range seen {
		assert.Equal(t, 1, n, "k-point %d", k)
	}
	assert.Equal(t, 3*len(ngk), recs.Len())
}

func TestSequentialExportOrder(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 5, 1, 1, 1, 1, 2, 3, 4, 5)
	var order []int
	tc := mustTranscoder(t, s, wfn.Options{
		Workers: 1,
		OnChunk: func(ev wfn.ChunkEvent) { order = append(order, ev.Chunk.KIndex) },
	})
	_, err := tc.Export(context.Background(), wfntest.Populate(s), wfntest.NewMemRecords())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestExportHonoursCancellation(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 3, 1, 1, 1, 1, 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	tc := mustTranscoder(t, s, wfn.Options{
		OnChunk: func(wfn.ChunkEvent) { cancel() },
	})
	recs := wfntest.NewMemRecords()
	_, err := tc.Export(ctx, wfntest.Populate(s), recs)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, recs.Len())
}

func TestCompareFindsWorstKPoint(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 2, 1, 1, 1, 2, 2)
	a := wfntest.Populate(s)
	b := wfntest.Populate(s)
	b.Float64(wfn.DatasetCoefficients).Data[2*3] += 0.5
	b.Int32(wfn.DatasetGVectors).Data[0] -= 2

	diff, err := mustTranscoder(t, s, wfn.Options{Workers: 2}).Compare(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, int64(2), diff.MaxGVectorDelta)
	assert.InDelta(t, 0.5, diff.MaxCoefficientDelta, 1e-12)
	assert.Equal(t, 1, diff.WorstKPoint)
	assert.Equal(t, 2, diff.Chunks)
	assert.False(t, diff.Within(1))
}

func TestCompareTreatsNaNAsDifferent(t *testing.T) {
	t.Parallel()

	s := mustShape(t, 2, 1, 1, 1, 3, 2)
	tc := mustTranscoder(t, s, wfn.Options{Workers: 2})
	a := wfntest.Populate(s)
	b := wfntest.Populate(s)
	b.Float64(wfn.DatasetCoefficients).Data[2] = math.NaN()

	diff, err := tc.Compare(context.Background(), a, b)
	require.NoError(t, err)
	assert.False(t, diff.Identical())
	assert.False(t, diff.Within(1e-12))
	assert.True(t, math.IsInf(diff.MaxCoefficientDelta, 1))
	assert.Equal(t, 0, diff.WorstKPoint)

	recs := wfntest.NewMemRecords()
	_, err = tc.Export(context.Background(), a, recs)
	require.NoError(t, err)
	diff, err = tc.CompareRecords(context.Background(), b, recs)
	require.NoError(t, err)
	assert.True(t, math.IsInf(diff.MaxCoefficientDelta, 1))
	assert.Equal(t, 0, diff.WorstKPoint)

	// The same NaN on both sides is not a difference.
	a.Float64(wfn.DatasetCoefficients).Data[2] = math.NaN()
	diff, err = tc.Compare(context.Background(), a, b)
	require.NoError(t, err)
	assert.True(t, diff.Identical(), "%+v", diff)
	assert.Equal(t, -1, diff.WorstKPoint)
}
