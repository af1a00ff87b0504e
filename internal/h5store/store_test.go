package h5store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/wfnconv/internal/records"
	"github.com/samcharles93/wfnconv/internal/wfn"
	"github.com/samcharles93/wfnconv/internal/wfn/wfntest"
)

// testdata/gen_wfn_small.py regenerates both files.
const (
	smallFile    = "testdata/wfn_small.h5"
	shortNgkFile = "testdata/wfn_short_ngk.h5"
)

func openFile(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/wfns/gvecs", canonical("wfns/gvecs"))
	assert.Equal(t, "/wfns/gvecs", canonical("/wfns/gvecs/"))
}

func TestOpenMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Open(filepath.Join(t.TempDir(), "missing.h5"))
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
}

func TestDatasetsAndShape(t *testing.T) {
	t.Parallel()

	s := openFile(t, smallFile)
	assert.Equal(t, []string{
		wfn.DatasetNumBands,
		wfn.DatasetGVecCounts,
		wfn.DatasetNumKPoints,
		wfn.DatasetNumSpin,
		wfn.DatasetNumSpinor,
		wfn.DatasetCoefficients,
		wfn.DatasetGVectors,
	}, s.Datasets())

	shape, err := s.Shape()
	require.NoError(t, err)
	want, err := wfn.NewShape(2, 1, 1, 2, []int{3, 2})
	require.NoError(t, err)
	assert.True(t, want.Equal(shape), "got %s", shape)

	gds, err := s.OpenInt32(wfn.DatasetGVectors)
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 3}, gds.Dims())

	cds, err := s.OpenFloat64("wfns/coeffs")
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1, 5, 2}, cds.Dims())
}

func TestReadHyperslab(t *testing.T) {
	t.Parallel()

	s := openFile(t, smallFile)
	gds, err := s.OpenInt32(wfn.DatasetGVectors)
	require.NoError(t, err)

	rows := make([]int32, 6)
	require.NoError(t, gds.ReadHyperslab(wfn.Selection{Offset: []uint64{3, 0}, Count: []uint64{2, 3}}, rows))
	assert.Equal(t, []int32{3, 4, 5, 4, 5, 6}, rows)

	cds, err := s.OpenFloat64(wfn.DatasetCoefficients)
	require.NoError(t, err)

	// Band 1, G-vectors 3..4.
	vals := make([]float64, 4)
	require.NoError(t, cds.ReadHyperslab(wfn.Selection{Offset: []uint64{1, 0, 3, 0}, Count: []uint64{1, 1, 2, 2}}, vals))
	assert.Equal(t, []float64{1003, -1003.25, 1004, -1004.25}, vals)
}

func TestExportFromFile(t *testing.T) {
	t.Parallel()

	s := openFile(t, smallFile)
	shape, err := s.Shape()
	require.NoError(t, err)
	tc, err := wfn.NewTranscoder(shape, wfn.Options{Workers: 2})
	require.NoError(t, err)

	dir, err := records.Create(t.TempDir(), records.Options{Precision: records.ExactPrecision})
	require.NoError(t, err)
	stats, err := tc.Export(context.Background(), s, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, uint64(5), stats.GVectors)

	raw, err := os.ReadFile(filepath.Join(dir.Path(), records.GVectorFile(0)))
	require.NoError(t, err)
	assert.Equal(t, "   0    1    2\n   1    2    3\n   2    3    4\n", string(raw))
	raw, err = os.ReadFile(filepath.Join(dir.Path(), records.GVectorFile(1)))
	require.NoError(t, err)
	assert.Equal(t, "   3    4    5\n   4    5    6\n", string(raw))

	offset := 0
	for k, ng := range shape.GVecCounts() {
		for b := range shape.NumBands {
			got, err := dir.ReadCoefficients(k, b, ng)
			require.NoError(t, err)
			for g, v := range got {
				assert.Equal(t, wfntest.Coefficient(b, 0, offset+g), v, "k=%d band=%d g=%d", k, b, g)
			}
		}
		offset += ng
	}

	diff, err := tc.Compare(context.Background(), s, wfntest.Populate(shape))
	require.NoError(t, err)
	assert.True(t, diff.Identical(), "%+v", diff)
}

func TestHeaderDisagreesWithStoredArrays(t *testing.T) {
	t.Parallel()

	s := openFile(t, shortNgkFile)
	shape, err := s.Shape()
	require.NoError(t, err)
	assert.Equal(t, 4, shape.TotalGVecs())

	_, err = s.OpenInt32(wfn.DatasetGVectors)
	assert.ErrorIs(t, err, wfn.ErrShapeMismatch)
	_, err = s.OpenFloat64(wfn.DatasetCoefficients)
	assert.ErrorIs(t, err, wfn.ErrShapeMismatch)

	tc, err := wfn.NewTranscoder(shape, wfn.Options{})
	require.NoError(t, err)
	_, err = tc.Export(context.Background(), s, wfntest.NewMemRecords())
	assert.ErrorIs(t, err, wfn.ErrShapeMismatch)
}

func TestMissingDataset(t *testing.T) {
	t.Parallel()

	s := openFile(t, smallFile)
	_, err := s.OpenFloat64("/wfns/occupations")
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
}

func TestReadAfterClose(t *testing.T) {
	t.Parallel()

	s, err := Open(smallFile)
	require.NoError(t, err)
	gds, err := s.OpenInt32(wfn.DatasetGVectors)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = gds.ReadHyperslab(wfn.Selection{Offset: []uint64{0, 0}, Count: []uint64{1, 3}}, make([]int32, 3))
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
	_, err = s.OpenInt32(wfn.DatasetNumKPoints)
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
}

func TestWritesAreRejected(t *testing.T) {
	t.Parallel()

	d := &dataset[float64]{name: "/wfns/coeffs", dims: []uint64{1, 1, 1, 2}}
	err := d.WriteHyperslab(wfn.Selection{}, nil)
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
}

func TestReadValidatesSelection(t *testing.T) {
	t.Parallel()

	d := &dataset[int32]{store: &Store{}, name: "/wfns/gvecs", dims: []uint64{5, 3}, values: make([]float64, 15)}
	err := d.ReadHyperslab(wfn.Selection{Offset: []uint64{4, 0}, Count: []uint64{2, 3}}, make([]int32, 6))
	assert.ErrorIs(t, err, wfn.ErrShapeMismatch)

	err = d.ReadHyperslab(wfn.Selection{Offset: []uint64{0, 0}, Count: []uint64{1, 3}}, make([]int32, 6))
	assert.ErrorIs(t, err, wfn.ErrShapeMismatch)

	// Closed store.
	err = d.ReadHyperslab(wfn.Selection{Offset: []uint64{0, 0}, Count: []uint64{1, 3}}, make([]int32, 3))
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
}
