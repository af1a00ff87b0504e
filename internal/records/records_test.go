package records

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/wfnconv/internal/wfn"
	"github.com/samcharles93/wfnconv/internal/wfn/wfntest"
)

func TestFileNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "gvecs_ik_03.dat", GVectorFile(3))
	assert.Equal(t, "gvecs_ik_123.dat", GVectorFile(123))
	assert.Equal(t, "coeffs_ik_01_ib_0042.dat", CoefficientFile(1, 42))
}

func TestFormatLines(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, FormatGVectors(&buf, wfn.GVectorChunk{{0, 1, 2}, {-1, 10, -300}}))
	assert.Equal(t, "   0    1    2\n  -1   10 -300\n", buf.String())

	buf.Reset()
	require.NoError(t, FormatCoefficients(&buf, []complex128{complex(1.5, -2), complex(-1e-300, 123456.789)}, DefaultPrecision))
	assert.Equal(t, " 1.500000e+00 -2.000000e+00\n-1.000000e-300  1.234568e+05\n", buf.String())
}

func TestParseAcceptsLooseWhitespace(t *testing.T) {
	t.Parallel()

	g, err := ParseGVectors(strings.NewReader("1 2 3\n\n\t-4   5 6  \n"), "g", 2)
	require.NoError(t, err)
	assert.Equal(t, wfn.GVectorChunk{{1, 2, 3}, {-4, 5, 6}}, g)

	c, err := ParseCoefficients(strings.NewReader("1.5E+00 -2\n  3e-1 4.0\n"), "c", 2)
	require.NoError(t, err)
	assert.Equal(t, []complex128{complex(1.5, -2), complex(0.3, 4)}, c)
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, input string
		count       int
		msg         string
		gvecs       bool
	}{
		{"short", "1 2 3\n", 2, "g: 1 lines, want 2", true},
		{"long", "1 2 3\n4 5 6\n", 1, "g:2: more than 1 lines", true},
		{"tokens", "1 2\n", 1, "g:1: want 3 integers", true},
		{"overflow", "1 2 3000000000\n", 1, "g:1: \"3000000000\" is not an int32", true},
		{"number", "1.0 x\n", 1, "c:1: \"x\" is not a number", false},
		{"pairs", "1.0 2.0 3.0\n", 1, "c:1: want 2 numbers", false},
	}
	for _, tc := range tests {
		var err error
		if tc.gvecs {
			_, err = ParseGVectors(strings.NewReader(tc.input), "g", tc.count)
		} else {
			_, err = ParseCoefficients(strings.NewReader(tc.input), "c", tc.count)
		}
		require.ErrorIs(t, err, wfn.ErrRecordFormat, tc.name)
		assert.Contains(t, err.Error(), tc.msg, tc.name)
	}
}

func TestExactPrecisionRoundTrip(t *testing.T) {
	t.Parallel()

	values := []complex128{
		complex(math.Pi, -math.E),
		complex(math.SmallestNonzeroFloat64, math.MaxFloat64),
		complex(1.0/3, -0.1),
	}
	var buf bytes.Buffer
	require.NoError(t, FormatCoefficients(&buf, values, ExactPrecision))
	back, err := ParseCoefficients(&buf, "c", len(values))
	require.NoError(t, err)
	assert.Equal(t, values, back)
}

func TestDirRecords(t *testing.T) {
	t.Parallel()

	d, err := Create(filepath.Join(t.TempDir(), "out", "records"), Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultPrecision, d.Precision())

	require.NoError(t, d.WriteGVectors(0, wfn.GVectorChunk{{0, 1, 2}}))
	require.NoError(t, d.WriteCoefficients(0, 1, []complex128{complex(0.5, 0.25)}))

	g, err := d.ReadGVectors(0, 1)
	require.NoError(t, err)
	assert.Equal(t, wfn.GVectorChunk{{0, 1, 2}}, g)
	c, err := d.ReadCoefficients(0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []complex128{complex(0.5, 0.25)}, c)

	_, err = d.ReadCoefficients(0, 2, 1)
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Equal(t, []string{"coeffs_ik_00_ib_0001.dat", "gvecs_ik_00.dat"}, d.Written())

	entries, err := os.ReadDir(d.Path())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "leftover temp file %s", e.Name())
	}
}

func TestOpenRequiresDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Open(filepath.Join(dir, "missing"), Options{})
	assert.ErrorIs(t, err, wfn.ErrStoreIO)

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Open(file, Options{})
	assert.ErrorIs(t, err, wfn.ErrStoreIO)
}

func TestHeaderAndManifest(t *testing.T) {
	t.Parallel()

	d, err := Create(t.TempDir(), Options{Precision: ExactPrecision})
	require.NoError(t, err)

	s, err := wfn.NewShape(2, 1, 1, 2, []int{3, 2})
	require.NoError(t, err)
	require.NoError(t, d.WriteHeader(s))
	back, err := d.ReadHeader()
	require.NoError(t, err)
	assert.True(t, s.Equal(back))

	_, ok, err := d.ReadManifest()
	require.NoError(t, err)
	assert.False(t, ok)

	m := NewManifest(s, wfn.SpinLegacy, d.Precision())
	m.Records = []string{"gvecs_ik_00.dat"}
	require.NoError(t, d.WriteManifest(m))

	got, ok, err := d.ReadManifest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, m.RunID, got.RunID)
	assert.Equal(t, "legacy", got.SpinLayout)
	assert.Equal(t, ExactPrecision, got.Precision)
	assert.Equal(t, m.Records, got.Records)
	assert.NoError(t, got.Check(s, wfn.SpinLegacy))

	other, err := wfn.NewShape(2, 1, 1, 2, []int{3, 3})
	require.NoError(t, err)
	assert.ErrorIs(t, got.Check(other, wfn.SpinLegacy), wfn.ErrShapeMismatch)
	assert.ErrorIs(t, got.Check(s, wfn.SpinPlanes), wfn.ErrShapeMismatch)
}

func TestBadManifest(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), []byte("{"), 0o644))
	d, err := Open(dir, Options{})
	require.NoError(t, err)
	_, _, err = d.ReadManifest()
	assert.ErrorIs(t, err, wfn.ErrRecordFormat)
}

func TestTranscodeThroughDirectory(t *testing.T) {
	t.Parallel()

	s, err := wfn.NewShape(3, 2, 1, 2, []int{4, 1, 3})
	require.NoError(t, err)
	src := wfntest.Populate(s)

	d, err := Create(t.TempDir(), Options{Precision: ExactPrecision})
	require.NoError(t, err)
	tc, err := wfn.NewTranscoder(s, wfn.Options{Workers: 3})
	require.NoError(t, err)

	_, err = tc.Export(context.Background(), src, d)
	require.NoError(t, err)
	assert.Len(t, d.Written(), 3*(1+2))

	dst := wfntest.NewMemStore()
	_, err = tc.Import(context.Background(), dst, d)
	require.NoError(t, err)

	diff, err := tc.Compare(context.Background(), src, dst)
	require.NoError(t, err)
	assert.True(t, diff.Identical(), "%+v", diff)

	rd, err := tc.CompareRecords(context.Background(), src, d)
	require.NoError(t, err)
	assert.True(t, rd.Identical())
}

func TestImportReportsMalformedRecord(t *testing.T) {
	t.Parallel()

	s, err := wfn.NewShape(2, 1, 1, 1, []int{1, 2})
	require.NoError(t, err)
	d, err := Create(t.TempDir(), Options{})
	require.NoError(t, err)
	tc, err := wfn.NewTranscoder(s, wfn.Options{})
	require.NoError(t, err)
	_, err = tc.Export(context.Background(), wfntest.Populate(s), d)
	require.NoError(t, err)

	bad := filepath.Join(d.Path(), CoefficientFile(1, 0))
	require.NoError(t, os.WriteFile(bad, []byte("1.0 2.0\nnope 3.0\n"), 0o644))

	_, err = tc.Import(context.Background(), wfntest.NewMemStore(), d)
	require.ErrorIs(t, err, wfn.ErrRecordFormat)
	var ce *wfn.ChunkError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 1, ce.KPoint)
	assert.Equal(t, 0, ce.Band)
	assert.Contains(t, err.Error(), "coeffs_ik_01_ib_0000.dat:2")
}
