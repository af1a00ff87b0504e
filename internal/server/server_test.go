package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/wfnconv/internal/records"
	"github.com/samcharles93/wfnconv/internal/wfn"
	"github.com/samcharles93/wfnconv/internal/wfn/wfntest"
)

func newTestEcho(t *testing.T, layout wfn.SpinLayout) *echo.Echo {
	t.Helper()
	shape, err := wfn.NewShape(2, 2, 1, 2, []int{3, 2})
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	tc, err := wfn.NewTranscoder(shape, wfn.Options{SpinLayout: layout})
	if err != nil {
		t.Fatalf("transcoder: %v", err)
	}
	srv, err := New(wfntest.Populate(shape), tc, Options{Precision: records.ExactPrecision, Source: "mem"})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	e := echo.New()
	srv.Register(e)
	return e
}

func doGet(t *testing.T, e *echo.Echo, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestShape(t *testing.T) {
	t.Parallel()

	rec := doGet(t, newTestEcho(t, wfn.SpinPlanes), "/v1/shape")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	var resp ShapeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Source != "mem" || resp.TotalGVecs != 5 || resp.SpinLayout != "planes" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Shape.NumSpin != 2 || len(resp.Shape.GVecCounts) != 2 || resp.Shape.GVecCounts[0] != 3 {
		t.Fatalf("unexpected shape: %+v", resp.Shape)
	}
}

func TestKPoints(t *testing.T) {
	t.Parallel()

	rec := doGet(t, newTestEcho(t, wfn.SpinPlanes), "/v1/kpoints")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	var got []KPoint
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []KPoint{{K: 0, GCount: 3, GOffset: 0}, {K: 1, GCount: 2, GOffset: 3}}
	if len(got) != len(want) {
		t.Fatalf("got %d k-points, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("k-point %d: got %+v want %+v", i, got[i], want[i])
		}
	}
}

func TestGVectorRecord(t *testing.T) {
	t.Parallel()

	rec := doGet(t, newTestEcho(t, wfn.SpinPlanes), "/v1/kpoints/1/gvecs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type: %q", ct)
	}
	if got, want := rec.Body.String(), "   3    4    5\n   4    5    6\n"; got != want {
		t.Fatalf("body: got %q want %q", got, want)
	}
}

func TestCoefficientRecord(t *testing.T) {
	t.Parallel()

	tests := []struct {
		layout wfn.SpinLayout
		want   []complex128
	}{
		{wfn.SpinPlanes, []complex128{
			wfntest.Coefficient(1, 0, 3), wfntest.Coefficient(1, 0, 4),
			wfntest.Coefficient(1, 1, 3), wfntest.Coefficient(1, 1, 4),
		}},
		{wfn.SpinLegacy, []complex128{
			wfntest.Coefficient(1, 0, 3), wfntest.Coefficient(1, 0, 4),
		}},
	}
	for _, tc := range tests {
		rec := doGet(t, newTestEcho(t, tc.layout), "/v1/kpoints/1/bands/1/coeffs")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d body=%s", tc.layout, rec.Code, rec.Body.String())
		}
		got, err := records.ParseCoefficients(rec.Body, "body", len(tc.want))
		if err != nil {
			t.Fatalf("%s: parse: %v", tc.layout, err)
		}
		for i := range tc.want {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: line %d got %v want %v", tc.layout, i, got[i], tc.want[i])
			}
		}
	}
}

func TestIndexErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, wfn.SpinPlanes)
	tests := []struct {
		path    string
		status  int
		errType string
	}{
		{"/v1/kpoints/x/gvecs", http.StatusBadRequest, "invalid_request"},
		{"/v1/kpoints/-1/gvecs", http.StatusBadRequest, "invalid_request"},
		{"/v1/kpoints/2/gvecs", http.StatusNotFound, "not_found"},
		{"/v1/kpoints/0/bands/2/coeffs", http.StatusNotFound, "not_found"},
		{"/v1/kpoints/0/bands/b/coeffs", http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range tests {
		rec := doGet(t, e, tc.path)
		if rec.Code != tc.status {
			t.Fatalf("%s: got %d want %d", tc.path, rec.Code, tc.status)
		}
		var body struct {
			Error ErrorBody `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", tc.path, err)
		}
		if body.Error.Type != tc.errType || body.Error.Message == "" {
			t.Fatalf("%s: unexpected error body %+v", tc.path, body.Error)
		}
	}
}

func TestStoreFailureIsServerError(t *testing.T) {
	t.Parallel()

	shape, err := wfn.NewShape(1, 1, 1, 1, []int{2})
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	store := wfntest.Populate(shape)
	store.Int32(wfn.DatasetGVectors).Fail = func(wfn.Selection) error { return wfn.ErrStoreIO }
	tc, err := wfn.NewTranscoder(shape, wfn.Options{})
	if err != nil {
		t.Fatalf("transcoder: %v", err)
	}
	srv, err := New(store, tc, Options{})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	e := echo.New()
	srv.Register(e)

	rec := doGet(t, e, "/v1/kpoints/0/gvecs")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d", rec.Code)
	}
}

func TestNewRejectsMismatchedStore(t *testing.T) {
	t.Parallel()

	small, err := wfn.NewShape(1, 1, 1, 1, []int{2})
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	big, err := wfn.NewShape(1, 1, 1, 1, []int{4})
	if err != nil {
		t.Fatalf("shape: %v", err)
	}
	tc, err := wfn.NewTranscoder(big, wfn.Options{})
	if err != nil {
		t.Fatalf("transcoder: %v", err)
	}
	if _, err := New(wfntest.Populate(small), tc, Options{}); err == nil {
		t.Fatal("expected shape mismatch")
	}
}
