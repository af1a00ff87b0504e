// Package server exposes a wavefunction store over read-only HTTP.
//
// Routes:
//
//	GET /v1/shape                            header parameters (JSON)
//	GET /v1/kpoints                          offset table (JSON)
//	GET /v1/kpoints/:ik/gvecs                G-vector record (text)
//	GET /v1/kpoints/:ik/bands/:ib/coeffs     coefficient record (text)
//
// Records are rendered exactly as the export command writes them.
package server

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/wfnconv/internal/logger"
	"github.com/samcharles93/wfnconv/internal/records"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

// Options configures a Server.
type Options struct {
	// Precision of coefficient lines; <= 0 selects records.DefaultPrecision.
	Precision int
	// Source labels the store in /v1/shape.
	Source string
	Logger logger.Logger
}

// Server serves one opened store. Handlers may run concurrently; the
// underlying datasets must tolerate concurrent reads.
type Server struct {
	tc        *wfn.Transcoder
	gds       wfn.Dataset[int32]
	cds       wfn.Dataset[float64]
	precision int
	source    string
	log       logger.Logger
}

// New opens the G-vector and coefficient datasets of store. The caller keeps
// ownership of store; Close releases only the datasets.
func New(store wfn.Store, tc *wfn.Transcoder, opts Options) (*Server, error) {
	gds, cds, err := tc.OpenDatasets(store)
	if err != nil {
		return nil, err
	}
	p := opts.Precision
	if p <= 0 {
		p = records.DefaultPrecision
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Server{tc: tc, gds: gds, cds: cds, precision: p, source: opts.Source, log: log}, nil
}

// Close releases the datasets opened by New.
func (s *Server) Close() error {
	return errors.Join(s.gds.Close(), s.cds.Close())
}

// Register mounts the read-only /v1 routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/shape", s.handleShape)
	e.GET("/v1/kpoints", s.handleKPoints)
	e.GET("/v1/kpoints/:ik/gvecs", s.handleGVectors)
	e.GET("/v1/kpoints/:ik/bands/:ib/coeffs", s.handleCoefficients)
}

// ShapeResponse is the body of GET /v1/shape.
type ShapeResponse struct {
	Source     string            `json:"source,omitempty"`
	Shape      records.ShapeInfo `json:"shape"`
	TotalGVecs uint64            `json:"total_gvecs"`
	SpinLayout string            `json:"spin_layout"`
	Precision  int               `json:"precision"`
}

// KPoint is one entry of GET /v1/kpoints: the k-point's window on the
// global G-vector axis.
type KPoint struct {
	K       int    `json:"k"`
	GCount  uint64 `json:"ng"`
	GOffset uint64 `json:"offset"`
}

// ErrorBody is the "error" member of every non-2xx response.
type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType},
	})
}

func (s *Server) handleShape(c *echo.Context) error {
	return c.JSON(http.StatusOK, ShapeResponse{
		Source:     s.source,
		Shape:      records.NewShapeInfo(s.tc.Shape()),
		TotalGVecs: s.tc.Table().TotalGVecs(),
		SpinLayout: s.tc.SpinLayout().String(),
		Precision:  s.precision,
	})
}

func (s *Server) handleKPoints(c *echo.Context) error {
	chunks := s.tc.Table().Chunks()
	out := make([]KPoint, len(chunks))
	for i, ch := range chunks {
		out[i] = KPoint{K: ch.KIndex, GCount: ch.GCount, GOffset: ch.GOffset}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGVectors(c *echo.Context) error {
	k, ok, err := s.indexParam(c, "ik", s.tc.Table().Len())
	if !ok {
		return err
	}
	g, _, err := s.tc.ReadChunk(s.gds, s.cds, k)
	if err != nil {
		return s.storeError(c, k, err)
	}
	var buf bytes.Buffer
	if err := records.FormatGVectors(&buf, g); err != nil {
		return s.storeError(c, k, err)
	}
	c.Response().Header().Set("Content-Disposition", "inline; filename="+records.GVectorFile(k))
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, buf.Bytes())
}

func (s *Server) handleCoefficients(c *echo.Context) error {
	k, ok, err := s.indexParam(c, "ik", s.tc.Table().Len())
	if !ok {
		return err
	}
	band, ok, err := s.indexParam(c, "ib", s.tc.Shape().NumBands)
	if !ok {
		return err
	}
	_, chunk, err := s.tc.ReadChunk(s.gds, s.cds, k)
	if err != nil {
		return s.storeError(c, k, err)
	}
	var buf bytes.Buffer
	if err := records.FormatCoefficients(&buf, s.tc.SpinLayout().BandRecord(chunk, band), s.precision); err != nil {
		return s.storeError(c, k, err)
	}
	c.Response().Header().Set("Content-Disposition", "inline; filename="+records.CoefficientFile(k, band))
	return c.Blob(http.StatusOK, echo.MIMETextPlainCharsetUTF8, buf.Bytes())
}

// indexParam parses a non-negative index below limit. When ok is false the
// error response has been written and err is the result of writing it.
func (s *Server) indexParam(c *echo.Context, name string, limit int) (n int, ok bool, err error) {
	raw := c.Param(name)
	n, perr := strconv.Atoi(raw)
	if perr != nil || n < 0 {
		return 0, false, writeError(c, http.StatusBadRequest, "invalid_request", fmt.Sprintf("%s must be a non-negative integer, got %q", name, raw))
	}
	if n >= limit {
		return 0, false, writeError(c, http.StatusNotFound, "not_found", fmt.Sprintf("%s %d out of range [0,%d)", name, n, limit))
	}
	return n, true, nil
}

func (s *Server) storeError(c *echo.Context, k int, err error) error {
	s.log.Error("read chunk failed", "k", k, "error", err)
	return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
}
