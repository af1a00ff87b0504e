package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wfnconv/internal/h5store"
	"github.com/samcharles93/wfnconv/internal/records"
	"github.com/samcharles93/wfnconv/internal/wfcstore"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

type datasetReport struct {
	Name  string   `json:"name"`
	DType string   `json:"dtype,omitempty"`
	Dims  []uint64 `json:"dims,omitempty"`
}

type chunkReport struct {
	K       int    `json:"k"`
	GCount  uint64 `json:"ng"`
	GOffset uint64 `json:"offset"`
}

type inspectReport struct {
	Path       string            `json:"path"`
	Shape      records.ShapeInfo `json:"shape"`
	TotalGVecs uint64            `json:"total_gvecs"`
	Datasets   []datasetReport   `json:"datasets"`
	KPoints    []chunkReport     `json:"kpoints"`
}

func inspectCmd() *cli.Command {
	var (
		inPath     string
		headerPath string
		asJSON     bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Show the header, datasets and k-point offset table of a store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "store to inspect (.h5/.hdf5 or .wfc)",
				Destination: &inPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "header",
				Usage:       "read the shape from this header.dat",
				Destination: &headerPath,
			},
			&cli.BoolFlag{Name: "json", Usage: "emit JSON", Destination: &asJSON},
		},
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			store, err := openStore(inPath)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, store.Close()) }()

			shape, err := resolveShape(store, headerPath)
			if err != nil {
				return err
			}
			rep, err := buildInspectReport(inPath, store, shape)
			if err != nil {
				return err
			}
			if asJSON {
				return writeInspectJSON(os.Stdout, rep)
			}
			return writeInspectText(os.Stdout, rep)
		},
	}
}

func buildInspectReport(path string, store wfn.Store, shape wfn.Shape) (inspectReport, error) {
	table, err := wfn.Plan(shape)
	if err != nil {
		return inspectReport{}, err
	}
	rep := inspectReport{
		Path:       path,
		Shape:      records.NewShapeInfo(shape),
		TotalGVecs: table.TotalGVecs(),
		Datasets:   listDatasets(store, shape),
	}
	for _, c := range table.Chunks() {
		rep.KPoints = append(rep.KPoints, chunkReport{K: c.KIndex, GCount: c.GCount, GOffset: c.GOffset})
	}
	return rep, nil
}

// listDatasets reports what the store holds. HDF5 dims are only known for
// the wavefunction arrays, which follow from the shape.
func listDatasets(store wfn.Store, shape wfn.Shape) []datasetReport {
	var out []datasetReport
	switch s := store.(type) {
	case *wfcstore.Store:
		for _, d := range s.Datasets() {
			out = append(out, datasetReport{Name: d.Name, DType: d.DType.String(), Dims: d.Dims})
		}
	case *h5store.Store:
		for _, name := range s.Datasets() {
			r := datasetReport{Name: name}
			switch name {
			case wfn.DatasetGVectors:
				r.Dims = shape.GVectorDims()
			case wfn.DatasetCoefficients:
				r.Dims = shape.CoefficientDims()
			}
			out = append(out, r)
		}
	}
	return out
}

func writeInspectJSON(w io.Writer, rep inspectReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func writeInspectText(w io.Writer, rep inspectReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", rep.Path)
	fmt.Fprintf(&b, "Shape: nrk=%d nspin=%d nspinor=%d nb=%d total_gvecs=%d\n",
		rep.Shape.NumKPoints, rep.Shape.NumSpin, rep.Shape.NumSpinor, rep.Shape.NumBands, rep.TotalGVecs)

	fmt.Fprintf(&b, "\nDatasets (%d):\n", len(rep.Datasets))
	for _, d := range rep.Datasets {
		dtype := d.DType
		if dtype == "" {
			dtype = "-"
		}
		dims := "-"
		if len(d.Dims) > 0 {
			dims = fmt.Sprint(d.Dims)
		}
		fmt.Fprintf(&b, "  %-36s %-4s %s\n", d.Name, dtype, dims)
	}

	fmt.Fprintf(&b, "\nK-points (%d):\n", len(rep.KPoints))
	fmt.Fprintf(&b, "  %6s %10s %12s\n", "k", "ng", "offset")
	for _, c := range rep.KPoints {
		fmt.Fprintf(&b, "  %6d %10d %12d\n", c.K, c.GCount, c.GOffset)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
