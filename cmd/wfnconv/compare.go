package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wfnconv/internal/logger"
	"github.com/samcharles93/wfnconv/internal/records"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

func compareCmd() *cli.Command {
	var (
		pathA     string
		pathB     string
		recDir    string
		tolerance float64
		opts      transcodeOptions
	)

	return &cli.Command{
		Name:  "compare",
		Usage: "Compare two stores, or a store against a record directory",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "a",
				Usage:       "reference store (.h5/.hdf5 or .wfc)",
				Destination: &pathA,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "b",
				Usage:       "store to compare against --a",
				Destination: &pathB,
			},
			&cli.StringFlag{
				Name:        "records",
				Usage:       "record directory to compare against --a",
				Destination: &recDir,
			},
			&cli.Float64Flag{
				Name:        "tolerance",
				Usage:       "largest coefficient difference accepted as equal",
				Destination: &tolerance,
			},
		}, transcodeFlags(&opts)...),
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			log := logger.FromContext(ctx)
			applyTranscodeConfig(cmd, appConfig, &opts)
			if (pathB == "") == (recDir == "") {
				return errors.New("exactly one of --b or --records is required")
			}

			layout, err := wfn.ParseSpinLayout(opts.spinLayout)
			if err != nil {
				return err
			}
			a, err := openStore(pathA)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, a.Close()) }()

			shape, err := resolveShape(a, opts.headerPath)
			if err != nil {
				return err
			}
			tc, err := wfn.NewTranscoder(shape, wfn.Options{
				Workers:    opts.workers,
				SpinLayout: layout,
				Logger:     log,
			})
			if err != nil {
				return err
			}

			var diff wfn.Diff
			if pathB != "" {
				b, oerr := openStore(pathB)
				if oerr != nil {
					return oerr
				}
				defer func() { err = errors.Join(err, b.Close()) }()
				diff, err = tc.Compare(ctx, a, b)
			} else {
				dir, oerr := records.Open(recDir, records.Options{})
				if oerr != nil {
					return oerr
				}
				diff, err = tc.CompareRecords(ctx, a, dir)
			}
			if err != nil {
				return err
			}

			if err := writeDiff(os.Stdout, diff); err != nil {
				return err
			}
			if !diff.Within(tolerance) {
				return fmt.Errorf("sources differ beyond tolerance %g", tolerance)
			}
			return nil
		},
	}
}

func writeDiff(w io.Writer, d wfn.Diff) error {
	_, err := fmt.Fprintf(w, "chunks compared:        %d\nmax G-vector delta:     %d\nmax coefficient delta:  %.6e\n",
		d.Chunks, d.MaxGVectorDelta, d.MaxCoefficientDelta)
	if err != nil {
		return err
	}
	if d.WorstKPoint >= 0 && !d.Identical() {
		_, err = fmt.Fprintf(w, "worst k-point:          %d\n", d.WorstKPoint)
	}
	return err
}
