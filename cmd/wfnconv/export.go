package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wfnconv/internal/logger"
	"github.com/samcharles93/wfnconv/internal/records"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

func exportCmd() *cli.Command {
	var (
		inPath  string
		outPath string
		opts    transcodeOptions
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Write per-k-point text records from a WFN.h5 or .wfc file",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "input store (.h5/.hdf5 or .wfc)",
				Destination: &inPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output record directory (default $" + envOutDir + "/<input name> or ./out/<input name>)",
				Destination: &outPath,
			},
		}, transcodeFlags(&opts)...),
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			log := logger.FromContext(ctx)
			applyTranscodeConfig(cmd, appConfig, &opts)

			layout, err := wfn.ParseSpinLayout(opts.spinLayout)
			if err != nil {
				return err
			}
			store, err := openStore(inPath)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, store.Close()) }()

			shape, err := resolveShape(store, opts.headerPath)
			if err != nil {
				return err
			}
			out, defaulted, err := resolveOut(inPath, outPath, "")
			if err != nil {
				return err
			}
			if defaulted {
				log.Info("writing records to default directory", "dir", out)
			}
			dir, err := records.Create(out, records.Options{Precision: opts.precision})
			if err != nil {
				return err
			}

			m := records.NewManifest(shape, layout, dir.Precision())
			m.Source = inPath
			log = log.With("run_id", m.RunID)
			log.Info("export", "in", inPath, "out", out, "shape", shape.String(), "workers", opts.workers)

			tc, err := wfn.NewTranscoder(shape, wfn.Options{
				Workers:    opts.workers,
				SpinLayout: layout,
				Logger:     log,
			})
			if err != nil {
				return err
			}
			if _, err := tc.Export(ctx, store, dir); err != nil {
				return err
			}
			if err := dir.WriteHeader(shape); err != nil {
				return fmt.Errorf("write header: %w", err)
			}
			m.Records = dir.Written()
			return dir.WriteManifest(m)
		},
	}
}
