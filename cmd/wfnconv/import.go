package main

import (
	"context"
	"errors"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wfnconv/internal/header"
	"github.com/samcharles93/wfnconv/internal/logger"
	"github.com/samcharles93/wfnconv/internal/records"
	"github.com/samcharles93/wfnconv/internal/wfcstore"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

func importCmd() *cli.Command {
	var (
		inPath  string
		outPath string
		opts    transcodeOptions
	)

	return &cli.Command{
		Name:  "import",
		Usage: "Assemble a .wfc file from a directory of text records",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "record directory written by export",
				Destination: &inPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .wfc file (default $" + envOutDir + "/<dir name>.wfc or ./out/<dir name>.wfc)",
				Destination: &outPath,
			},
		}, transcodeFlags(&opts)...),
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			log := logger.FromContext(ctx)
			applyTranscodeConfig(cmd, appConfig, &opts)

			dir, err := records.Open(inPath, records.Options{})
			if err != nil {
				return err
			}
			var shape wfn.Shape
			if opts.headerPath != "" {
				shape, err = readHeaderFile(opts.headerPath)
			} else {
				shape, err = dir.ReadHeader()
			}
			if err != nil {
				return err
			}

			m, ok, err := dir.ReadManifest()
			if err != nil {
				return err
			}
			if ok && m.SpinLayout != "" && !cmd.IsSet("spin-layout") && appConfig.SpinLayout == "" {
				opts.spinLayout = m.SpinLayout
			}
			layout, err := wfn.ParseSpinLayout(opts.spinLayout)
			if err != nil {
				return err
			}
			if ok {
				if err := m.Check(shape, layout); err != nil {
					return err
				}
				log = log.With("run_id", m.RunID)
			}

			out, defaulted, err := resolveOut(inPath, outPath, ".wfc")
			if err != nil {
				return err
			}
			if defaulted {
				log.Info("writing container to default path", "path", out)
			}
			log.Info("import", "in", inPath, "out", out, "shape", shape.String(), "workers", opts.workers)

			tc, err := wfn.NewTranscoder(shape, wfn.Options{
				Workers:    opts.workers,
				SpinLayout: layout,
				Logger:     log,
			})
			if err != nil {
				return err
			}
			store, err := wfcstore.Create(out, shape)
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, store.Close()) }()

			if err := header.ToStore(store, shape); err != nil {
				return err
			}
			_, err = tc.Import(ctx, store, dir)
			return err
		},
	}
}
