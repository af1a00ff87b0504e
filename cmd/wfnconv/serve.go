package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wfnconv/internal/logger"
	"github.com/samcharles93/wfnconv/internal/server"
	"github.com/samcharles93/wfnconv/internal/wfn"
)

func serveCmd() *cli.Command {
	var (
		inPath      string
		addr        string
		readTimeout time.Duration
		opts        transcodeOptions
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Browse a store's records over HTTP",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "store to serve (.h5/.hdf5 or .wfc)",
				Destination: &inPath,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		}, transcodeFlags(&opts)...),
		Action: func(ctx context.Context, cmd *cli.Command) (err error) {
			log := logger.FromContext(ctx)
			applyTranscodeConfig(cmd, appConfig, &opts)
			applyServeConfig(cmd, appConfig, &addr)

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
			tc, err := wfn.NewTranscoder(shape, wfn.Options{SpinLayout: layout, Logger: log})
			if err != nil {
				return err
			}
			srv, err := server.New(store, tc, server.Options{
				Precision: opts.precision,
				Source:    inPath,
				Logger:    log,
			})
			if err != nil {
				return err
			}
			defer func() { err = errors.Join(err, srv.Close()) }()

			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			srv.Register(e)
			log.Info("starting server", "address", addr, "in", inPath, "shape", shape.String())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(hs *http.Server) error {
					hs.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
