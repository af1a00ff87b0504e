package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/wfnconv/internal/records"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool
)

// transcodeOptions holds the flags shared by commands that build a Transcoder.
type transcodeOptions struct {
	headerPath string
	workers    int
	precision  int
	spinLayout string
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to a config file (.yaml or .toml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func transcodeFlags(o *transcodeOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "header",
			Usage:       "read nrk/nspin/nspinor/nb/ngk from this header.dat instead of the input",
			Destination: &o.headerPath,
		},
		&cli.IntFlag{
			Name:        "workers",
			Aliases:     []string{"j"},
			Usage:       "k-points processed concurrently (1 = sequential)",
			Value:       1,
			Destination: &o.workers,
		},
		&cli.IntFlag{
			Name:        "precision",
			Usage:       "digits after the point in coefficient records (17 is lossless)",
			Value:       records.DefaultPrecision,
			Destination: &o.precision,
		},
		&cli.StringFlag{
			Name:        "spin-layout",
			Usage:       "coefficient record layout (planes, legacy)",
			Value:       "planes",
			Destination: &o.spinLayout,
		},
	}
}
