package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the wfnconv configuration file
// (~/.config/wfnconv/config.yaml or config.toml). Pointer fields distinguish
// "not set" from zero values.
type Config struct {
	Workers    *int   `yaml:"workers" toml:"workers"`
	Precision  *int   `yaml:"precision" toml:"precision"`
	SpinLayout string `yaml:"spin_layout" toml:"spin_layout"`

	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`

	ServerAddress string `yaml:"server_address" toml:"server_address"`
}

// appConfig is loaded once by the root Before hook.
var appConfig Config

// defaultConfigPaths lists the files tried when --config is not given.
func defaultConfigPaths() []string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return nil
	}
	return []string{
		filepath.Join(dir, "wfnconv", "config.yaml"),
		filepath.Join(dir, "wfnconv", "config.toml"),
	}
}

// LoadConfig reads path, or the first default config file that exists when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file is an error.
func LoadConfig(path string) (Config, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		return decodeConfig(path, data)
	}
	for _, p := range defaultConfigPaths() {
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		return decodeConfig(p, data)
	}
	return Config{}, nil
}

func decodeConfig(path string, data []byte) (Config, error) {
	var cfg Config
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	case ".yaml", ".yml", "":
		err = yaml.Unmarshal(data, &cfg)
	default:
		return Config{}, fmt.Errorf("config %s: unsupported extension (want .yaml or .toml)", path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig applies config file defaults to the root logging flags.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyTranscodeConfig applies config file defaults to o when the
// corresponding flag was not explicitly set.
func applyTranscodeConfig(c *cli.Command, cfg Config, o *transcodeOptions) {
	if cfg.Workers != nil && !c.IsSet("workers") {
		o.workers = *cfg.Workers
	}
	if cfg.Precision != nil && !c.IsSet("precision") {
		o.precision = *cfg.Precision
	}
	if cfg.SpinLayout != "" && !c.IsSet("spin-layout") {
		o.spinLayout = cfg.SpinLayout
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
