package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the gpubasics configuration file
// (~/.config/gpubasics/config.yaml). Numeric fields are pointers so we can
// distinguish "not set" from zero values.
type Config struct {
	Backend  string `yaml:"backend"`
	LogLevel string `yaml:"log_level"`

	// Compute
	Count           *int     `yaml:"count"`
	RangeMax        *float64 `yaml:"range_max"`
	ThreadgroupSize *int     `yaml:"threadgroup_size"`

	// Render
	Width  *int `yaml:"width"`
	Height *int `yaml:"height"`
	Frames *int `yaml:"frames"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gpubasics", "config.yaml")
}

// LoadConfig reads the default config file. Returns a zero Config if the
// file doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	cfg, err := ReadConfig(path)
	if err != nil {
		return Config{}
	}
	return cfg
}

// ReadConfig reads the config file at path.
func ReadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// flagSetter reports whether a flag was given on the command line.
type flagSetter interface {
	IsSet(name string) bool
}

var _ flagSetter = (*cli.Command)(nil)

// applyGlobalConfig applies config file defaults to the global flags
// that were not explicitly set.
func applyGlobalConfig(c flagSetter, cfg Config, backend, logLevel *string) {
	if cfg.Backend != "" && !c.IsSet("backend") {
		*backend = cfg.Backend
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		*logLevel = cfg.LogLevel
	}
}

// applyComputeConfig applies config file defaults to compute flags.
func applyComputeConfig(c flagSetter, cfg Config, count *int, rangeMax *float64, tg *int) {
	if cfg.Count != nil && !c.IsSet("count") {
		*count = *cfg.Count
	}
	if cfg.RangeMax != nil && !c.IsSet("range-max") {
		*rangeMax = *cfg.RangeMax
	}
	if cfg.ThreadgroupSize != nil && !c.IsSet("threadgroup-size") {
		*tg = *cfg.ThreadgroupSize
	}
}

// applyRenderConfig applies config file defaults to render flags.
func applyRenderConfig(c flagSetter, cfg Config, width, height, frames *int) {
	if cfg.Width != nil && !c.IsSet("width") {
		*width = *cfg.Width
	}
	if cfg.Height != nil && !c.IsSet("height") {
		*height = *cfg.Height
	}
	if cfg.Frames != nil && !c.IsSet("frames") {
		*frames = *cfg.Frames
	}
}

// applyServeConfig applies config file defaults to serve flags.
func applyServeConfig(c flagSetter, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
