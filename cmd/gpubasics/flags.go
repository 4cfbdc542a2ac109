package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpubasics"
)

var (
	configFile string
	backend    string
	logLevel   string
	jsonOutput bool
	lang       string

	cfg     Config
	printer = message.NewPrinter(language.English)
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default: user config dir)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "device driver (wgpu, soft); empty opens a hardware device only",
			Destination: &backend,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "warn",
			Destination: &logLevel,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "print results as JSON",
			Destination: &jsonOutput,
		},
		&cli.StringFlag{
			Name:        "lang",
			Usage:       "language tag for number formatting",
			Value:       "en",
			Destination: &lang,
		},
	}
}

// setup loads the config file and installs the logger before any command runs.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error
	if configFile != "" {
		cfg, err = ReadConfig(configFile)
		if err != nil {
			return ctx, err
		}
	} else {
		cfg = LoadConfig()
	}
	applyGlobalConfig(cmd, cfg, &backend, &logLevel)

	level, err := parseLevel(logLevel)
	if err != nil {
		return ctx, err
	}
	gpubasics.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	tag, err := language.Parse(lang)
	if err != nil {
		return ctx, fmt.Errorf("invalid --lang %q: %w", lang, err)
	}
	printer = message.NewPrinter(tag)
	return ctx, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", s)
	}
}

// acquire opens the device context selected by --backend.
func acquire(opts ...gpubasics.Option) (*gpubasics.DeviceContext, error) {
	return gpubasics.AcquireDeviceContext(append([]gpubasics.Option{gpubasics.WithBackend(backend)}, opts...)...)
}
