// Command gpubasics runs the gpubasics compute and render paths from the
// command line or as an HTTP service.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	_ "github.com/gogpu/gpubasics/driver/soft"
)

func main() {
	app := &cli.Command{
		Name:   "gpubasics",
		Usage:  "GPU compute and render basics",
		Flags:  globalFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			computeCmd(),
			renderCmd(),
			serveCmd(),
			devicesCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
