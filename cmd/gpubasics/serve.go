package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/gogpu/gpubasics"
	"github.com/gogpu/gpubasics/internal/api"
	"github.com/gogpu/gpubasics/view"
)

func serveCmd() *cli.Command {
	var (
		addr          string
		readTimeout   time.Duration
		width, height int
		count         int
		rangeMax      float64
		tg            int
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the compute and render paths over HTTP",
		Flags: []cli.Flag{
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
			&cli.IntFlag{Name: "width", Usage: "initial drawable width", Value: 800, Destination: &width},
			&cli.IntFlag{Name: "height", Usage: "initial drawable height", Value: 600, Destination: &height},
			&cli.IntFlag{Name: "count", Usage: "default compute element count", Value: 100000, Destination: &count},
			&cli.Float64Flag{Name: "range-max", Usage: "default compute input range", Value: 1000, Destination: &rangeMax},
			&cli.IntFlag{Name: "threadgroup-size", Usage: "default threadgroup width", Destination: &tg},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, cfg, &addr)
			applyComputeConfig(cmd, cfg, &count, &rangeMax, &tg)
			var frames int
			applyRenderConfig(cmd, cfg, &width, &height, &frames)

			dctx, err := acquire()
			if err != nil {
				return err
			}
			defer dctx.Close()

			v, err := view.NewOffscreen(dctx.Device(), width, height, view.WithRedrawMode(view.RedrawOnDemand))
			if err != nil {
				return err
			}
			defer v.Close()
			fd := gpubasics.NewFrameDriver(dctx)
			v.SetDelegate(fd)
			fd.DrawableSizeWillChange(v.Size())

			server := api.NewServer(api.Config{
				Context:      dctx,
				Dispatcher:   gpubasics.NewComputeDispatcher(dctx, gpubasics.WithThreadgroupSize(tg)),
				View:         v,
				DefaultCount: count,
				DefaultRange: gpubasics.Range{Min: 0, Max: float32(rangeMax)},
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			gpubasics.Logger().Info("starting server", "address", addr, "device", dctx.DeviceName())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
