package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gogpu/gpubasics"
	"github.com/gogpu/gpubasics/view"
)

// RenderOutput is the printed result of the render command.
type RenderOutput struct {
	Device    string `json:"device"`
	Mode      string `json:"mode"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Frames    uint64 `json:"frames"`
	Skipped   uint64 `json:"skipped"`
	Pipelines int    `json:"pipelines"`
	Output    string `json:"output,omitempty"`
}

func renderCmd() *cli.Command {
	var (
		width, height, frames int
		mode, output          string
		interval              time.Duration
		onDemand              bool
	)

	return &cli.Command{
		Name:  "render",
		Usage: "Draw frames into an offscreen view and save the last one",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "width", Usage: "drawable width in pixels", Value: 800, Destination: &width},
			&cli.IntFlag{Name: "height", Usage: "drawable height in pixels", Value: 600, Destination: &height},
			&cli.IntFlag{Name: "frames", Usage: "number of frames to draw", Value: 1, Destination: &frames},
			&cli.StringFlag{
				Name:        "mode",
				Usage:       "frame mode (triangle, clear)",
				Value:       gpubasics.FrameModeTriangle.String(),
				Destination: &mode,
			},
			&cli.StringFlag{
				Name:        "output",
				Aliases:     []string{"o"},
				Usage:       "write the last frame to this file (.png, .bmp, .tiff)",
				Destination: &output,
			},
			&cli.DurationFlag{
				Name:        "interval",
				Usage:       "continuous redraw interval (0 draws back to back)",
				Destination: &interval,
			},
			&cli.BoolFlag{
				Name:        "on-demand",
				Usage:       "redraw only when requested instead of continuously",
				Destination: &onDemand,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRenderConfig(cmd, cfg, &width, &height, &frames)

			fm, err := validateRender(width, height, frames, mode, output)
			if err != nil {
				return err
			}
			dctx, err := acquire()
			if err != nil {
				return err
			}
			defer dctx.Close()

			redraw := view.RedrawContinuous
			if onDemand {
				redraw = view.RedrawOnDemand
			}
			v, err := view.NewOffscreen(dctx.Device(), width, height,
				view.WithRedrawMode(redraw), view.WithFrameInterval(interval))
			if err != nil {
				return err
			}
			defer v.Close()

			fd := gpubasics.NewFrameDriver(dctx, gpubasics.WithFrameMode(fm))
			v.SetDelegate(fd)
			fd.DrawableSizeWillChange(v.Size())

			// The last frame is drawn synchronously when a file is
			// requested, so that it is presented before it is saved.
			loop := frames
			if output != "" {
				loop--
			}

			var stats view.Stats
			if loop > 0 {
				if onDemand {
					stop := requestRedraws(v, interval)
					stats, err = v.Run(ctx, loop)
					stop()
				} else {
					stats, err = v.Run(ctx, loop)
				}
				if err != nil {
					return err
				}
			}
			if output != "" {
				if _, err := v.DrawFrame(ctx); err != nil {
					return err
				}
				if err := v.SaveSnapshot(output); err != nil {
					return fmt.Errorf("save frame: %w", err)
				}
				stats.Frames++
			}

			return printRender(RenderOutput{
				Device:    dctx.DeviceName(),
				Mode:      fm.String(),
				Width:     width,
				Height:    height,
				Frames:    stats.Frames,
				Skipped:   stats.Skipped,
				Pipelines: fd.Pipelines().Builds(),
				Output:    output,
			})
		},
	}
}

// validateRender checks the render flags before any device is opened.
func validateRender(width, height, frames int, mode, output string) (gpubasics.FrameMode, error) {
	fm, err := gpubasics.ParseFrameMode(mode)
	if err != nil {
		return fm, err
	}
	if frames < 1 {
		return fm, fmt.Errorf("--frames must be at least 1, got %d", frames)
	}
	if width <= 0 || height <= 0 {
		return fm, fmt.Errorf("drawable size must be positive, got %dx%d", width, height)
	}
	if output != "" {
		if _, err := view.FormatFromPath(output); err != nil {
			return fm, err
		}
	}
	return fm, nil
}

// requestRedraws calls SetNeedsDisplay every interval until stop is called.
func requestRedraws(v *view.Offscreen, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Millisecond
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			v.SetNeedsDisplay()
			select {
			case <-done:
				return
			case <-t.C:
			}
		}
	}()
	return func() { close(done) }
}
