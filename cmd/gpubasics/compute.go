package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/gogpu/gpubasics"
)

// ComputeOutput is the printed result of the compute command.
type ComputeOutput struct {
	JobID           string  `json:"job_id"`
	Device          string  `json:"device"`
	Kernel          string  `json:"kernel"`
	Count           int     `json:"count"`
	RangeMax        float64 `json:"range_max"`
	ThreadgroupSize int     `json:"threadgroup_size,omitempty"`
	Sum             float64 `json:"sum"`
	Expected        float64 `json:"expected"`
	ElapsedMS       float64 `json:"elapsed_ms"`
}

func computeCmd() *cli.Command {
	var (
		count    int
		rangeMax float64
		tg       int
		timeout  time.Duration
	)

	return &cli.Command{
		Name:  "compute",
		Usage: "Add two random arrays on the device and print the sum of the result",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "count",
				Aliases:     []string{"n"},
				Usage:       "number of elements per array",
				Value:       100000,
				Destination: &count,
			},
			&cli.Float64Flag{
				Name:        "range-max",
				Usage:       "inputs are uniform in [0, range-max)",
				Value:       1000,
				Destination: &rangeMax,
			},
			&cli.IntFlag{
				Name:        "threadgroup-size",
				Usage:       "threadgroup width (0 uses the pipeline maximum)",
				Destination: &tg,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "how long to wait for the result",
				Value:       time.Minute,
				Destination: &timeout,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyComputeConfig(cmd, cfg, &count, &rangeMax, &tg)
			if err := validateCompute(count, rangeMax); err != nil {
				return err
			}

			dctx, err := acquire(gpubasics.WithThreadgroupSize(tg))
			if err != nil {
				return err
			}
			defer dctx.Close()

			d := gpubasics.NewComputeDispatcher(dctx, gpubasics.WithThreadgroupSize(tg))
			r := gpubasics.Range{Min: 0, Max: float32(rangeMax)}
			ch, err := d.RunElementwiseReduction(gpubasics.KernelAddArrays, count, gpubasics.UniformFill(r, nil), gpubasics.Sum)
			if err != nil {
				return err
			}

			wctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res, err := gpubasics.AwaitResult(wctx, ch)
			if err != nil {
				return err
			}

			return printCompute(ComputeOutput{
				JobID:           res.JobID.String(),
				Device:          dctx.DeviceName(),
				Kernel:          res.Kernel,
				Count:           res.Count,
				RangeMax:        rangeMax,
				ThreadgroupSize: tg,
				Sum:             res.Value,
				Expected:        float64(count) * rangeMax,
				ElapsedMS:       float64(res.Elapsed.Microseconds()) / 1000,
			})
		},
	}
}

// validateCompute checks the compute flags before any device is opened.
func validateCompute(count int, rangeMax float64) error {
	if count < 0 {
		return fmt.Errorf("--count must not be negative, got %d", count)
	}
	if rangeMax < 0 {
		return fmt.Errorf("--range-max must not be negative, got %v", rangeMax)
	}
	return nil
}
