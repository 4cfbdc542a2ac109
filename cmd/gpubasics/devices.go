package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/gogpu/gpubasics/driver"
)

// DeviceOutput describes one registered driver.
type DeviceOutput struct {
	Driver string `json:"driver"`
	Device string `json:"device,omitempty"`
	Error  string `json:"error,omitempty"`
}

func devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the registered drivers and the device each one opens",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return printDevices(listDevices())
		},
	}
}

func listDevices() []DeviceOutput {
	names := driver.Available()
	out := make([]DeviceOutput, 0, len(names))
	for _, name := range names {
		d := DeviceOutput{Driver: name}
		dev, err := driver.Open(name)
		if err != nil {
			d.Error = err.Error()
		} else {
			d.Device = dev.Name()
			_ = dev.Close()
		}
		out = append(out, d)
	}
	return out
}
