package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"golang.org/x/text/message"
)

var stdout io.Writer = os.Stdout

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCompute(out ComputeOutput) error {
	if jsonOutput {
		return writeJSON(stdout, out)
	}
	return formatCompute(stdout, printer, out)
}

func formatCompute(w io.Writer, p *message.Printer, out ComputeOutput) error {
	_, err := fmt.Fprint(w,
		p.Sprintf("device:      %s\n", out.Device),
		p.Sprintf("kernel:      %s (job %s)\n", out.Kernel, out.JobID),
		p.Sprintf("elements:    %d in [0, %v)\n", out.Count, out.RangeMax),
		p.Sprintf("sum:         %.2f\n", out.Sum),
		p.Sprintf("expected:    ~%.0f\n", out.Expected),
		p.Sprintf("elapsed:     %.3f ms\n", out.ElapsedMS),
	)
	return err
}

func printRender(out RenderOutput) error {
	if jsonOutput {
		return writeJSON(stdout, out)
	}
	return formatRender(stdout, printer, out)
}

func formatRender(w io.Writer, p *message.Printer, out RenderOutput) error {
	_, err := fmt.Fprint(w,
		p.Sprintf("device:      %s\n", out.Device),
		p.Sprintf("mode:        %s %dx%d\n", out.Mode, out.Width, out.Height),
		p.Sprintf("frames:      %d (%d skipped)\n", out.Frames, out.Skipped),
		p.Sprintf("pipelines:   %d\n", out.Pipelines),
	)
	if err == nil && out.Output != "" {
		_, err = fmt.Fprintf(w, "output:      %s\n", out.Output)
	}
	return err
}

func printDevices(devs []DeviceOutput) error {
	if jsonOutput {
		return writeJSON(stdout, devs)
	}
	for _, d := range devs {
		if d.Error != "" {
			if _, err := fmt.Fprintf(stdout, "%-6s unavailable: %s\n", d.Driver, d.Error); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(stdout, "%-6s %s\n", d.Driver, d.Device); err != nil {
			return err
		}
	}
	return nil
}
