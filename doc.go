// Package gpubasics orchestrates compute and render work on a device that
// takes commands through a queue.
//
// # Overview
//
// Two execution patterns share one [DeviceContext]:
//
//   - Compute: [ComputeDispatcher] fills two input buffers, dispatches an
//     elementwise kernel over them and reduces the output to a scalar in
//     a completion handler. The result arrives on a channel; the call
//     that submits the work never blocks.
//   - Render: [FrameDriver] draws one triangle per frame into the drawable
//     of a [View], with the viewport size passed as a per-frame constant.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/gpubasics"
//	    _ "github.com/gogpu/gpubasics/driver/soft"
//	)
//
//	ctx, err := gpubasics.AcquireDeviceContext()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	d := gpubasics.NewComputeDispatcher(ctx)
//	ch, err := d.RunElementwiseReduction("add_arrays", 1<<20,
//	    gpubasics.UniformFill(gpubasics.Range{Max: 1000}, rng),
//	    gpubasics.Sum)
//	res, err := gpubasics.AwaitResult(context.Background(), ch)
//
// # Drivers
//
// Devices come from the driver registry (package driver). The wgpu driver
// runs on gogpu/wgpu HAL; the soft driver executes kernels and rasterizes
// on the CPU. [AcquireDeviceContext] opens a hardware device and fails
// with [ErrNoDevice] when there is none; the soft driver is opened only
// when named with [WithBackend].
//
// # Errors
//
// Environment failures during setup are returned as *[InitializationError]
// and are not retried. A frame that has no drawable or render pass fails
// with a *[FrameError]; [IsRecoverable] reports such errors so a redraw
// loop can skip the frame and continue.
package gpubasics
