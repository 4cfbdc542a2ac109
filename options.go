package gpubasics

import (
	"log/slog"

	"github.com/gogpu/gpubasics/driver"
)

// Option configures a DeviceContext, ComputeDispatcher or FrameDriver.
// Options that do not apply to a component are ignored by it.
//
// Example:
//
//	ctx, err := gpubasics.AcquireDeviceContext(gpubasics.WithBackend("soft"))
//	fd := gpubasics.NewFrameDriver(ctx, gpubasics.WithFrameMode(gpubasics.FrameModeClear))
type Option func(*options)

// options holds optional configuration.
type options struct {
	backend         string
	logger          *slog.Logger
	threadgroupSize int
	frameMode       FrameMode
	clearColor      *driver.ClearColor
}

func defaultOptions() options {
	return options{frameMode: FrameModeTriangle}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithBackend selects a driver by name, e.g. "wgpu" or "soft".
// The default tries the registered drivers in priority order.
func WithBackend(name string) Option {
	return func(o *options) {
		o.backend = name
	}
}

// WithLogger sets the package logger when the context is acquired.
// It is equivalent to calling SetLogger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithThreadgroupSize overrides the threadgroup width of compute
// dispatches. Values are clamped to [1, MaxTotalThreadsPerThreadgroup].
func WithThreadgroupSize(n int) Option {
	return func(o *options) {
		o.threadgroupSize = n
	}
}

// WithFrameMode selects what a FrameDriver draws.
func WithFrameMode(m FrameMode) Option {
	return func(o *options) {
		o.frameMode = m
	}
}

// WithClearColor overrides the clear color of the frame mode.
func WithClearColor(c driver.ClearColor) Option {
	return func(o *options) {
		o.clearColor = &c
	}
}
