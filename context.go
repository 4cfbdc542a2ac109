package gpubasics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpubasics/driver"
)

// DeviceContext holds a device and the single command queue all work is
// submitted on. It is created once and passed explicitly to every
// component.
//
// DeviceContext is safe for concurrent use.
type DeviceContext struct {
	device driver.Device
	queue  driver.CommandQueue

	// owned is true when Close must close the device.
	owned bool

	libOnce sync.Once
	lib     driver.Library
	libErr  error

	closed         atomic.Bool
	commandBuffers atomic.Int64
}

// AcquireDeviceContext opens the default device and creates its queue.
//
// The device comes from the driver registry: WithBackend names a driver,
// otherwise the registered hardware drivers are tried in priority order.
// The soft driver is used only when named; without a hardware device the
// call fails with ErrNoDevice. Failure is returned as *InitializationError
// and is not retried.
func AcquireDeviceContext(opts ...Option) (*DeviceContext, error) {
	o := applyOptions(opts)
	if o.logger != nil {
		SetLogger(o.logger)
	}

	dev, err := driver.Open(o.backend)
	if err != nil {
		if errors.Is(err, driver.ErrNoDevice) {
			err = fmt.Errorf("%w: %w", ErrNoDevice, err)
		}
		return nil, initErr("acquire device", err)
	}

	ctx, err := NewDeviceContext(dev)
	if err != nil {
		_ = dev.Close()
		return nil, err
	}
	ctx.owned = true
	Logger().Info("gpubasics: device acquired", "device", dev.Name())
	return ctx, nil
}

// MustAcquireDeviceContext is like AcquireDeviceContext but panics on failure.
func MustAcquireDeviceContext(opts ...Option) *DeviceContext {
	ctx, err := AcquireDeviceContext(opts...)
	if err != nil {
		panic(err)
	}
	return ctx
}

// NewDeviceContext wraps an open device and creates exactly one queue on
// it. The caller keeps ownership of device: Close does not close it.
func NewDeviceContext(device driver.Device) (*DeviceContext, error) {
	if device == nil {
		return nil, initErr("acquire device", ErrNoDevice)
	}
	q, err := device.NewCommandQueue()
	if err != nil {
		return nil, initErr("create queue", err)
	}
	return &DeviceContext{device: device, queue: q}, nil
}

// Device returns the underlying device.
func (c *DeviceContext) Device() driver.Device { return c.device }

// Queue returns the context's command queue.
func (c *DeviceContext) Queue() driver.CommandQueue { return c.queue }

// DeviceName returns the device name.
func (c *DeviceContext) DeviceName() string { return c.device.Name() }

// Library returns the device's default library, loaded once.
func (c *DeviceContext) Library() (driver.Library, error) {
	c.libOnce.Do(func() {
		c.lib, c.libErr = c.device.DefaultLibrary()
	})
	if c.libErr != nil {
		return nil, initErr("load library", c.libErr)
	}
	return c.lib, nil
}

// CommandBuffer creates a command buffer on the context's queue.
func (c *DeviceContext) CommandBuffer() (driver.CommandBuffer, error) {
	if c.closed.Load() {
		return nil, initErr("create command buffer", ErrContextClosed)
	}
	cb, err := c.queue.CommandBuffer()
	if err != nil {
		return nil, initErr("create command buffer", err)
	}
	c.commandBuffers.Add(1)
	return cb, nil
}

// CommandBuffers returns the number of command buffers created so far.
func (c *DeviceContext) CommandBuffers() int64 { return c.commandBuffers.Load() }

// Close releases the device if the context opened it. Committed work
// finishes before Close returns. Close is idempotent.
func (c *DeviceContext) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !c.owned {
		return nil
	}
	if err := c.device.Close(); err != nil {
		return fmt.Errorf("gpubasics: close device: %w", err)
	}
	return nil
}
