//go:build !nogpu

// Package wgpu implements the driver device model on gogpu/wgpu HAL.
//
// Kernels and shader stages are WGSL, compiled to SPIR-V with gogpu/naga.
// Command buffers are recorded on the host and translated into a single
// HAL command encoder at execution time. Each command queue executes its
// command buffers on one goroutine, in commit order:
//
//  1. host contents of bound buffers are uploaded with Queue.WriteBuffer
//  2. passes are encoded, followed by copies into MapRead staging buffers
//  3. the submission is waited for
//  4. staging buffers are mapped and copied back into host contents
//  5. drawables are presented and completion handlers run
//
// The package registers itself as driver "wgpu". Build with -tags nogpu
// to leave it out.
package wgpu

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubasics/driver"

	// Import Vulkan backend so it registers via init().
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

// ErrNoAdapter is returned by Open when the HAL reports no adapters.
var ErrNoAdapter = errors.New("wgpu: no GPU adapters found")

func init() {
	driver.Register(driver.NameWGPU, func() (driver.Device, error) {
		d, err := Open()
		if err != nil {
			return nil, err
		}
		return d, nil
	})
	driver.OnLogger(setLogger)
}

// Device is a HAL-backed device. It is safe for concurrent use.
type Device struct {
	name     string
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	limits   gputypes.Limits
	format   driver.PixelFormat

	// external is true when the device is shared (don't destroy on Close).
	external bool

	lib *library

	// submitMu serializes submissions from different command queues.
	submitMu sync.Mutex

	mu       sync.Mutex
	queues   []*commandQueue
	releases []func()
	closed   atomic.Bool

	computePipelines atomic.Int64
	renderPipelines  atomic.Int64
	submissions      atomic.Int64
}

// Open selects a Vulkan adapter, preferring discrete or integrated GPUs,
// and opens a device on it.
func Open() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("wgpu: vulkan backend not available")
	}
	return OpenBackend(backend)
}

// OpenBackend opens a device on the first suitable adapter of backend.
func OpenBackend(backend hal.Backend) (*Device, error) {
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	limits := gputypes.DefaultLimits()
	openDev, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("wgpu: open device: %w", err)
	}

	d := newDevice(selected.Info.Name, openDev.Device, openDev.Queue, limits)
	d.instance = instance
	slogger().Info("wgpu: device opened",
		"adapter", selected.Info.Name, "type", selected.Info.DeviceType.String())
	return d, nil
}

// NewFromHAL wraps an already open HAL device and queue. The caller keeps
// ownership: Close does not destroy them.
func NewFromHAL(name string, device hal.Device, queue hal.Queue, limits gputypes.Limits) *Device {
	d := newDevice(name, device, queue, limits)
	d.external = true
	return d
}

// NewFromProvider shares the device of a gpucontext.DeviceProvider.
// The provider's Device and Queue must either be hal.Device and hal.Queue
// or expose them through HalDevice() any and HalQueue() any.
func NewFromProvider(provider gpucontext.DeviceProvider) (*Device, error) {
	if provider == nil {
		return nil, fmt.Errorf("wgpu: nil device provider")
	}
	device, queue, err := halFromProvider(provider)
	if err != nil {
		return nil, err
	}
	name := provider.AdapterInfo().Name
	if name == "" {
		name = "shared device"
	}
	d := NewFromHAL(name, device, queue, gputypes.DefaultLimits())
	if f := provider.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
		d.format = f
	}
	slogger().Info("wgpu: using shared device", "adapter", name, "surface_format", d.format.String())
	return d, nil
}

func halFromProvider(provider gpucontext.DeviceProvider) (hal.Device, hal.Queue, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}

	var devAny, queueAny any = provider.Device(), provider.Queue()
	if hp, ok := provider.(halProvider); ok {
		devAny, queueAny = hp.HalDevice(), hp.HalQueue()
	} else {
		if hd, ok := devAny.(interface{ HalDevice() any }); ok {
			devAny = hd.HalDevice()
		}
		if hq, ok := queueAny.(interface{ HalQueue() any }); ok {
			queueAny = hq.HalQueue()
		}
	}

	device, ok := devAny.(hal.Device)
	if !ok || device == nil {
		return nil, nil, fmt.Errorf("wgpu: provider device is not hal.Device")
	}
	queue, ok := queueAny.(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, fmt.Errorf("wgpu: provider queue is not hal.Queue")
	}
	return device, queue, nil
}

func newDevice(name string, device hal.Device, queue hal.Queue, limits gputypes.Limits) *Device {
	d := &Device{
		name:   name,
		device: device,
		queue:  queue,
		limits: limits,
		format: driver.PixelFormatBGRA8Unorm,
	}
	d.lib = newLibrary(d)
	return d
}

// Name returns the adapter name.
func (d *Device) Name() string { return d.name }

// DriverName returns the registry name of the driver.
func (d *Device) DriverName() string { return driver.NameWGPU }

// PreferredPixelFormat returns the surface format of a shared device, or
// BGRA8Unorm.
func (d *Device) PreferredPixelFormat() driver.PixelFormat { return d.format }

// Limits returns the limits the device was opened with.
func (d *Device) Limits() gputypes.Limits { return d.limits }

// NewCommandQueue creates a queue with its own execution goroutine.
func (d *Device) NewCommandQueue() (driver.CommandQueue, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	q := newCommandQueue(d)
	d.mu.Lock()
	d.queues = append(d.queues, q)
	d.mu.Unlock()
	return q, nil
}

// NewBuffer creates a storage buffer with a host mirror.
func (d *Device) NewBuffer(length int, mode driver.StorageMode) (driver.Buffer, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	if length < 0 {
		return nil, fmt.Errorf("wgpu: buffer length %d: %w", length, driver.ErrInvalidLength)
	}
	if uint64(length) > d.limits.MaxBufferSize {
		return nil, fmt.Errorf("wgpu: buffer length %d exceeds limit %d: %w", length, d.limits.MaxBufferSize, driver.ErrInvalidLength)
	}
	return newBuffer(d, length, mode)
}

// NewTexture creates a render target that can be copied back to the host.
func (d *Device) NewTexture(width, height int, format driver.PixelFormat) (driver.Texture, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("wgpu: texture %dx%d: %w", width, height, driver.ErrInvalidLength)
	}
	if format != driver.PixelFormatRGBA8Unorm && format != driver.PixelFormatBGRA8Unorm {
		return nil, fmt.Errorf("wgpu: texture format %v not supported", format)
	}
	return newTexture(d, width, height, format)
}

// DefaultLibrary returns the embedded WGSL library.
func (d *Device) DefaultLibrary() (driver.Library, error) {
	return d.lib, nil
}

// Close stops all queues after their committed work has run and destroys
// the device unless it is shared. Close is idempotent.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.mu.Lock()
	queues := d.queues
	releases := d.releases
	d.queues, d.releases = nil, nil
	d.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	if d.device != nil {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	d.lib.destroy()

	if !d.external {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device = nil
	d.queue = nil
	d.instance = nil
	slogger().Debug("wgpu: device closed")
	return nil
}

// onClose registers fn to destroy a device object when the device closes.
func (d *Device) onClose(fn func()) {
	d.mu.Lock()
	d.releases = append(d.releases, fn)
	d.mu.Unlock()
}

// Stats counts pipelines built and submissions made.
type Stats struct {
	ComputePipelines int64
	RenderPipelines  int64
	Submissions      int64
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	return Stats{
		ComputePipelines: d.computePipelines.Load(),
		RenderPipelines:  d.renderPipelines.Load(),
		Submissions:      d.submissions.Load(),
	}
}
