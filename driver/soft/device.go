// Package soft is a CPU implementation of the driver device model.
//
// Compute kernels run their threadgroups in parallel on a worker pool.
// Render passes are rasterized with edge functions into host textures.
// Each command queue executes its command buffers on one goroutine, in
// commit order, and runs completion handlers there.
//
// The package registers itself as driver "soft". The registry opens it
// only by name, never as a substitute for a missing GPU; tests and
// --backend soft select it explicitly.
package soft

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/internal/parallel"
)

// DefaultMaxThreadsPerThreadgroup is the threadgroup limit reported by
// compute pipelines unless overridden with WithMaxThreadsPerThreadgroup.
const DefaultMaxThreadsPerThreadgroup = 1024

// DefaultMaxBufferLength is the largest buffer NewBuffer allocates unless
// overridden with WithMaxBufferLength.
const DefaultMaxBufferLength = 1 << 30

func init() {
	driver.Register(driver.NameSoft, func() (driver.Device, error) {
		return New(), nil
	})
	driver.OnLogger(setLogger)
}

// Stats counts objects created and work executed by a Device.
type Stats struct {
	ComputePipelines int64
	RenderPipelines  int64
	CommandBuffers   int64
	Committed        int64
	Dispatches       int64
	Threadgroups     int64
	Draws            int64
}

// DrawRecord describes one executed draw call.
type DrawRecord struct {
	CommandBuffer string
	Pipeline      string
	Viewport      driver.Viewport
	Primitive     driver.PrimitiveType
	VertexStart   int
	VertexCount   int

	// VertexBytes holds a copy of the inline data bound at each index.
	VertexBytes map[int][]byte
}

// Option configures a Device.
type Option func(*Device)

// WithWorkers sets the number of threadgroup workers. Zero or negative
// selects GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(d *Device) { d.workers = n }
}

// WithMaxThreadsPerThreadgroup sets the threadgroup limit of compute pipelines.
func WithMaxThreadsPerThreadgroup(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.maxThreads = n
		}
	}
}

// WithMaxBufferLength sets the largest buffer, in bytes, NewBuffer allocates.
func WithMaxBufferLength(n int) Option {
	return func(d *Device) {
		if n > 0 {
			d.maxBuffer = n
		}
	}
}

// WithoutLibrary makes DefaultLibrary fail with driver.ErrLibraryUnavailable.
func WithoutLibrary() Option {
	return func(d *Device) { d.noLibrary = true }
}

// WithName overrides the device name.
func WithName(name string) Option {
	return func(d *Device) { d.name = name }
}

// Device is a CPU device. It is safe for concurrent use.
type Device struct {
	name       string
	workers    int
	maxThreads int
	maxBuffer  int
	noLibrary  bool

	pool *parallel.WorkerPool
	lib  *library

	mu     sync.Mutex
	queues []*commandQueue
	closed atomic.Bool

	logMu   sync.Mutex
	drawLog []DrawRecord

	computePipelines atomic.Int64
	renderPipelines  atomic.Int64
	commandBuffers   atomic.Int64
	committed        atomic.Int64
	dispatches       atomic.Int64
	threadgroups     atomic.Int64
	draws            atomic.Int64
}

// New creates a CPU device.
func New(opts ...Option) *Device {
	d := &Device{
		maxThreads: DefaultMaxThreadsPerThreadgroup,
		maxBuffer:  DefaultMaxBufferLength,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = runtime.GOMAXPROCS(0)
	}
	if d.name == "" {
		d.name = fmt.Sprintf("Software Device (%d workers)", d.workers)
	}
	d.pool = parallel.NewWorkerPool(d.workers)
	d.lib = newDefaultLibrary()
	slogger().Debug("soft: device created", "workers", d.workers, "max_threads", d.maxThreads)
	return d
}

// Name returns the device name.
func (d *Device) Name() string { return d.name }

// DriverName returns the registry name of the driver.
func (d *Device) DriverName() string { return driver.NameSoft }

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

// NewBuffer allocates a host buffer. Both storage modes are backed by the
// same host memory.
func (d *Device) NewBuffer(length int, mode driver.StorageMode) (driver.Buffer, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	if length < 0 {
		return nil, fmt.Errorf("soft: buffer length %d: %w", length, driver.ErrInvalidLength)
	}
	if length > d.maxBuffer {
		return nil, fmt.Errorf("soft: buffer length %d exceeds limit %d: %w", length, d.maxBuffer, driver.ErrInvalidLength)
	}
	slogger().Debug("soft: buffer allocated", "bytes", length, "mode", mode)
	return &buffer{dev: d, data: make([]byte, length), mode: mode}, nil
}

// NewTexture allocates a host texture in RGBA or BGRA byte order.
func (d *Device) NewTexture(width, height int, format driver.PixelFormat) (driver.Texture, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("soft: texture %dx%d: %w", width, height, driver.ErrInvalidLength)
	}
	if format != driver.PixelFormatRGBA8Unorm && format != driver.PixelFormatBGRA8Unorm {
		return nil, fmt.Errorf("soft: texture format %v not supported", format)
	}
	return newTexture(d, width, height, format), nil
}

// DefaultLibrary returns the built-in library.
func (d *Device) DefaultLibrary() (driver.Library, error) {
	if d.noLibrary {
		return nil, driver.ErrLibraryUnavailable
	}
	return d.lib, nil
}

// NewComputePipelineState wraps a kernel function.
func (d *Device) NewComputePipelineState(fn driver.Function) (driver.ComputePipelineState, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	f, err := d.ownFunction(fn, driver.StageKernel)
	if err != nil {
		return nil, err
	}
	d.computePipelines.Add(1)
	slogger().Debug("soft: compute pipeline built", "kernel", f.name)
	return &computePipeline{fn: f, maxThreads: d.maxThreads}, nil
}

// NewRenderPipelineState pairs a vertex and a fragment function for a format.
func (d *Device) NewRenderPipelineState(desc *driver.RenderPipelineDescriptor) (driver.RenderPipelineState, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	if desc == nil {
		return nil, fmt.Errorf("soft: nil render pipeline descriptor")
	}
	vs, err := d.ownFunction(desc.VertexFunction, driver.StageVertex)
	if err != nil {
		return nil, fmt.Errorf("soft: vertex function: %w", err)
	}
	fs, err := d.ownFunction(desc.FragmentFunction, driver.StageFragment)
	if err != nil {
		return nil, fmt.Errorf("soft: fragment function: %w", err)
	}
	label := desc.Label
	if label == "" {
		label = vs.name + "+" + fs.name
	}
	d.renderPipelines.Add(1)
	slogger().Debug("soft: render pipeline built", "label", label, "format", desc.ColorPixelFormat)
	return &renderPipeline{label: label, vertex: vs, fragment: fs, format: desc.ColorPixelFormat}, nil
}

func (d *Device) ownFunction(fn driver.Function, stage driver.FunctionStage) (*function, error) {
	f, ok := fn.(*function)
	if !ok || f == nil {
		return nil, driver.ErrForeignResource
	}
	if f.stage != stage {
		return nil, fmt.Errorf("%w: %s is a %s function, want %s", driver.ErrWrongStage, f.name, f.stage, stage)
	}
	return f, nil
}

// Close stops all queues after their committed work has run and shuts down
// the worker pool. Close is idempotent.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.mu.Lock()
	queues := d.queues
	d.queues = nil
	d.mu.Unlock()

	for _, q := range queues {
		q.close()
	}
	d.pool.Close()
	slogger().Debug("soft: device closed")
	return nil
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() Stats {
	return Stats{
		ComputePipelines: d.computePipelines.Load(),
		RenderPipelines:  d.renderPipelines.Load(),
		CommandBuffers:   d.commandBuffers.Load(),
		Committed:        d.committed.Load(),
		Dispatches:       d.dispatches.Load(),
		Threadgroups:     d.threadgroups.Load(),
		Draws:            d.draws.Load(),
	}
}

// DrawLog returns a copy of the executed draw calls in execution order.
func (d *Device) DrawLog() []DrawRecord {
	d.logMu.Lock()
	defer d.logMu.Unlock()
	out := make([]DrawRecord, len(d.drawLog))
	copy(out, d.drawLog)
	return out
}

// ResetDrawLog discards the recorded draw calls.
func (d *Device) ResetDrawLog() {
	d.logMu.Lock()
	d.drawLog = nil
	d.logMu.Unlock()
}

func (d *Device) recordDraw(r DrawRecord) {
	d.draws.Add(1)
	d.logMu.Lock()
	d.drawLog = append(d.drawLog, r)
	d.logMu.Unlock()
}

// computePipeline is an immutable kernel binding.
type computePipeline struct {
	fn         *function
	maxThreads int
}

func (p *computePipeline) Label() string                      { return p.fn.name }
func (p *computePipeline) MaxTotalThreadsPerThreadgroup() int { return p.maxThreads }

// renderPipeline is an immutable vertex/fragment pair.
type renderPipeline struct {
	label    string
	vertex   *function
	fragment *function
	format   driver.PixelFormat
}

func (p *renderPipeline) Label() string                   { return p.label }
func (p *renderPipeline) PixelFormat() driver.PixelFormat { return p.format }
