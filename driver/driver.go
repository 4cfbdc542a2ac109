// Package driver defines the command-queue device model that gpubasics
// orchestrates, and the registry through which device drivers are found.
//
// The model follows the shape of modern explicit GPU APIs:
//
//	Device ──> CommandQueue ──> CommandBuffer ──> Compute/RenderCommandEncoder
//	   │                             │
//	   ├── Library ──> Function      └── AddCompletedHandler / Present / Commit
//	   ├── Buffer (host+device visible)
//	   └── Compute/RenderPipelineState
//
// Command buffers and encoders are single use: an encoder is ended exactly
// once and a command buffer is committed exactly once. Command buffers
// committed to the same queue execute in commit order; completion is
// reported asynchronously through handlers that never run on the
// committing goroutine.
//
// Two drivers ship with the module:
//   - driver/soft: executes kernels and rasterizes on the CPU
//   - driver/wgpu: runs on gogpu/wgpu HAL (Vulkan)
//
// Drivers register themselves from init, so a blank import is enough:
//
//	import _ "github.com/gogpu/gpubasics/driver/wgpu"
package driver

import "image"

// MaxInlineBytes is the largest payload accepted by SetVertexBytes.
const MaxInlineBytes = 4096

// Device is the logical handle to a compute/graphics device.
//
// Implementations must be safe for concurrent use.
type Device interface {
	// Name returns a human readable device name.
	Name() string

	// NewCommandQueue creates a serializing submission queue.
	NewCommandQueue() (CommandQueue, error)

	// NewBuffer allocates length bytes. Shared storage is visible to the
	// host before submission and after completion without explicit copies.
	NewBuffer(length int, mode StorageMode) (Buffer, error)

	// NewTexture allocates a 2D render target.
	NewTexture(width, height int, format PixelFormat) (Texture, error)

	// DefaultLibrary returns the library of compiled kernels and shader
	// stages bundled with the driver.
	DefaultLibrary() (Library, error)

	// NewComputePipelineState compiles a kernel function into a pipeline.
	NewComputePipelineState(fn Function) (ComputePipelineState, error)

	// NewRenderPipelineState compiles a vertex/fragment pair for a target format.
	NewRenderPipelineState(desc *RenderPipelineDescriptor) (RenderPipelineState, error)

	// Close releases the device. Queues created from it stop accepting work.
	Close() error
}

// Library is a named collection of compiled functions.
type Library interface {
	// Function looks up a function by name.
	// Returns ErrFunctionNotFound if the library has no such function.
	Function(name string) (Function, error)

	// FunctionNames lists the functions in the library.
	FunctionNames() []string
}

// Function is a compiled entry point inside a Library.
type Function interface {
	Name() string
	Stage() FunctionStage
}

// Buffer is a contiguous allocation visible to host and device.
type Buffer interface {
	// Len returns the buffer length in bytes.
	Len() int

	// Contents returns the host view of the buffer storage.
	// Writes are valid only before a submission that references the buffer;
	// reads only after that submission has completed.
	Contents() []byte

	// Release frees the allocation. The buffer must not be used afterwards.
	Release()
}

// Texture is a 2D pixel target.
type Texture interface {
	Width() int
	Height() int
	PixelFormat() PixelFormat
	Release()
}

// PixelReader is implemented by textures whose contents can be copied back
// to the host. The returned image reflects the last completed render pass.
type PixelReader interface {
	ReadPixels() (*image.RGBA, error)
}

// Drawable is the presentable target of one frame.
type Drawable interface {
	// Texture returns the color texture that render passes draw into.
	Texture() Texture

	// Present shows the drawable contents. Called by the driver after the
	// command buffer that presented it has completed.
	Present()
}

// DiscardableDrawable is a Drawable that is told when the command buffer
// that presented it failed. The driver calls Discard instead of Present.
type DiscardableDrawable interface {
	Drawable
	Discard(err error)
}

// ComputePipelineState is an immutable compiled kernel.
type ComputePipelineState interface {
	Label() string

	// MaxTotalThreadsPerThreadgroup is the largest threadgroup width
	// this pipeline can be dispatched with.
	MaxTotalThreadsPerThreadgroup() int
}

// RenderPipelineState is an immutable compiled vertex/fragment pair bound
// to a color target format.
type RenderPipelineState interface {
	Label() string
	PixelFormat() PixelFormat
}

// CommandQueue creates command buffers and executes them in commit order.
type CommandQueue interface {
	// CommandBuffer creates a new, empty command buffer.
	CommandBuffer() (CommandBuffer, error)
}

// CommandBuffer records encoded commands for a single submission.
type CommandBuffer interface {
	Label() string

	// ComputeCommandEncoder opens a compute encoding session.
	ComputeCommandEncoder() (ComputeCommandEncoder, error)

	// RenderCommandEncoder opens a render encoding session targeting desc.
	RenderCommandEncoder(desc *RenderPassDescriptor) (RenderCommandEncoder, error)

	// AddCompletedHandler registers fn to run after the GPU work of this
	// command buffer has finished. Must be called before Commit.
	AddCompletedHandler(fn func(CommandBuffer))

	// Present schedules d to be presented once this command buffer completes.
	Present(d Drawable)

	// Commit submits the command buffer. It does not wait for execution.
	Commit() error

	// Status reports the execution state.
	Status() CommandBufferStatus

	// Err returns the execution error when Status is StatusError.
	Err() error

	// WaitUntilCompleted blocks until the command buffer has completed.
	WaitUntilCompleted()
}

// ComputeCommandEncoder records compute commands.
type ComputeCommandEncoder interface {
	SetComputePipelineState(pso ComputePipelineState)

	// SetBuffer binds buf at argument index, starting offset bytes in.
	SetBuffer(buf Buffer, offset, index int)

	// DispatchThreads dispatches exactly grid threads, grouped into
	// threadgroups of threadsPerThreadgroup.
	DispatchThreads(grid, threadsPerThreadgroup Size)

	// EndEncoding closes the encoder. Returns ErrEncoderEnded on a second
	// call and any error found while validating recorded commands.
	EndEncoding() error
}

// RenderCommandEncoder records render commands for one render pass.
type RenderCommandEncoder interface {
	SetViewport(vp Viewport)
	SetRenderPipelineState(pso RenderPipelineState)

	// SetVertexBytes copies data into an inline per-draw constant at
	// argument index.
	SetVertexBytes(data []byte, index int)

	DrawPrimitives(primitive PrimitiveType, vertexStart, vertexCount int)

	// EndEncoding closes the encoder. Returns ErrEncoderEnded on a second
	// call and any error found while validating recorded commands.
	EndEncoding() error
}
