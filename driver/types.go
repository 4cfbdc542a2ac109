package driver

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// PixelFormat is the pixel format of a texture or color target.
type PixelFormat = gputypes.TextureFormat

// Commonly used pixel formats.
const (
	PixelFormatInvalid    PixelFormat = gputypes.TextureFormatUndefined
	PixelFormatBGRA8Unorm PixelFormat = gputypes.TextureFormatBGRA8Unorm
	PixelFormatRGBA8Unorm PixelFormat = gputypes.TextureFormatRGBA8Unorm
)

// StorageMode selects the memory placement of a buffer.
type StorageMode uint8

const (
	// StorageModeShared is visible to both host and device.
	StorageModeShared StorageMode = iota

	// StorageModePrivate is visible to the device only.
	StorageModePrivate
)

func (m StorageMode) String() string {
	switch m {
	case StorageModeShared:
		return "shared"
	case StorageModePrivate:
		return "private"
	default:
		return fmt.Sprintf("StorageMode(%d)", uint8(m))
	}
}

// FunctionStage is the pipeline stage a library function is compiled for.
type FunctionStage uint8

const (
	StageKernel FunctionStage = iota + 1
	StageVertex
	StageFragment
)

func (s FunctionStage) String() string {
	switch s {
	case StageKernel:
		return "kernel"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return fmt.Sprintf("FunctionStage(%d)", uint8(s))
	}
}

// Size is a 3D extent used for grids and threadgroups.
type Size struct {
	Width, Height, Depth int
}

// Size1D returns a one-dimensional size of n.
func Size1D(n int) Size {
	return Size{Width: n, Height: 1, Depth: 1}
}

// Count returns the number of elements covered by s.
func (s Size) Count() int {
	return s.Width * s.Height * s.Depth
}

// Viewport maps normalized device coordinates to the render target.
type Viewport struct {
	OriginX, OriginY float64
	Width, Height    float64
	ZNear, ZFar      float64
}

// PrimitiveType selects how vertices are assembled.
type PrimitiveType uint8

const (
	PrimitiveTypePoint PrimitiveType = iota
	PrimitiveTypeLine
	PrimitiveTypeTriangle
)

// LoadAction is what happens to an attachment at the start of a render pass.
type LoadAction uint8

const (
	LoadActionDontCare LoadAction = iota
	LoadActionLoad
	LoadActionClear
)

// StoreAction is what happens to an attachment at the end of a render pass.
type StoreAction uint8

const (
	StoreActionDontCare StoreAction = iota
	StoreActionStore
)

// ClearColor is an RGBA color in [0, 1].
type ClearColor struct {
	Red, Green, Blue, Alpha float64
}

// ColorAttachment describes the color target of a render pass.
type ColorAttachment struct {
	Texture     Texture
	LoadAction  LoadAction
	StoreAction StoreAction
	ClearColor  ClearColor
}

// RenderPassDescriptor describes the targets of one render pass.
type RenderPassDescriptor struct {
	ColorAttachment ColorAttachment
}

// RenderPipelineDescriptor describes a render pipeline to compile.
type RenderPipelineDescriptor struct {
	Label            string
	VertexFunction   Function
	FragmentFunction Function
	ColorPixelFormat PixelFormat
}

// CommandBufferStatus is the lifecycle state of a command buffer.
type CommandBufferStatus uint8

const (
	StatusNotEnqueued CommandBufferStatus = iota
	StatusCommitted
	StatusScheduled
	StatusCompleted
	StatusError
)

func (s CommandBufferStatus) String() string {
	switch s {
	case StatusNotEnqueued:
		return "not-enqueued"
	case StatusCommitted:
		return "committed"
	case StatusScheduled:
		return "scheduled"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("CommandBufferStatus(%d)", uint8(s))
	}
}
