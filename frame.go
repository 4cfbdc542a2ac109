package gpubasics

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/gogpu/gpubasics/driver"
)

// View is the surface a FrameDriver draws into. It supplies a render pass
// descriptor and a drawable for the current frame; either may be nil
// when the surface is not ready.
type View interface {
	CurrentRenderPassDescriptor() *driver.RenderPassDescriptor
	CurrentDrawable() driver.Drawable
	ColorPixelFormat() driver.PixelFormat
}

// FrameMode selects what a FrameDriver draws.
type FrameMode uint8

const (
	// FrameModeTriangle clears to dark gray and draws TriangleVertices.
	FrameModeTriangle FrameMode = iota

	// FrameModeClear only clears the drawable.
	FrameModeClear
)

func (m FrameMode) String() string {
	switch m {
	case FrameModeTriangle:
		return "triangle"
	case FrameModeClear:
		return "clear"
	default:
		return fmt.Sprintf("FrameMode(%d)", uint8(m))
	}
}

// ParseFrameMode parses the String form of a FrameMode.
func ParseFrameMode(s string) (FrameMode, error) {
	switch s {
	case "triangle", "":
		return FrameModeTriangle, nil
	case "clear":
		return FrameModeClear, nil
	default:
		return 0, fmt.Errorf("gpubasics: unknown frame mode %q", s)
	}
}

// Default clear colors of the frame modes.
var (
	TriangleClearColor = driver.ClearColor{Red: 0.3, Green: 0.3, Blue: 0.3, Alpha: 1}
	ClearModeColor     = driver.ClearColor{Red: 0.9, Green: 0.6, Blue: 0.4, Alpha: 1}
)

// FrameState is the phase of the frame being produced.
type FrameState int32

const (
	FrameIdle FrameState = iota
	FrameEncoding
	FrameSubmitted
)

func (s FrameState) String() string {
	switch s {
	case FrameIdle:
		return "idle"
	case FrameEncoding:
		return "encoding"
	case FrameSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("FrameState(%d)", int32(s))
	}
}

// FrameDriver encodes one render pass per frame.
//
// Draw is called by the view's redraw loop, one frame at a time. Resize
// may be called from another goroutine: every frame takes one snapshot of
// the viewport size when encoding starts and uses it throughout.
type FrameDriver struct {
	ctx       *DeviceContext
	pipelines *RenderPipelineManager
	mode      FrameMode
	clear     driver.ClearColor
	vertices  []byte

	// viewport packs the width and height float32 bits.
	viewport atomic.Uint64

	pso          driver.RenderPipelineState
	warnedFormat bool

	state   atomic.Int32
	frames  atomic.Uint64
	skipped atomic.Uint64
}

// NewFrameDriver creates a frame driver on ctx. The viewport size starts
// at (0, 0) until the first Resize.
func NewFrameDriver(ctx *DeviceContext, opts ...Option) *FrameDriver {
	o := applyOptions(opts)
	f := &FrameDriver{
		ctx:       ctx,
		pipelines: NewRenderPipelineManager(ctx),
		mode:      o.frameMode,
		vertices:  EncodeVertices(TriangleVertices[:]),
	}
	switch {
	case o.clearColor != nil:
		f.clear = *o.clearColor
	case f.mode == FrameModeClear:
		f.clear = ClearModeColor
	default:
		f.clear = TriangleClearColor
	}
	return f
}

// Mode returns the frame mode.
func (f *FrameDriver) Mode() FrameMode { return f.mode }

// ClearColor returns the color each frame is cleared to.
func (f *FrameDriver) ClearColor() driver.ClearColor { return f.clear }

// Pipelines returns the driver's pipeline manager.
func (f *FrameDriver) Pipelines() *RenderPipelineManager { return f.pipelines }

// Resize sets the viewport size used by subsequent frames.
func (f *FrameDriver) Resize(width, height float32) {
	f.viewport.Store(uint64(math.Float32bits(width))<<32 | uint64(math.Float32bits(height)))
	Logger().Debug("gpubasics: viewport resized", "width", width, "height", height)
}

// DrawableSizeWillChange implements the view delegate resize notification.
func (f *FrameDriver) DrawableSizeWillChange(width, height int) {
	f.Resize(float32(width), float32(height))
}

// Viewport returns the current viewport size.
func (f *FrameDriver) Viewport() ViewportSize {
	v := f.viewport.Load()
	return ViewportSize{
		Width:  math.Float32frombits(uint32(v >> 32)),
		Height: math.Float32frombits(uint32(v)),
	}
}

// State returns the phase of the latest frame.
func (f *FrameDriver) State() FrameState { return FrameState(f.state.Load()) }

// Frames returns the number of committed frames.
func (f *FrameDriver) Frames() uint64 { return f.frames.Load() }

// SkippedFrames returns the number of frames skipped with a FrameError.
func (f *FrameDriver) SkippedFrames() uint64 { return f.skipped.Load() }

// pipeline returns the pipeline built on the first frame. A later change
// of the view's pixel format is not followed: the cached pipeline keeps
// being used and the change is logged once.
func (f *FrameDriver) pipeline(format driver.PixelFormat) (driver.RenderPipelineState, error) {
	if f.pso == nil {
		pso, err := f.pipelines.EnsurePipelineState(VertexFunctionEx3, FragmentFunctionEx3, format)
		if err != nil {
			return nil, err
		}
		f.pso = pso
	}
	if f.pso.PixelFormat() != format {
		if !f.warnedFormat {
			f.warnedFormat = true
			Logger().Warn("gpubasics: view pixel format changed, drawing with the first pipeline",
				"pipeline", f.pso.PixelFormat().String(), "view", format.String())
		}
	}
	return f.pso, nil
}

// skip records a skipped frame.
func (f *FrameDriver) skip(frame uint64, err error) error {
	f.skipped.Add(1)
	f.state.Store(int32(FrameIdle))
	Logger().Warn("gpubasics: frame skipped", "frame", frame, "reason", err)
	return &FrameError{Frame: frame, Err: err}
}

// Draw encodes and commits one frame into view.
//
// A missing render pass descriptor or drawable skips the frame with a
// *FrameError; nothing is committed. Failures to create command buffers,
// encoders or the pipeline are returned as *InitializationError.
func (f *FrameDriver) Draw(view View) error {
	frame := f.frames.Load() + f.skipped.Load()
	f.state.Store(int32(FrameEncoding))

	cb, err := f.ctx.CommandBuffer()
	if err != nil {
		f.state.Store(int32(FrameIdle))
		return err
	}
	desc := view.CurrentRenderPassDescriptor()
	if desc == nil {
		return f.skip(frame, ErrRenderPassUnavailable)
	}
	pass := *desc
	pass.ColorAttachment.LoadAction = driver.LoadActionClear
	pass.ColorAttachment.StoreAction = driver.StoreActionStore
	pass.ColorAttachment.ClearColor = f.clear

	enc, err := cb.RenderCommandEncoder(&pass)
	if err != nil {
		f.state.Store(int32(FrameIdle))
		return initErr("create render encoder", err)
	}

	// mismatch is set when the render target no longer has the format the
	// cached pipeline was built for.
	mismatch := false
	if f.mode == FrameModeTriangle {
		vp := f.Viewport()
		pso, err := f.pipeline(view.ColorPixelFormat())
		if err != nil {
			_ = enc.EndEncoding()
			f.state.Store(int32(FrameIdle))
			return err
		}
		if tex := pass.ColorAttachment.Texture; tex != nil {
			mismatch = tex.PixelFormat() != pso.PixelFormat()
		}
		enc.SetViewport(driver.Viewport{
			Width:  float64(vp.Width),
			Height: float64(vp.Height),
			ZFar:   1,
		})
		enc.SetRenderPipelineState(pso)
		enc.SetVertexBytes(f.vertices, VertexInputIndexVertices)
		enc.SetVertexBytes(vp.Bytes(), VertexInputIndexViewportSize)
		enc.DrawPrimitives(driver.PrimitiveTypeTriangle, 0, len(TriangleVertices))
	}
	if err := enc.EndEncoding(); err != nil {
		if mismatch {
			return f.skip(frame, fmt.Errorf("%w: %w", ErrPixelFormatChanged, err))
		}
		f.state.Store(int32(FrameIdle))
		return initErr("encode frame", err)
	}

	drawable := view.CurrentDrawable()
	if drawable == nil {
		return f.skip(frame, ErrDrawableUnavailable)
	}
	cb.Present(drawable)
	if err := cb.Commit(); err != nil {
		f.state.Store(int32(FrameIdle))
		return initErr("commit frame", err)
	}
	f.state.Store(int32(FrameSubmitted))
	f.frames.Add(1)
	return nil
}
