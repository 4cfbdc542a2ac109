package gpubasics

import (
	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/internal/cache"
)

// Shader stage names of the default library.
const (
	VertexFunctionEx3   = "vertexShader_Ex3"
	FragmentFunctionEx3 = "fragmentShader_Ex3"
)

type renderKey struct {
	vertex, fragment string
	format           driver.PixelFormat
}

// RenderPipelineManager builds render pipelines on first request and
// returns the cached pipeline afterwards.
//
// RenderPipelineManager is safe for concurrent use; concurrent first
// requests for the same key build once.
type RenderPipelineManager struct {
	ctx   *DeviceContext
	cache *cache.Cache[renderKey, driver.RenderPipelineState]
}

// NewRenderPipelineManager creates a manager on ctx.
func NewRenderPipelineManager(ctx *DeviceContext) *RenderPipelineManager {
	return &RenderPipelineManager{
		ctx:   ctx,
		cache: cache.New[renderKey, driver.RenderPipelineState](),
	}
}

// EnsurePipelineState returns the pipeline for the vertex/fragment pair
// and color format, building it once.
func (m *RenderPipelineManager) EnsurePipelineState(vertex, fragment string, format driver.PixelFormat) (driver.RenderPipelineState, error) {
	key := renderKey{vertex: vertex, fragment: fragment, format: format}
	return m.cache.GetOrCreate(key, func() (driver.RenderPipelineState, error) {
		lib, err := m.ctx.Library()
		if err != nil {
			return nil, err
		}
		vs, err := lib.Function(vertex)
		if err != nil {
			return nil, initErr("load vertex function", err)
		}
		fs, err := lib.Function(fragment)
		if err != nil {
			return nil, initErr("load fragment function", err)
		}
		pso, err := m.ctx.Device().NewRenderPipelineState(&driver.RenderPipelineDescriptor{
			Label:            "Simple Pipeline",
			VertexFunction:   vs,
			FragmentFunction: fs,
			ColorPixelFormat: format,
		})
		if err != nil {
			return nil, initErr("create render pipeline", err)
		}
		Logger().Debug("gpubasics: render pipeline built",
			"vertex", vertex, "fragment", fragment, "format", format.String())
		return pso, nil
	})
}

// Builds returns how many pipelines have been compiled.
func (m *RenderPipelineManager) Builds() int {
	return int(m.cache.Stats().Builds)
}
