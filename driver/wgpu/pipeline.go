//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubasics/driver"
)

// computePipeline is a compiled kernel with its bind group layout.
type computePipeline struct {
	fn         *function
	layout     hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.ComputePipeline
	maxThreads int
}

func (p *computePipeline) Label() string                      { return p.fn.name }
func (p *computePipeline) MaxTotalThreadsPerThreadgroup() int { return p.maxThreads }

// renderPipeline is a compiled vertex/fragment pair for one color format.
type renderPipeline struct {
	label      string
	vertex     *function
	layout     hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	format     driver.PixelFormat
}

func (p *renderPipeline) Label() string                   { return p.label }
func (p *renderPipeline) PixelFormat() driver.PixelFormat { return p.format }

func (d *Device) ownFunction(fn driver.Function, stage driver.FunctionStage) (*function, error) {
	f, ok := fn.(*function)
	if !ok || f == nil {
		return nil, driver.ErrForeignResource
	}
	if f.stage != stage {
		return nil, fmt.Errorf("wgpu: %s is a %s function, need %s: %w", f.name, f.stage, stage, driver.ErrWrongStage)
	}
	return f, nil
}

// bindingLayout creates a bind group layout and pipeline layout for the
// buffer bindings of f.
func (d *Device) bindingLayout(f *function, visibility gputypes.ShaderStages) (hal.BindGroupLayout, hal.PipelineLayout, error) {
	entries := make([]gputypes.BindGroupLayoutEntry, len(f.bindings))
	for i, typ := range f.bindings {
		entries[i] = gputypes.BindGroupLayoutEntry{
			Binding:    uint32(i),
			Visibility: visibility,
			Buffer:     &gputypes.BufferBindingLayout{Type: typ},
		}
	}
	bgl, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   f.name + "-bind-layout",
		Entries: entries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wgpu: create bind group layout: %w", err)
	}
	pl, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            f.name + "-pipe-layout",
		BindGroupLayouts: []hal.BindGroupLayout{bgl},
	})
	if err != nil {
		d.device.DestroyBindGroupLayout(bgl)
		return nil, nil, fmt.Errorf("wgpu: create pipeline layout: %w", err)
	}
	return bgl, pl, nil
}

// NewComputePipelineState compiles a kernel function.
func (d *Device) NewComputePipelineState(fn driver.Function) (driver.ComputePipelineState, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	f, err := d.ownFunction(fn, driver.StageKernel)
	if err != nil {
		return nil, err
	}
	module, err := d.lib.module(f)
	if err != nil {
		return nil, err
	}
	bgl, pl, err := d.bindingLayout(f, gputypes.ShaderStageCompute)
	if err != nil {
		return nil, err
	}
	pipeline, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  f.name,
		Layout: pl,
		Compute: hal.ComputeState{
			Module:                        module,
			EntryPoint:                    f.name,
			ZeroInitializeWorkgroupMemory: true,
		},
	})
	if err != nil {
		d.device.DestroyPipelineLayout(pl)
		d.device.DestroyBindGroupLayout(bgl)
		return nil, fmt.Errorf("wgpu: create compute pipeline %s: %w", f.name, err)
	}

	maxThreads := int(d.limits.MaxComputeInvocationsPerWorkgroup)
	if maxThreads <= 0 {
		maxThreads = addArraysWorkgroupSize
	}
	d.onClose(func() {
		d.device.DestroyComputePipeline(pipeline)
		d.device.DestroyPipelineLayout(pl)
		d.device.DestroyBindGroupLayout(bgl)
	})
	d.computePipelines.Add(1)
	slogger().Debug("wgpu: compute pipeline created", "function", f.name, "max_threads", maxThreads)
	return &computePipeline{
		fn:         f,
		layout:     bgl,
		pipeLayout: pl,
		pipeline:   pipeline,
		maxThreads: maxThreads,
	}, nil
}

// NewRenderPipelineState compiles a vertex/fragment pair for desc.ColorPixelFormat.
func (d *Device) NewRenderPipelineState(desc *driver.RenderPipelineDescriptor) (driver.RenderPipelineState, error) {
	if d.closed.Load() {
		return nil, driver.ErrDeviceClosed
	}
	if desc == nil {
		return nil, fmt.Errorf("wgpu: nil render pipeline descriptor")
	}
	vs, err := d.ownFunction(desc.VertexFunction, driver.StageVertex)
	if err != nil {
		return nil, err
	}
	fs, err := d.ownFunction(desc.FragmentFunction, driver.StageFragment)
	if err != nil {
		return nil, err
	}
	if desc.ColorPixelFormat == driver.PixelFormatInvalid {
		return nil, fmt.Errorf("wgpu: render pipeline needs a color format")
	}

	vsModule, err := d.lib.module(vs)
	if err != nil {
		return nil, err
	}
	fsModule, err := d.lib.module(fs)
	if err != nil {
		return nil, err
	}
	bgl, pl, err := d.bindingLayout(vs, gputypes.ShaderStageVertex)
	if err != nil {
		return nil, err
	}

	label := desc.Label
	if label == "" {
		label = vs.name + "+" + fs.name
	}
	pipeline, err := d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  label,
		Layout: pl,
		Vertex: hal.VertexState{
			Module:     vsModule,
			EntryPoint: vs.name,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:  gputypes.PrimitiveTopologyTriangleList,
			FrontFace: gputypes.FrontFaceCCW,
			CullMode:  gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		Fragment: &hal.FragmentState{
			Module:     fsModule,
			EntryPoint: fs.name,
			Targets: []gputypes.ColorTargetState{{
				Format:    desc.ColorPixelFormat,
				WriteMask: gputypes.ColorWriteMaskAll,
			}},
		},
	})
	if err != nil {
		d.device.DestroyPipelineLayout(pl)
		d.device.DestroyBindGroupLayout(bgl)
		return nil, fmt.Errorf("wgpu: create render pipeline %s: %w", label, err)
	}

	d.onClose(func() {
		d.device.DestroyRenderPipeline(pipeline)
		d.device.DestroyPipelineLayout(pl)
		d.device.DestroyBindGroupLayout(bgl)
	})
	d.renderPipelines.Add(1)
	slogger().Debug("wgpu: render pipeline created", "label", label, "format", desc.ColorPixelFormat.String())
	return &renderPipeline{
		label:      label,
		vertex:     vs,
		layout:     bgl,
		pipeLayout: pl,
		pipeline:   pipeline,
		format:     desc.ColorPixelFormat,
	}, nil
}
