//go:build !nogpu

package wgpu

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubasics/driver"
)

// pass is one encoded compute or render pass.
type pass interface {
	// prepare uploads host data and creates the per-pass objects.
	prepare(x *execution) error

	// encode records the pass into enc.
	encode(x *execution, enc hal.CommandEncoder)
}

// failedPass makes the command buffer finish with an encoding error.
type failedPass struct{ err error }

func (p failedPass) prepare(*execution) error              { return p.err }
func (p failedPass) encode(*execution, hal.CommandEncoder) {}

type binding struct {
	buf    *buffer
	offset int
}

type dispatch struct {
	pso     *computePipeline
	args    []binding
	threads int
	group   hal.BindGroup
}

type computePass struct {
	dispatches []dispatch
}

func (p *computePass) prepare(x *execution) error {
	for i := range p.dispatches {
		d := &p.dispatches[i]
		entries := make([]gputypes.BindGroupEntry, len(d.args))
		for j, arg := range d.args {
			if err := x.upload(arg.buf); err != nil {
				return err
			}
			entries[j] = gputypes.BindGroupEntry{
				Binding: uint32(j),
				Resource: gputypes.BufferBinding{
					Buffer: arg.buf.hal.NativeHandle(),
					Offset: uint64(arg.offset),
					Size:   uint64(d.threads) * 4,
				},
			}
			if d.pso.fn.writable(j) {
				x.readBack(arg.buf)
			}
		}
		bg, err := x.bindGroup(d.pso.fn.name, d.pso.layout, entries)
		if err != nil {
			return err
		}
		d.group = bg
	}
	return nil
}

func (p *computePass) encode(x *execution, enc hal.CommandEncoder) {
	cp := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: "gpubasics-compute"})
	for _, d := range p.dispatches {
		gx, gy := workgroups(d.threads, x.dev.limits.MaxComputeWorkgroupsPerDimension)
		cp.SetPipeline(d.pso.pipeline)
		cp.SetBindGroup(0, d.group, nil)
		cp.Dispatch(gx, gy, 1)
		slogger().Debug("wgpu: dispatch encoded",
			"kernel", d.pso.fn.name, "threads", d.threads, "workgroups_x", gx, "workgroups_y", gy)
	}
	cp.End()
}

// workgroups folds the workgroups covering threads into rows of at most
// maxPerDim.
func workgroups(threads int, maxPerDim uint32) (x, y uint32) {
	if maxPerDim == 0 {
		maxPerDim = 65535
	}
	groups := uint32((threads + addArraysWorkgroupSize - 1) / addArraysWorkgroupSize)
	if groups <= maxPerDim {
		return groups, 1
	}
	return maxPerDim, (groups + maxPerDim - 1) / maxPerDim
}

type computeEncoder struct {
	cb    *commandBuffer
	pso   *computePipeline
	args  map[int]binding
	pass  computePass
	err   error
	ended bool
}

func (e *computeEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *computeEncoder) SetComputePipelineState(pso driver.ComputePipelineState) {
	p, ok := pso.(*computePipeline)
	if !ok || p == nil {
		e.fail(driver.ErrForeignResource)
		return
	}
	e.pso = p
}

func (e *computeEncoder) SetBuffer(buf driver.Buffer, offset, index int) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.dev != e.cb.dev {
		e.fail(driver.ErrForeignResource)
		return
	}
	align := int(e.cb.dev.limits.MinStorageBufferOffsetAlignment)
	if offset < 0 || offset > b.Len() || index < 0 || (align > 0 && offset%align != 0) {
		e.fail(fmt.Errorf("%w: offset %d index %d", driver.ErrInvalidLength, offset, index))
		return
	}
	e.args[index] = binding{buf: b, offset: offset}
}

func (e *computeEncoder) DispatchThreads(grid, threadsPerThreadgroup driver.Size) {
	switch {
	case e.pso == nil:
		e.fail(driver.ErrNoPipelineState)
		return
	case grid.Count() <= 0 || threadsPerThreadgroup.Count() <= 0:
		e.fail(fmt.Errorf("%w: grid %v threadgroup %v", driver.ErrEmptyDispatch, grid, threadsPerThreadgroup))
		return
	case threadsPerThreadgroup.Count() > e.pso.maxThreads:
		e.fail(fmt.Errorf("%w: %d > %d", driver.ErrThreadgroupTooLarge, threadsPerThreadgroup.Count(), e.pso.maxThreads))
		return
	}

	n := len(e.pso.fn.bindings)
	args := make([]binding, n)
	lens := make([]int, n)
	for i := range n {
		arg, ok := e.args[i]
		if !ok {
			lens[i] = -1
			continue
		}
		args[i] = arg
		lens[i] = arg.buf.Len() - arg.offset
	}
	if err := e.pso.fn.checkArgs(lens, grid.Count()); err != nil {
		e.fail(err)
		return
	}
	e.pass.dispatches = append(e.pass.dispatches, dispatch{
		pso: e.pso, args: args, threads: grid.Count(),
	})
}

func (e *computeEncoder) EndEncoding() error {
	if e.ended {
		return driver.ErrEncoderEnded
	}
	e.ended = true
	if e.err != nil {
		e.cb.EndEncoder(failedPass{err: e.err})
		return e.err
	}
	e.cb.EndEncoder(&e.pass)
	return nil
}

type draw struct {
	pso      *renderPipeline
	viewport driver.Viewport
	bytes    map[int][]byte
	start    int
	count    int
	group    hal.BindGroup
}

type renderPass struct {
	target *Texture
	attach driver.ColorAttachment
	draws  []draw
}

func (p *renderPass) prepare(x *execution) error {
	for i := range p.draws {
		d := &p.draws[i]
		vs := d.pso.vertex
		entries := make([]gputypes.BindGroupEntry, len(vs.bindings))
		for j, typ := range vs.bindings {
			usage := gputypes.BufferUsageStorage
			if typ == gputypes.BufferBindingTypeUniform {
				usage = gputypes.BufferUsageUniform
			}
			buf, err := x.inline(d.bytes[j], usage)
			if err != nil {
				return err
			}
			entries[j] = gputypes.BindGroupEntry{
				Binding:  uint32(j),
				Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle()},
			}
		}
		bg, err := x.bindGroup(d.pso.label, d.pso.layout, entries)
		if err != nil {
			return err
		}
		d.group = bg
	}
	x.readTexture(p.target)
	return nil
}

func (p *renderPass) encode(x *execution, enc hal.CommandEncoder) {
	rp := enc.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: "gpubasics-render",
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:    p.target.view,
			LoadOp:  loadOp(p.attach.LoadAction),
			StoreOp: storeOp(p.attach.StoreAction),
			ClearValue: gputypes.Color{
				R: p.attach.ClearColor.Red,
				G: p.attach.ClearColor.Green,
				B: p.attach.ClearColor.Blue,
				A: p.attach.ClearColor.Alpha,
			},
		}},
	})
	for _, d := range p.draws {
		vx, vy, vw, vh, ok := clipViewport(d.viewport, p.target.width, p.target.height)
		if !ok {
			continue
		}
		rp.SetViewport(vx, vy, vw, vh, float32(d.viewport.ZNear), float32(d.viewport.ZFar))
		rp.SetPipeline(d.pso.pipeline)
		rp.SetBindGroup(0, d.group, nil)
		rp.Draw(uint32(d.count), 1, uint32(d.start), 0)
	}
	rp.End()
}

// clipViewport clips vp to the target. ok is false when nothing remains.
func clipViewport(vp driver.Viewport, width, height int) (x, y, w, h float32, ok bool) {
	x0 := max(vp.OriginX, 0)
	y0 := max(vp.OriginY, 0)
	x1 := min(vp.OriginX+vp.Width, float64(width))
	y1 := min(vp.OriginY+vp.Height, float64(height))
	if x1 <= x0 || y1 <= y0 {
		return 0, 0, 0, 0, false
	}
	return float32(x0), float32(y0), float32(x1 - x0), float32(y1 - y0), true
}

func loadOp(a driver.LoadAction) gputypes.LoadOp {
	if a == driver.LoadActionLoad {
		return gputypes.LoadOpLoad
	}
	return gputypes.LoadOpClear
}

func storeOp(a driver.StoreAction) gputypes.StoreOp {
	if a == driver.StoreActionDontCare {
		return gputypes.StoreOpDiscard
	}
	return gputypes.StoreOpStore
}

type renderEncoder struct {
	cb       *commandBuffer
	target   *Texture
	attach   driver.ColorAttachment
	viewport driver.Viewport
	pso      *renderPipeline
	bytes    map[int][]byte
	pass     renderPass
	err      error
	ended    bool
}

func (e *renderEncoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *renderEncoder) SetViewport(vp driver.Viewport) { e.viewport = vp }

func (e *renderEncoder) SetRenderPipelineState(pso driver.RenderPipelineState) {
	p, ok := pso.(*renderPipeline)
	if !ok || p == nil {
		e.fail(driver.ErrForeignResource)
		return
	}
	if p.format != e.target.format {
		e.fail(fmt.Errorf("wgpu: pipeline %s targets %v, render pass targets %v", p.label, p.format, e.target.format))
		return
	}
	e.pso = p
}

func (e *renderEncoder) SetVertexBytes(data []byte, index int) {
	if len(data) > driver.MaxInlineBytes {
		e.fail(fmt.Errorf("%w: %d bytes", driver.ErrInlineDataTooLarge, len(data)))
		return
	}
	if index < 0 {
		e.fail(fmt.Errorf("%w: index %d", driver.ErrInvalidLength, index))
		return
	}
	e.bytes[index] = append([]byte(nil), data...)
}

func (e *renderEncoder) DrawPrimitives(primitive driver.PrimitiveType, vertexStart, vertexCount int) {
	switch {
	case e.pso == nil:
		e.fail(driver.ErrNoPipelineState)
		return
	case primitive != driver.PrimitiveTypeTriangle:
		e.fail(fmt.Errorf("%w: %d", driver.ErrUnsupportedPrimitive, primitive))
		return
	case vertexStart < 0 || vertexCount < 0:
		e.fail(fmt.Errorf("%w: vertices [%d, +%d)", driver.ErrInvalidLength, vertexStart, vertexCount))
		return
	}

	vs := e.pso.vertex
	snapshot := make(map[int][]byte, len(e.bytes))
	lens := make([]int, len(vs.bindings))
	for i := range lens {
		b, ok := e.bytes[i]
		if !ok {
			lens[i] = -1
			continue
		}
		snapshot[i] = b
		lens[i] = len(b)
	}
	if err := vs.checkArgs(lens, vertexStart+vertexCount); err != nil {
		e.fail(err)
		return
	}
	e.pass.draws = append(e.pass.draws, draw{
		pso:      e.pso,
		viewport: e.viewport,
		bytes:    snapshot,
		start:    vertexStart,
		count:    vertexCount,
	})
}

func (e *renderEncoder) EndEncoding() error {
	if e.ended {
		return driver.ErrEncoderEnded
	}
	e.ended = true
	if e.err != nil {
		e.cb.EndEncoder(failedPass{err: e.err})
		return e.err
	}
	e.pass.target = e.target
	e.pass.attach = e.attach
	e.cb.EndEncoder(&e.pass)
	return nil
}
