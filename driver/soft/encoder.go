package soft

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpubasics/driver"
)

// argList converts index-keyed bindings into a dense slice.
func argList(m map[int][]byte) [][]byte {
	n := 0
	for i := range m {
		if i+1 > n {
			n = i + 1
		}
	}
	args := make([][]byte, n)
	for i, b := range m {
		args[i] = b
	}
	return args
}

// failedPass makes the command buffer finish with an encoding error.
type failedPass struct{ err error }

func (p failedPass) execute(*commandBuffer) error { return p.err }

type dispatch struct {
	pso  *computePipeline
	args [][]byte
	grid driver.Size
	tg   driver.Size
}

type computePass struct {
	dispatches []dispatch
}

func (p *computePass) execute(cb *commandBuffer) error {
	dev := cb.dev
	for _, d := range p.dispatches {
		total := d.grid.Count()
		per := d.tg.Count()
		groups := (total + per - 1) / per

		var (
			once     sync.Once
			panicErr error
		)
		kernel := d.pso.fn.kernel
		dev.pool.Dispatch(groups, func(g int) {
			defer func() {
				if r := recover(); r != nil {
					once.Do(func() { panicErr = fmt.Errorf("kernel %s panicked: %v", d.pso.fn.name, r) })
				}
			}()
			end := min((g+1)*per, total)
			for tid := g * per; tid < end; tid++ {
				kernel(tid, d.args)
			}
		})
		if panicErr != nil {
			return panicErr
		}
		dev.dispatches.Add(1)
		dev.threadgroups.Add(int64(groups))
		slogger().Debug("soft: dispatch executed",
			"kernel", d.pso.fn.name, "threads", total, "threadgroup", per, "groups", groups)
	}
	return nil
}

type computeEncoder struct {
	cb    *commandBuffer
	pso   *computePipeline
	args  map[int][]byte
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
	if !ok || b == nil {
		e.fail(driver.ErrForeignResource)
		return
	}
	data := b.Contents()
	if offset < 0 || offset > len(data) || index < 0 {
		e.fail(fmt.Errorf("%w: offset %d index %d", driver.ErrInvalidLength, offset, index))
		return
	}
	e.args[index] = data[offset:]
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
	args := argList(e.args)
	if err := e.pso.fn.checkArgs(args, grid.Count()); err != nil {
		e.fail(err)
		return
	}
	e.pass.dispatches = append(e.pass.dispatches, dispatch{
		pso: e.pso, args: args, grid: grid, tg: threadsPerThreadgroup,
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
	pso       *renderPipeline
	viewport  driver.Viewport
	bytes     map[int][]byte
	primitive driver.PrimitiveType
	start     int
	count     int
}

type renderPass struct {
	target *Texture
	attach driver.ColorAttachment
	draws  []draw
}

func (p *renderPass) execute(cb *commandBuffer) error {
	dev := cb.dev
	p.target.mu.Lock()
	defer p.target.mu.Unlock()
	if p.target.pix == nil {
		return driver.ErrDeviceClosed
	}

	if p.attach.LoadAction == driver.LoadActionClear {
		p.target.clear(p.attach.ClearColor)
	}
	for _, d := range p.draws {
		rasterize(p.target, d, argList(d.bytes))
		dev.recordDraw(DrawRecord{
			CommandBuffer: cb.Label(),
			Pipeline:      d.pso.label,
			Viewport:      d.viewport,
			Primitive:     d.primitive,
			VertexStart:   d.start,
			VertexCount:   d.count,
			VertexBytes:   d.bytes,
		})
	}
	return nil
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
		e.fail(fmt.Errorf("soft: pipeline %s targets %v, render pass targets %v", p.label, p.format, e.target.format))
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

	// Inline data is captured per draw, so later SetVertexBytes calls do
	// not affect draws already recorded.
	snapshot := make(map[int][]byte, len(e.bytes))
	for i, b := range e.bytes {
		snapshot[i] = b
	}
	if err := e.pso.vertex.checkArgs(argList(snapshot), vertexStart+vertexCount); err != nil {
		e.fail(err)
		return
	}
	e.pass.draws = append(e.pass.draws, draw{
		pso:       e.pso,
		viewport:  e.viewport,
		bytes:     snapshot,
		primitive: primitive,
		start:     vertexStart,
		count:     vertexCount,
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
