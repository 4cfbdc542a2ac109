package soft

import (
	"fmt"

	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/internal/cmdqueue"
)

// pass is one encoded compute or render pass.
type pass interface {
	execute(cb *commandBuffer) error
}

// commandQueue runs committed command buffers one at a time on its own
// goroutine.
type commandQueue struct {
	dev *Device
	q   *cmdqueue.Queue[pass]
}

func newCommandQueue(d *Device) *commandQueue {
	cq := &commandQueue{dev: d}
	cq.q = cmdqueue.NewQueue(0, cq.execute)
	return cq
}

// CommandBuffer creates an empty command buffer.
func (q *commandQueue) CommandBuffer() (driver.CommandBuffer, error) {
	b, err := q.q.NewBuffer()
	if err != nil {
		return nil, err
	}
	q.dev.commandBuffers.Add(1)
	cb := &commandBuffer{Buffer: b, dev: q.dev}
	b.SetOwner(cb)
	return cb, nil
}

func (q *commandQueue) close() { q.q.Close() }

// execute runs on the queue goroutine.
func (q *commandQueue) execute(b *cmdqueue.Buffer[pass]) error {
	cb := &commandBuffer{Buffer: b, dev: q.dev}
	for i, p := range b.Passes() {
		if err := p.execute(cb); err != nil {
			return fmt.Errorf("soft: %s pass %d: %w", b.Label(), i, err)
		}
	}
	return nil
}

// commandBuffer adds the soft encoders to the shared lifecycle.
type commandBuffer struct {
	*cmdqueue.Buffer[pass]
	dev *Device
}

func (cb *commandBuffer) Commit() error {
	if err := cb.Buffer.Commit(); err != nil {
		return fmt.Errorf("soft: %w", err)
	}
	cb.dev.committed.Add(1)
	return nil
}

func (cb *commandBuffer) ComputeCommandEncoder() (driver.ComputeCommandEncoder, error) {
	if err := cb.BeginEncoder(); err != nil {
		return nil, err
	}
	return &computeEncoder{cb: cb, args: make(map[int][]byte)}, nil
}

func (cb *commandBuffer) RenderCommandEncoder(desc *driver.RenderPassDescriptor) (driver.RenderCommandEncoder, error) {
	if desc == nil || desc.ColorAttachment.Texture == nil {
		return nil, driver.ErrNoRenderTarget
	}
	tex, ok := desc.ColorAttachment.Texture.(*Texture)
	if !ok {
		return nil, driver.ErrForeignResource
	}
	if err := cb.BeginEncoder(); err != nil {
		return nil, err
	}
	return &renderEncoder{
		cb:     cb,
		target: tex,
		attach: desc.ColorAttachment,
		bytes:  make(map[int][]byte),
		viewport: driver.Viewport{
			Width: float64(tex.Width()), Height: float64(tex.Height()), ZFar: 1,
		},
	}, nil
}
