//go:build !nogpu

package wgpu

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/internal/cmdqueue"
)

// commandQueue executes committed command buffers on its own goroutine.
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
	cb := &commandBuffer{Buffer: b, dev: q.dev}
	b.SetOwner(cb)
	return cb, nil
}

func (q *commandQueue) close() { q.q.Close() }

// execute translates the recorded passes into one HAL submission and
// waits for it.
func (q *commandQueue) execute(b *cmdqueue.Buffer[pass]) error {
	d := q.dev
	passes := b.Passes()
	if len(passes) == 0 {
		return nil
	}
	if d.device == nil {
		return driver.ErrDeviceClosed
	}

	x := &execution{dev: d, uploaded: make(map[*buffer]bool)}
	defer x.release()

	for i, p := range passes {
		if err := p.prepare(x); err != nil {
			return fmt.Errorf("wgpu: %s pass %d: %w", b.Label(), i, err)
		}
	}

	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: b.Label()})
	if err != nil {
		return fmt.Errorf("wgpu: create command encoder: %w", err)
	}
	defer enc.Destroy()
	if err := enc.BeginEncoding(b.Label()); err != nil {
		return fmt.Errorf("wgpu: begin encoding: %w", err)
	}
	for _, p := range passes {
		p.encode(x, enc)
	}
	if err := x.encodeReadbacks(enc); err != nil {
		enc.DiscardEncoding()
		return err
	}
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("wgpu: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmd)

	if err := d.submit(cmd); err != nil {
		return err
	}
	return x.resolve()
}

// submit submits cmd and blocks until the GPU has finished it.
func (d *Device) submit(cmd hal.CommandBuffer) error {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	idx, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return fmt.Errorf("wgpu: submit: %w", err)
	}
	d.submissions.Add(1)
	if d.queue.PollCompleted() >= idx {
		return nil
	}
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("wgpu: wait for submission %d: %w", idx, err)
	}
	return nil
}

// readback copies a staging buffer into host memory after submission.
type readback struct {
	staging hal.Buffer
	size    uint64
	store   func([]byte)
}

// execution holds the transient objects of one command buffer.
type execution struct {
	dev *Device

	uploaded map[*buffer]bool
	written  []*buffer
	targets  []*Texture

	temps     []hal.Buffer
	groups    []hal.BindGroup
	readbacks []readback
}

// upload writes b's host contents once per command buffer.
func (x *execution) upload(b *buffer) error {
	if x.uploaded[b] {
		return nil
	}
	x.uploaded[b] = true
	if err := b.upload(x.dev.queue); err != nil {
		return fmt.Errorf("wgpu: upload buffer: %w", err)
	}
	return nil
}

// readBack schedules b to be copied to the host after the passes.
func (x *execution) readBack(b *buffer) {
	for _, w := range x.written {
		if w == b {
			return
		}
	}
	x.written = append(x.written, b)
}

// readTexture schedules t to be copied to the host after the passes.
func (x *execution) readTexture(t *Texture) {
	for _, w := range x.targets {
		if w == t {
			return
		}
	}
	x.targets = append(x.targets, t)
}

// inline creates a buffer holding data for one draw.
func (x *execution) inline(data []byte, usage gputypes.BufferUsage) (hal.Buffer, error) {
	size := align(uint64(max(len(data), 16)), 16)
	buf, err := x.temp("gpubasics-inline", size, usage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := x.dev.queue.WriteBuffer(buf, 0, padded(data)); err != nil {
			return nil, fmt.Errorf("wgpu: write inline data: %w", err)
		}
	}
	return buf, nil
}

func (x *execution) temp(label string, size uint64, usage gputypes.BufferUsage) (hal.Buffer, error) {
	buf, err := x.dev.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create %s buffer: %w", label, err)
	}
	x.temps = append(x.temps, buf)
	return buf, nil
}

func (x *execution) bindGroup(label string, layout hal.BindGroupLayout, entries []gputypes.BindGroupEntry) (hal.BindGroup, error) {
	bg, err := x.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   label,
		Layout:  layout,
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create bind group %s: %w", label, err)
	}
	x.groups = append(x.groups, bg)
	return bg, nil
}

// encodeReadbacks copies written buffers and render targets into MapRead
// staging buffers.
func (x *execution) encodeReadbacks(enc hal.CommandEncoder) error {
	for _, b := range x.written {
		staging, err := x.temp("gpubasics-readback", b.size, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
		if err != nil {
			return err
		}
		enc.CopyBufferToBuffer(b.hal, staging, []hal.BufferCopy{{Size: b.size}})
		x.readbacks = append(x.readbacks, readback{staging: staging, size: b.size, store: b.store})
	}

	for _, t := range x.targets {
		pitch := t.bytesPerRow()
		size := uint64(pitch) * uint64(t.height)
		staging, err := x.temp("gpubasics-pixels", size, gputypes.BufferUsageMapRead|gputypes.BufferUsageCopyDst)
		if err != nil {
			return err
		}
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.hal,
			Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageRenderAttachment,
				NewUsage: gputypes.TextureUsageCopySrc,
			},
		}})
		enc.CopyTextureToBuffer(t.hal, staging, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{BytesPerRow: pitch, RowsPerImage: uint32(t.height)},
			TextureBase: hal.ImageCopyTexture{
				Texture: t.hal,
				Aspect:  gputypes.TextureAspectAll,
			},
			Size: hal.Extent3D{Width: uint32(t.width), Height: uint32(t.height), DepthOrArrayLayers: 1},
		}})
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: t.hal,
			Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopySrc,
				NewUsage: gputypes.TextureUsageRenderAttachment,
			},
		}})
		x.readbacks = append(x.readbacks, readback{staging: staging, size: size, store: t.store})
	}
	return nil
}

// resolve maps the staging buffers and stores their contents.
func (x *execution) resolve() error {
	for _, rb := range x.readbacks {
		m, err := x.dev.device.MapBuffer(rb.staging, 0, rb.size)
		if err != nil {
			return fmt.Errorf("wgpu: map readback: %w", err)
		}
		rb.store(unsafe.Slice((*byte)(m.Ptr), rb.size))
		if err := x.dev.device.UnmapBuffer(rb.staging); err != nil {
			return fmt.Errorf("wgpu: unmap readback: %w", err)
		}
	}
	return nil
}

func (x *execution) release() {
	dev := x.dev.device
	if dev == nil {
		return
	}
	for _, bg := range x.groups {
		dev.DestroyBindGroup(bg)
	}
	for _, buf := range x.temps {
		dev.DestroyBuffer(buf)
	}
}

// commandBuffer adds the wgpu encoders to the shared lifecycle.
type commandBuffer struct {
	*cmdqueue.Buffer[pass]
	dev *Device
}

func (cb *commandBuffer) Commit() error {
	if err := cb.Buffer.Commit(); err != nil {
		return fmt.Errorf("wgpu: %w", err)
	}
	return nil
}

func (cb *commandBuffer) ComputeCommandEncoder() (driver.ComputeCommandEncoder, error) {
	if err := cb.BeginEncoder(); err != nil {
		return nil, err
	}
	return &computeEncoder{cb: cb, args: make(map[int]binding)}, nil
}

func (cb *commandBuffer) RenderCommandEncoder(desc *driver.RenderPassDescriptor) (driver.RenderCommandEncoder, error) {
	if desc == nil || desc.ColorAttachment.Texture == nil {
		return nil, driver.ErrNoRenderTarget
	}
	tex, ok := desc.ColorAttachment.Texture.(*Texture)
	if !ok || tex.dev != cb.dev {
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
