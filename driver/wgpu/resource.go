//go:build !nogpu

package wgpu

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubasics/driver"
)

// buffer is a device storage buffer with a host mirror. The mirror is
// uploaded before every submission that binds the buffer and refreshed
// from the device after submissions that write it.
type buffer struct {
	dev  *Device
	hal  hal.Buffer
	size uint64
	mode driver.StorageMode

	mu       sync.Mutex
	host     []byte
	released bool
}

func newBuffer(d *Device, length int, mode driver.StorageMode) (*buffer, error) {
	size := align(uint64(length), 4)
	if size == 0 {
		size = 4
	}
	hb, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "gpubasics-buffer",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create buffer: %w", err)
	}
	return &buffer{
		dev:  d,
		hal:  hb,
		size: size,
		mode: mode,
		host: make([]byte, length),
	}, nil
}

func (b *buffer) Len() int { return len(b.host) }

func (b *buffer) Contents() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	return b.host
}

func (b *buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true
	if b.dev.device != nil {
		b.dev.device.DestroyBuffer(b.hal)
	}
	b.host = nil
}

// upload writes the host mirror to the device buffer.
func (b *buffer) upload(q hal.Queue) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return driver.ErrDeviceClosed
	}
	if len(b.host) == 0 {
		return nil
	}
	return q.WriteBuffer(b.hal, 0, padded(b.host))
}

// store copies read-back device contents into the host mirror.
func (b *buffer) store(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.released {
		copy(b.host, data)
	}
}

// Texture is a render target whose contents are copied back to the host
// after every render pass that draws into it.
type Texture struct {
	dev    *Device
	hal    hal.Texture
	view   hal.TextureView
	width  int
	height int
	format driver.PixelFormat

	mu  sync.RWMutex
	pix []byte
}

func newTexture(d *Device, width, height int, format driver.PixelFormat) (*Texture, error) {
	ht, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         "gpubasics-target",
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create texture: %w", err)
	}
	view, err := d.device.CreateTextureView(ht, &hal.TextureViewDescriptor{
		Label:         "gpubasics-target-view",
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(ht)
		return nil, fmt.Errorf("wgpu: create texture view: %w", err)
	}
	return &Texture{
		dev:    d,
		hal:    ht,
		view:   view,
		width:  width,
		height: height,
		format: format,
		pix:    make([]byte, width*height*4),
	}, nil
}

func (t *Texture) Width() int                      { return t.width }
func (t *Texture) Height() int                     { return t.height }
func (t *Texture) PixelFormat() driver.PixelFormat { return t.format }

func (t *Texture) Release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hal == nil {
		return
	}
	if t.dev.device != nil {
		t.dev.device.DestroyTextureView(t.view)
		t.dev.device.DestroyTexture(t.hal)
	}
	t.hal, t.view = nil, nil
}

// ReadPixels returns the texture contents as of the last completed render pass.
func (t *Texture) ReadPixels() (*image.RGBA, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	img := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
	copy(img.Pix, t.pix)
	if t.format == driver.PixelFormatBGRA8Unorm {
		for i := 0; i+3 < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img, nil
}

// bytesPerRow is the padded row pitch used for texture readback.
func (t *Texture) bytesPerRow() uint32 {
	return uint32(align(uint64(t.width)*4, 256))
}

// store copies a padded readback into the host pixels.
func (t *Texture) store(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	row := t.width * 4
	pitch := int(t.bytesPerRow())
	for y := 0; y < t.height; y++ {
		src := data[y*pitch:]
		copy(t.pix[y*row:(y+1)*row], src[:row])
	}
}

func align(n, a uint64) uint64 {
	return (n + a - 1) / a * a
}

// padded returns data extended to a multiple of 4 bytes, as WriteBuffer requires.
func padded(data []byte) []byte {
	if len(data)%4 == 0 {
		return data
	}
	out := make([]byte, align(uint64(len(data)), 4))
	copy(out, data)
	return out
}
