package soft

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gpubasics/driver"
)

// buffer is host memory shared by the CPU "device" and the caller.
type buffer struct {
	dev      *Device
	data     []byte
	mode     driver.StorageMode
	released atomic.Bool
}

func (b *buffer) Len() int { return len(b.data) }

func (b *buffer) Contents() []byte {
	if b.released.Load() {
		return nil
	}
	return b.data
}

func (b *buffer) Release() {
	if b.released.CompareAndSwap(false, true) {
		b.data = nil
	}
}

// Texture is a host render target with 4 bytes per pixel.
// Byte order follows the pixel format (RGBA or BGRA).
type Texture struct {
	dev    *Device
	width  int
	height int
	format driver.PixelFormat

	// mu guards pix between render passes and ReadPixels.
	mu  sync.RWMutex
	pix []byte
}

func newTexture(d *Device, w, h int, format driver.PixelFormat) *Texture {
	return &Texture{dev: d, width: w, height: h, format: format, pix: make([]byte, w*h*4)}
}

func (t *Texture) Width() int                      { return t.width }
func (t *Texture) Height() int                     { return t.height }
func (t *Texture) PixelFormat() driver.PixelFormat { return t.format }

// Release drops the pixel storage.
func (t *Texture) Release() {
	t.mu.Lock()
	t.pix = nil
	t.mu.Unlock()
}

// ReadPixels copies the texture into a new RGBA image.
func (t *Texture) ReadPixels() (*image.RGBA, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.pix == nil {
		return nil, driver.ErrDeviceClosed
	}

	img := image.NewRGBA(image.Rect(0, 0, t.width, t.height))
	copy(img.Pix, t.pix)
	if t.format == driver.PixelFormatBGRA8Unorm {
		for i := 0; i < len(img.Pix); i += 4 {
			img.Pix[i], img.Pix[i+2] = img.Pix[i+2], img.Pix[i]
		}
	}
	return img, nil
}

// store writes one pixel from a normalized color.
// Callers hold t.mu for writing.
func (t *Texture) store(x, y int, c [4]float32) {
	i := (y*t.width + x) * 4
	r, g, b, a := unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])
	if t.format == driver.PixelFormatBGRA8Unorm {
		r, b = b, r
	}
	t.pix[i], t.pix[i+1], t.pix[i+2], t.pix[i+3] = r, g, b, a
}

// clear fills the whole texture. Callers hold t.mu for writing.
func (t *Texture) clear(c driver.ClearColor) {
	col := [4]float32{float32(c.Red), float32(c.Green), float32(c.Blue), float32(c.Alpha)}
	for y := 0; y < t.height; y++ {
		for x := 0; x < t.width; x++ {
			t.store(x, y, col)
		}
	}
}

func unorm8(v float32) uint8 {
	switch {
	case !(v > 0):
		return 0
	case v >= 1:
		return 255
	default:
		return uint8(v*255 + 0.5)
	}
}
