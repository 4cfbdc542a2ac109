//go:build !nogpu

package wgpu

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpubasics/driver"
)

// createNoopDevice opens a device on the noop backend. Shaders compile
// and commands are accepted, but nothing executes on a GPU.
func createNoopDevice(t *testing.T) *Device {
	t.Helper()
	d, err := OpenBackend(noop.API{})
	if err != nil {
		t.Fatalf("OpenBackend(noop) error = %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestCompileShaders(t *testing.T) {
	for _, src := range []string{addArraysWGSL, ex3WGSL} {
		words, err := compileWGSL(src)
		if err != nil {
			t.Fatalf("compileWGSL() error = %v", err)
		}
		if len(words) == 0 || words[0] != 0x07230203 {
			t.Errorf("SPIR-V magic = %#x, want 0x07230203", words[0])
		}
	}
}

func TestLibrary(t *testing.T) {
	d := createNoopDevice(t)
	lib, err := d.DefaultLibrary()
	if err != nil {
		t.Fatalf("DefaultLibrary() error = %v", err)
	}

	want := []string{FunctionAddArrays, FunctionFragmentEx3, FunctionVertexEx3}
	got := lib.FunctionNames()
	if len(got) != len(want) {
		t.Fatalf("FunctionNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("FunctionNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := lib.Function("nope"); !errors.Is(err, driver.ErrFunctionNotFound) {
		t.Errorf("Function(nope) error = %v, want ErrFunctionNotFound", err)
	}
	fn, _ := lib.Function(FunctionVertexEx3)
	if _, err := d.NewComputePipelineState(fn); !errors.Is(err, driver.ErrWrongStage) {
		t.Errorf("NewComputePipelineState(vertex) error = %v, want ErrWrongStage", err)
	}
}

func TestPipelines(t *testing.T) {
	d := createNoopDevice(t)
	lib, _ := d.DefaultLibrary()

	kernel, _ := lib.Function(FunctionAddArrays)
	cps, err := d.NewComputePipelineState(kernel)
	if err != nil {
		t.Fatalf("NewComputePipelineState() error = %v", err)
	}
	if got := cps.MaxTotalThreadsPerThreadgroup(); got != int(gputypes.DefaultLimits().MaxComputeInvocationsPerWorkgroup) {
		t.Errorf("MaxTotalThreadsPerThreadgroup() = %d", got)
	}

	vs, _ := lib.Function(FunctionVertexEx3)
	fs, _ := lib.Function(FunctionFragmentEx3)
	rps, err := d.NewRenderPipelineState(&driver.RenderPipelineDescriptor{
		VertexFunction:   vs,
		FragmentFunction: fs,
		ColorPixelFormat: driver.PixelFormatBGRA8Unorm,
	})
	if err != nil {
		t.Fatalf("NewRenderPipelineState() error = %v", err)
	}
	if rps.Label() != FunctionVertexEx3+"+"+FunctionFragmentEx3 {
		t.Errorf("Label() = %q", rps.Label())
	}

	// Both stages share one WGSL source, compiled once.
	if n := len(d.lib.modules); n != 2 {
		t.Errorf("compiled modules = %d, want 2", n)
	}
	if s := d.Stats(); s.ComputePipelines != 1 || s.RenderPipelines != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func putFloats(b driver.Buffer, vals ...float32) {
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b.Contents()[i*4:], math.Float32bits(v))
	}
}

func TestComputeSubmission(t *testing.T) {
	d := createNoopDevice(t)
	lib, _ := d.DefaultLibrary()
	kernel, _ := lib.Function(FunctionAddArrays)
	pso, err := d.NewComputePipelineState(kernel)
	if err != nil {
		t.Fatal(err)
	}

	const n = 100
	a, _ := d.NewBuffer(n*4, driver.StorageModeShared)
	b, _ := d.NewBuffer(n*4, driver.StorageModeShared)
	out, _ := d.NewBuffer(n*4, driver.StorageModeShared)
	putFloats(a, 1, 2, 3)
	putFloats(out, 42)

	q, _ := d.NewCommandQueue()
	cb, _ := q.CommandBuffer()
	enc, _ := cb.ComputeCommandEncoder()
	enc.SetComputePipelineState(pso)
	enc.SetBuffer(a, 0, 0)
	enc.SetBuffer(b, 0, 1)
	enc.SetBuffer(out, 0, 2)
	enc.DispatchThreads(driver.Size1D(n), driver.Size1D(64))
	if err := enc.EndEncoding(); err != nil {
		t.Fatalf("EndEncoding() error = %v", err)
	}

	done := make(chan driver.CommandBufferStatus, 1)
	cb.AddCompletedHandler(func(c driver.CommandBuffer) { done <- c.Status() })
	if err := cb.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if st := <-done; st != driver.StatusCompleted {
		t.Fatalf("status = %v, err = %v", st, cb.Err())
	}

	// The noop backend keeps buffers in memory but runs no shaders: the
	// result mirror is refreshed from the device, the inputs are not.
	if got := math.Float32frombits(binary.LittleEndian.Uint32(out.Contents())); got != 0 {
		t.Errorf("out[0] after readback = %v, want 0", got)
	}
	if got := math.Float32frombits(binary.LittleEndian.Uint32(a.Contents()[8:])); got != 3 {
		t.Errorf("a[2] = %v, want 3", got)
	}
	if d.Stats().Submissions != 1 {
		t.Errorf("Submissions = %d, want 1", d.Stats().Submissions)
	}
}

func TestComputeEncodingErrors(t *testing.T) {
	d := createNoopDevice(t)
	lib, _ := d.DefaultLibrary()
	kernel, _ := lib.Function(FunctionAddArrays)
	pso, _ := d.NewComputePipelineState(kernel)
	small, _ := d.NewBuffer(16, driver.StorageModeShared)
	q, _ := d.NewCommandQueue()

	tests := []struct {
		name   string
		encode func(e driver.ComputeCommandEncoder)
		want   error
	}{
		{"no pipeline", func(e driver.ComputeCommandEncoder) {
			e.DispatchThreads(driver.Size1D(4), driver.Size1D(4))
		}, driver.ErrNoPipelineState},
		{"missing binding", func(e driver.ComputeCommandEncoder) {
			e.SetComputePipelineState(pso)
			e.SetBuffer(small, 0, 0)
			e.DispatchThreads(driver.Size1D(4), driver.Size1D(4))
		}, driver.ErrMissingBinding},
		{"buffer too small", func(e driver.ComputeCommandEncoder) {
			e.SetComputePipelineState(pso)
			for i := range 3 {
				e.SetBuffer(small, 0, i)
			}
			e.DispatchThreads(driver.Size1D(5), driver.Size1D(5))
		}, driver.ErrBufferTooSmall},
		{"threadgroup too large", func(e driver.ComputeCommandEncoder) {
			e.SetComputePipelineState(pso)
			e.DispatchThreads(driver.Size1D(4096), driver.Size1D(4096))
		}, driver.ErrThreadgroupTooLarge},
		{"unaligned offset", func(e driver.ComputeCommandEncoder) {
			e.SetBuffer(small, 4, 0)
		}, driver.ErrInvalidLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, _ := q.CommandBuffer()
			enc, _ := cb.ComputeCommandEncoder()
			tt.encode(enc)
			if err := enc.EndEncoding(); !errors.Is(err, tt.want) {
				t.Fatalf("EndEncoding() error = %v, want %v", err, tt.want)
			}
			_ = cb.Commit()
			cb.WaitUntilCompleted()
			if cb.Status() != driver.StatusError || !errors.Is(cb.Err(), tt.want) {
				t.Errorf("Status() = %v, Err() = %v", cb.Status(), cb.Err())
			}
		})
	}
}

func TestRenderSubmission(t *testing.T) {
	d := createNoopDevice(t)
	lib, _ := d.DefaultLibrary()
	vs, _ := lib.Function(FunctionVertexEx3)
	fs, _ := lib.Function(FunctionFragmentEx3)
	pso, err := d.NewRenderPipelineState(&driver.RenderPipelineDescriptor{
		VertexFunction: vs, FragmentFunction: fs, ColorPixelFormat: driver.PixelFormatRGBA8Unorm,
	})
	if err != nil {
		t.Fatal(err)
	}
	tex, err := d.NewTexture(300, 200, driver.PixelFormatRGBA8Unorm)
	if err != nil {
		t.Fatal(err)
	}

	q, _ := d.NewCommandQueue()
	cb, _ := q.CommandBuffer()
	enc, err := cb.RenderCommandEncoder(&driver.RenderPassDescriptor{
		ColorAttachment: driver.ColorAttachment{
			Texture:     tex,
			LoadAction:  driver.LoadActionClear,
			StoreAction: driver.StoreActionStore,
			ClearColor:  driver.ClearColor{Red: 0.3, Green: 0.3, Blue: 0.3, Alpha: 1},
		},
	})
	if err != nil {
		t.Fatalf("RenderCommandEncoder() error = %v", err)
	}
	enc.SetViewport(driver.Viewport{Width: 300, Height: 200, ZFar: 1})
	enc.SetRenderPipelineState(pso)
	enc.SetVertexBytes(make([]byte, 3*vertexStride), 0)
	enc.SetVertexBytes(make([]byte, viewportSizeBytes), 1)
	enc.DrawPrimitives(driver.PrimitiveTypeTriangle, 0, 3)
	if err := enc.EndEncoding(); err != nil {
		t.Fatalf("EndEncoding() error = %v", err)
	}
	if err := cb.Commit(); err != nil {
		t.Fatal(err)
	}
	cb.WaitUntilCompleted()
	if cb.Status() != driver.StatusCompleted {
		t.Fatalf("Status() = %v, Err() = %v", cb.Status(), cb.Err())
	}

	img, err := tex.(driver.PixelReader).ReadPixels()
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 200 {
		t.Errorf("ReadPixels() bounds = %v", img.Bounds())
	}
}

func TestClipViewport(t *testing.T) {
	tests := []struct {
		name   string
		vp     driver.Viewport
		wantW  float32
		wantOK bool
	}{
		{"full", driver.Viewport{Width: 100, Height: 50}, 100, true},
		{"overhang", driver.Viewport{OriginX: 60, Width: 100, Height: 50}, 40, true},
		{"zero", driver.Viewport{}, 0, false},
		{"outside", driver.Viewport{OriginX: 200, Width: 10, Height: 10}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, w, _, ok := clipViewport(tt.vp, 100, 50)
			if ok != tt.wantOK || w != tt.wantW {
				t.Errorf("clipViewport() = w %v ok %v, want w %v ok %v", w, ok, tt.wantW, tt.wantOK)
			}
		})
	}
}

func TestWorkgroups(t *testing.T) {
	tests := []struct {
		threads int
		x, y    uint32
	}{
		{1, 1, 1},
		{64, 1, 1},
		{65, 2, 1},
		{64 * 65535, 65535, 1},
		{64*65535 + 1, 65535, 2},
	}
	for _, tt := range tests {
		x, y := workgroups(tt.threads, 65535)
		if x != tt.x || y != tt.y {
			t.Errorf("workgroups(%d) = (%d, %d), want (%d, %d)", tt.threads, x, y, tt.x, tt.y)
		}
	}
}

// provider shares a noop HAL device the way a windowing host would.
type provider struct {
	dev   hal.Device
	queue hal.Queue
}

func (p provider) Device() gpucontext.Device { return p.dev }
func (p provider) Queue() gpucontext.Queue   { return p.queue }
func (p provider) Adapter() gpucontext.Adapter {
	return nil
}
func (p provider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatRGBA8Unorm
}
func (p provider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "Shared Noop"}
}

func TestNewFromProvider(t *testing.T) {
	instance, err := noop.API{}.CreateInstance(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer instance.Destroy()
	open, err := instance.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	defer open.Device.Destroy()

	d, err := NewFromProvider(provider{dev: open.Device, queue: open.Queue})
	if err != nil {
		t.Fatalf("NewFromProvider() error = %v", err)
	}
	if d.Name() != "Shared Noop" {
		t.Errorf("Name() = %q", d.Name())
	}
	if d.PreferredPixelFormat() != driver.PixelFormatRGBA8Unorm {
		t.Errorf("PreferredPixelFormat() = %v", d.PreferredPixelFormat())
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFromProvider(provider{}); err == nil {
		t.Error("NewFromProvider() with nil device succeeded")
	}
}

func TestClose(t *testing.T) {
	d := createNoopDevice(t)
	q, _ := d.NewCommandQueue()
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := d.NewBuffer(4, driver.StorageModeShared); !errors.Is(err, driver.ErrDeviceClosed) {
		t.Errorf("NewBuffer() after Close error = %v", err)
	}
	if _, err := q.CommandBuffer(); !errors.Is(err, driver.ErrDeviceClosed) {
		t.Errorf("CommandBuffer() after Close error = %v", err)
	}
}
