package gpubasics

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/driver/soft"
)

type testDrawable struct {
	tex      driver.Texture
	presents atomic.Int32
}

func (d *testDrawable) Texture() driver.Texture { return d.tex }
func (d *testDrawable) Present()                { d.presents.Add(1) }

// testView serves one texture as both render target and drawable. The
// noPass and noDrawable switches simulate a surface that is not ready.
type testView struct {
	drawable   *testDrawable
	format     driver.PixelFormat
	noPass     bool
	noDrawable bool
}

func newTestView(t *testing.T, dev driver.Device, w, h int) *testView {
	t.Helper()
	tex, err := dev.NewTexture(w, h, driver.PixelFormatRGBA8Unorm)
	if err != nil {
		t.Fatalf("NewTexture() error = %v", err)
	}
	return &testView{drawable: &testDrawable{tex: tex}, format: driver.PixelFormatRGBA8Unorm}
}

func (v *testView) CurrentRenderPassDescriptor() *driver.RenderPassDescriptor {
	if v.noPass {
		return nil
	}
	return &driver.RenderPassDescriptor{ColorAttachment: driver.ColorAttachment{Texture: v.drawable.tex}}
}

func (v *testView) CurrentDrawable() driver.Drawable {
	if v.noDrawable {
		return nil
	}
	return v.drawable
}

func (v *testView) ColorPixelFormat() driver.PixelFormat { return v.format }

func (v *testView) pixels(t *testing.T) [4]uint8 {
	t.Helper()
	img, err := v.drawable.tex.(driver.PixelReader).ReadPixels()
	if err != nil {
		t.Fatalf("ReadPixels() error = %v", err)
	}
	c := img.RGBAAt(0, 0)
	return [4]uint8{c.R, c.G, c.B, c.A}
}

func near(got uint8, want int) bool {
	d := int(got) - want
	return d >= -1 && d <= 1
}

func TestViewportBeforeAndAfterResize(t *testing.T) {
	ctx, dev := newSoftContext(t)
	view := newTestView(t, dev, 800, 600)
	fd := NewFrameDriver(ctx)

	if err := fd.Draw(view); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	fd.DrawableSizeWillChange(800, 600)
	if err := fd.Draw(view); err != nil {
		t.Fatalf("Draw() after resize error = %v", err)
	}
	flush(t, ctx)

	log := dev.DrawLog()
	if len(log) != 2 {
		t.Fatalf("DrawLog() has %d records, want 2", len(log))
	}
	if got := DecodeViewportSize(log[0].VertexBytes[VertexInputIndexViewportSize]); got != (ViewportSize{}) {
		t.Errorf("first frame viewport = %+v, want (0,0)", got)
	}
	if got := DecodeViewportSize(log[1].VertexBytes[VertexInputIndexViewportSize]); got != (ViewportSize{Width: 800, Height: 600}) {
		t.Errorf("second frame viewport = %+v, want (800,600)", got)
	}
	if got := log[1].VertexBytes[VertexInputIndexVertices]; string(got) != string(EncodeVertices(TriangleVertices[:])) {
		t.Error("vertex bytes differ from TriangleVertices")
	}
	if log[1].Pipeline != "Simple Pipeline" || log[1].VertexCount != 3 {
		t.Errorf("draw record = %+v", log[1])
	}
	if fd.Frames() != 2 || view.drawable.presents.Load() != 2 {
		t.Errorf("Frames() = %d, presents = %d, want 2/2", fd.Frames(), view.drawable.presents.Load())
	}
	if fd.State() != FrameSubmitted {
		t.Errorf("State() = %v, want submitted", fd.State())
	}
	if got := fd.Pipelines().Builds(); got != 1 {
		t.Errorf("pipeline builds = %d, want 1", got)
	}
}

func TestTriangleFramePixels(t *testing.T) {
	ctx, dev := newSoftContext(t)
	view := newTestView(t, dev, 800, 600)
	fd := NewFrameDriver(ctx)
	fd.Resize(800, 600)

	if err := fd.Draw(view); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	flush(t, ctx)

	c := view.pixels(t)
	if !near(c[0], 77) || !near(c[1], 77) || !near(c[2], 77) || c[3] != 255 {
		t.Errorf("corner = %v, want dark gray clear color", c)
	}
}

func TestClearModeFrame(t *testing.T) {
	ctx, dev := newSoftContext(t)
	view := newTestView(t, dev, 64, 64)
	fd := NewFrameDriver(ctx, WithFrameMode(FrameModeClear))

	if fd.ClearColor() != ClearModeColor {
		t.Errorf("ClearColor() = %+v, want %+v", fd.ClearColor(), ClearModeColor)
	}
	if err := fd.Draw(view); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	flush(t, ctx)

	c := view.pixels(t)
	if !near(c[0], 230) || !near(c[1], 153) || !near(c[2], 102) || c[3] != 255 {
		t.Errorf("pixel = %v, want ~(230,153,102,255)", c)
	}
	if n := len(dev.DrawLog()); n != 0 {
		t.Errorf("clear mode recorded %d draws, want 0", n)
	}
	if fd.Pipelines().Builds() != 0 {
		t.Error("clear mode built a pipeline")
	}
}

func TestWithClearColor(t *testing.T) {
	ctx, _ := newSoftContext(t)
	want := driver.ClearColor{Red: 1, Alpha: 1}
	fd := NewFrameDriver(ctx, WithClearColor(want))
	if fd.ClearColor() != want {
		t.Errorf("ClearColor() = %+v, want %+v", fd.ClearColor(), want)
	}
}

func TestFrameSkipped(t *testing.T) {
	tests := []struct {
		name  string
		setup func(v *testView)
		want  error
	}{
		{"no render pass", func(v *testView) { v.noPass = true }, ErrRenderPassUnavailable},
		{"no drawable", func(v *testView) { v.noDrawable = true }, ErrDrawableUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, dev := newSoftContext(t)
			view := newTestView(t, dev, 32, 32)
			tt.setup(view)
			fd := NewFrameDriver(ctx)

			err := fd.Draw(view)
			if !errors.Is(err, tt.want) || !IsRecoverable(err) {
				t.Fatalf("Draw() error = %v, want recoverable %v", err, tt.want)
			}
			var fe *FrameError
			if !errors.As(err, &fe) || fe.Frame != 0 {
				t.Errorf("error = %#v, want FrameError for frame 0", err)
			}
			if fd.SkippedFrames() != 1 || fd.Frames() != 0 {
				t.Errorf("SkippedFrames() = %d, Frames() = %d, want 1/0", fd.SkippedFrames(), fd.Frames())
			}
			if got := dev.Stats().Committed; got != 0 {
				t.Errorf("Committed = %d, want 0", got)
			}
			if fd.State() != FrameIdle {
				t.Errorf("State() = %v, want idle", fd.State())
			}

			// The next frame goes through once the view is ready.
			view.noPass, view.noDrawable = false, false
			if err := fd.Draw(view); err != nil {
				t.Fatalf("Draw() error = %v", err)
			}
			if fd.Frames() != 1 {
				t.Errorf("Frames() = %d, want 1", fd.Frames())
			}
		})
	}
}

func TestPixelFormatChangeKeepsFirstPipeline(t *testing.T) {
	ctx, dev := newSoftContext(t)
	view := newTestView(t, dev, 32, 32)
	fd := NewFrameDriver(ctx)

	if err := fd.Draw(view); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	view.format = driver.PixelFormatBGRA8Unorm
	for range 2 {
		if err := fd.Draw(view); err != nil {
			t.Fatalf("Draw() after format change error = %v", err)
		}
	}
	flush(t, ctx)

	if fd.Frames() != 3 || fd.SkippedFrames() != 0 {
		t.Errorf("Frames() = %d, SkippedFrames() = %d, want 3/0", fd.Frames(), fd.SkippedFrames())
	}
	if fd.Pipelines().Builds() != 1 {
		t.Errorf("pipeline builds = %d, want 1", fd.Pipelines().Builds())
	}
	log := dev.DrawLog()
	if len(log) != 3 || log[2].Pipeline != log[0].Pipeline {
		t.Errorf("DrawLog() = %d records, want 3 drawn with the first pipeline", len(log))
	}
}

func TestRenderTargetFormatChangeSkipsFrame(t *testing.T) {
	ctx, dev := newSoftContext(t)
	view := newTestView(t, dev, 32, 32)
	fd := NewFrameDriver(ctx)

	if err := fd.Draw(view); err != nil {
		t.Fatalf("Draw() error = %v", err)
	}
	tex, err := dev.NewTexture(32, 32, driver.PixelFormatBGRA8Unorm)
	if err != nil {
		t.Fatalf("NewTexture() error = %v", err)
	}
	view.drawable = &testDrawable{tex: tex}
	view.format = driver.PixelFormatBGRA8Unorm

	err = fd.Draw(view)
	if !errors.Is(err, ErrPixelFormatChanged) || !IsRecoverable(err) {
		t.Fatalf("Draw() error = %v, want recoverable ErrPixelFormatChanged", err)
	}
	if fd.SkippedFrames() != 1 || fd.Frames() != 1 || fd.State() != FrameIdle {
		t.Errorf("SkippedFrames/Frames/State = %d/%d/%v, want 1/1/idle", fd.SkippedFrames(), fd.Frames(), fd.State())
	}
	if fd.Pipelines().Builds() != 1 {
		t.Errorf("pipeline builds = %d, want 1", fd.Pipelines().Builds())
	}
}

func TestDrawWithoutLibrary(t *testing.T) {
	ctx, dev := newSoftContext(t, soft.WithoutLibrary())
	view := newTestView(t, dev, 16, 16)
	fd := NewFrameDriver(ctx)

	err := fd.Draw(view)
	var ie *InitializationError
	if !errors.As(err, &ie) || IsRecoverable(err) {
		t.Errorf("Draw() error = %v, want InitializationError", err)
	}
}

func TestDrawAfterClose(t *testing.T) {
	ctx, dev := newSoftContext(t)
	view := newTestView(t, dev, 16, 16)
	fd := NewFrameDriver(ctx)
	_ = ctx.Close()

	if err := fd.Draw(view); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Draw() error = %v, want ErrContextClosed", err)
	}
}

func TestParseFrameMode(t *testing.T) {
	for _, m := range []FrameMode{FrameModeTriangle, FrameModeClear} {
		got, err := ParseFrameMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseFrameMode(%q) = (%v, %v)", m.String(), got, err)
		}
	}
	if _, err := ParseFrameMode("wireframe"); err == nil {
		t.Error("ParseFrameMode(wireframe) succeeded")
	}
}
