package gpubasics

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/driver/soft"
)

func TestAllocate(t *testing.T) {
	ctx, _ := newSoftContext(t)

	b, err := Allocate(ctx, Float32, 10)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if b.Len() != 10 || b.Stride() != 4 || b.Raw().Len() != 40 {
		t.Errorf("Len/Stride/bytes = %d/%d/%d, want 10/4/40", b.Len(), b.Stride(), b.Raw().Len())
	}

	empty, err := Allocate(ctx, Float32, 0)
	if err != nil {
		t.Fatalf("Allocate(0) error = %v", err)
	}
	if empty.Len() != 0 || empty.Raw() != nil {
		t.Error("Allocate(0) should allocate nothing")
	}

	if _, err := Allocate(ctx, Float32, -1); err == nil {
		t.Error("Allocate(-1) succeeded")
	}
}

func TestAllocateInvalidLength(t *testing.T) {
	ctx, _ := newSoftContext(t, soft.WithMaxBufferLength(64))

	tests := []struct {
		name  string
		count int
	}{
		{"byte size overflows", math.MaxInt / 2},
		{"above device limit", 17},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Allocate(ctx, Float32, tt.count)
			if err == nil {
				t.Fatalf("Allocate(%d) = Len %d, want error", tt.count, b.Len())
			}
			var ie *InitializationError
			if !errors.As(err, &ie) || !errors.Is(err, driver.ErrInvalidLength) {
				t.Errorf("Allocate(%d) error = %v, want InitializationError(ErrInvalidLength)", tt.count, err)
			}
		})
	}

	if _, err := Allocate(ctx, Float32, 16); err != nil {
		t.Errorf("Allocate(16) at the limit error = %v", err)
	}
}

func TestElementAccessShortStorage(t *testing.T) {
	ctx, _ := newSoftContext(t)
	raw, err := ctx.Device().NewBuffer(16, driver.StorageModeShared)
	if err != nil {
		t.Fatalf("NewBuffer() error = %v", err)
	}
	b := &Buffer[float32]{raw: raw, codec: Float32, count: 100}

	if _, err := b.At(3); err != nil {
		t.Errorf("At(3) error = %v", err)
	}
	for _, i := range []int{4, 99} {
		if _, err := b.At(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("At(%d) error = %v, want ErrIndexOutOfRange", i, err)
		}
		if err := b.Set(i, 1); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Set(%d) error = %v, want ErrIndexOutOfRange", i, err)
		}
	}
	if err := FillRandom(b, 10, Range{Max: 1}, nil); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("FillRandom past storage error = %v, want ErrIndexOutOfRange", err)
	}
	if got := len(b.Values()); got != 100 {
		t.Errorf("len(Values()) = %d, want 100", got)
	}
}

func TestElementAccess(t *testing.T) {
	ctx, _ := newSoftContext(t)
	b, _ := Allocate(ctx, Float32, 4)

	if err := WriteElement(b, 2, 1.5); err != nil {
		t.Fatalf("WriteElement() error = %v", err)
	}
	v, err := ReadElement(b, 2)
	if err != nil || v != 1.5 {
		t.Errorf("ReadElement() = (%v, %v), want (1.5, nil)", v, err)
	}

	for _, i := range []int{-1, 4, 100} {
		if _, err := b.At(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("At(%d) error = %v, want ErrIndexOutOfRange", i, err)
		}
		if err := b.Set(i, 0); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Set(%d) error = %v, want ErrIndexOutOfRange", i, err)
		}
	}

	b.Release()
	if _, err := b.At(0); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("At(0) after Release error = %v, want ErrIndexOutOfRange", err)
	}
	b.Release()
}

func TestFillRandom(t *testing.T) {
	ctx, _ := newSoftContext(t)
	b, _ := Allocate(ctx, Float32, 1000)
	r := Range{Min: 10, Max: 20}

	if err := FillRandom(b, 900, r, rand.New(rand.NewPCG(1, 2))); err != nil {
		t.Fatalf("FillRandom() error = %v", err)
	}
	vals := b.Values()
	for i, v := range vals[:900] {
		if v < r.Min || v >= r.Max {
			t.Fatalf("vals[%d] = %v outside [%v, %v)", i, v, r.Min, r.Max)
		}
	}
	for i, v := range vals[900:] {
		if v != 0 {
			t.Fatalf("vals[%d] = %v, want untouched 0", 900+i, v)
		}
	}

	// Same seed, same sequence.
	c, _ := Allocate(ctx, Float32, 900)
	_ = FillRandom(c, 900, r, rand.New(rand.NewPCG(1, 2)))
	for i, v := range c.Values() {
		if v != vals[i] {
			t.Fatalf("reseeded fill differs at %d: %v != %v", i, v, vals[i])
		}
	}

	if err := FillRandom(b, 1001, r, nil); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("FillRandom(count > Len) error = %v, want ErrIndexOutOfRange", err)
	}
	if err := FillRandom(b, 1, Range{Min: 2, Max: 1}, nil); err == nil {
		t.Error("FillRandom with inverted range succeeded")
	}
}

func TestVertexCodecLayout(t *testing.T) {
	v := Vertex{Position: [2]float32{250, -250}, Color: [4]float32{1, 0, 0, 1}}
	buf := make([]byte, VertexStride)
	VertexCodec.Encode(buf, v)

	for i := 8; i < 16; i++ {
		if buf[i] != 0 {
			t.Fatalf("padding byte %d = %d, want 0", i, buf[i])
		}
	}
	if got := Float32.Decode(buf[16:]); got != 1 {
		t.Errorf("color.r at byte 16 = %v, want 1", got)
	}
	if got := VertexCodec.Decode(buf); got != v {
		t.Errorf("Decode(Encode(v)) = %+v, want %+v", got, v)
	}

	all := EncodeVertices(TriangleVertices[:])
	if len(all) != 3*VertexStride {
		t.Fatalf("EncodeVertices length = %d, want %d", len(all), 3*VertexStride)
	}
	if got := VertexCodec.Decode(all[2*VertexStride:]); got != TriangleVertices[2] {
		t.Errorf("third vertex = %+v, want %+v", got, TriangleVertices[2])
	}
}

func TestViewportSizeBytes(t *testing.T) {
	s := ViewportSize{Width: 800, Height: 600}
	b := s.Bytes()
	if len(b) != 8 {
		t.Fatalf("len(Bytes()) = %d, want 8", len(b))
	}
	if got := DecodeViewportSize(b); got != s {
		t.Errorf("DecodeViewportSize() = %+v, want %+v", got, s)
	}
}
