package gpubasics

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/chewxy/math32"

	"github.com/gogpu/gpubasics/driver"
)

// Codec encodes elements of type T with a fixed byte stride.
type Codec[T any] interface {
	// Size returns the element stride in bytes.
	Size() int
	Encode(dst []byte, v T)
	Decode(src []byte) T
}

type float32Codec struct{}

func (float32Codec) Size() int { return 4 }

func (float32Codec) Encode(dst []byte, v float32) {
	binary.LittleEndian.PutUint32(dst, math.Float32bits(v))
}

func (float32Codec) Decode(src []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(src))
}

// Float32 encodes float32 scalars as 4 little-endian bytes.
var Float32 Codec[float32] = float32Codec{}

// Buffer is a typed, bounds-checked view over a driver buffer whose
// storage is visible to both host and device.
//
// Host access is only valid outside GPU work on the buffer: write before
// the submission that reads it and read after the submission that writes
// it has completed. Reading while such work is in flight is undefined.
type Buffer[T any] struct {
	raw   driver.Buffer
	codec Codec[T]
	count int
}

// Allocate creates a shared buffer of count elements. A zero count
// allocates nothing and returns an empty buffer. A count whose byte size
// does not fit in an int fails with driver.ErrInvalidLength.
func Allocate[T any](ctx *DeviceContext, codec Codec[T], count int) (*Buffer[T], error) {
	stride := codec.Size()
	switch {
	case count < 0:
		return nil, initErr("allocate buffer", fmt.Errorf("%w: count %d", driver.ErrInvalidLength, count))
	case stride <= 0:
		return nil, initErr("allocate buffer", fmt.Errorf("%w: element stride %d", driver.ErrInvalidLength, stride))
	case count > math.MaxInt/stride:
		return nil, initErr("allocate buffer", fmt.Errorf("%w: %d elements of %d bytes overflow", driver.ErrInvalidLength, count, stride))
	}
	b := &Buffer[T]{codec: codec, count: count}
	if count == 0 {
		return b, nil
	}
	raw, err := ctx.Device().NewBuffer(stride*count, driver.StorageModeShared)
	if err != nil {
		return nil, initErr("allocate buffer", err)
	}
	if raw.Len() < stride*count {
		raw.Release()
		return nil, initErr("allocate buffer", fmt.Errorf("%w: driver returned %d bytes, want %d", driver.ErrInvalidLength, raw.Len(), stride*count))
	}
	b.raw = raw
	Logger().Debug("gpubasics: buffer allocated", "elements", count, "stride", codec.Size(), "bytes", raw.Len())
	return b, nil
}

// Len returns the element count.
func (b *Buffer[T]) Len() int { return b.count }

// Stride returns the element size in bytes.
func (b *Buffer[T]) Stride() int { return b.codec.Size() }

// Raw returns the driver buffer, or nil for an empty buffer.
func (b *Buffer[T]) Raw() driver.Buffer { return b.raw }

func (b *Buffer[T]) check(i int) error {
	if i < 0 || i >= b.count || b.raw == nil || (i+1)*b.codec.Size() > len(b.raw.Contents()) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, b.count)
	}
	return nil
}

// At returns element i.
func (b *Buffer[T]) At(i int) (T, error) {
	if err := b.check(i); err != nil {
		var zero T
		return zero, err
	}
	return b.get(i), nil
}

// Set stores v at element i.
func (b *Buffer[T]) Set(i int, v T) error {
	if err := b.check(i); err != nil {
		return err
	}
	b.put(i, v)
	return nil
}

// get and put skip the bounds check; callers have validated i.
func (b *Buffer[T]) get(i int) T {
	s := b.codec.Size()
	return b.codec.Decode(b.raw.Contents()[i*s : (i+1)*s])
}

func (b *Buffer[T]) put(i int, v T) {
	s := b.codec.Size()
	b.codec.Encode(b.raw.Contents()[i*s:(i+1)*s], v)
}

// Values copies all elements out of the buffer.
func (b *Buffer[T]) Values() []T {
	out := make([]T, b.count)
	if b.count > 0 && b.check(b.count-1) != nil {
		return out
	}
	for i := range out {
		out[i] = b.get(i)
	}
	return out
}

// Release frees the storage. The buffer is empty afterwards.
func (b *Buffer[T]) Release() {
	if b.raw != nil {
		b.raw.Release()
		b.raw = nil
	}
	b.count = 0
}

// ReadElement returns element i of b.
func ReadElement[T any](b *Buffer[T], i int) (T, error) { return b.At(i) }

// WriteElement stores v at element i of b.
func WriteElement[T any](b *Buffer[T], i int, v T) error { return b.Set(i, v) }

// Range is the half-open interval [Min, Max) of random fill values.
type Range struct {
	Min, Max float32
}

// sample draws a uniform value in r. rng may be nil.
func (r Range) sample(rng *rand.Rand) float32 {
	var f float32
	if rng != nil {
		f = rng.Float32()
	} else {
		f = rand.Float32()
	}
	v := r.Min + f*(r.Max-r.Min)
	if v >= r.Max && r.Max > r.Min {
		v = math32.Nextafter(r.Max, r.Min)
	}
	return v
}

// FillRandom writes count independent uniform samples from r into the
// first count elements of buf, in index order. It is a host-side write and
// must happen before any submission that reads buf.
// A nil rng uses the global source.
func FillRandom(buf *Buffer[float32], count int, r Range, rng *rand.Rand) error {
	if count < 0 || count > buf.Len() || (count > 0 && buf.check(count-1) != nil) {
		return fmt.Errorf("%w: fill %d of %d elements", ErrIndexOutOfRange, count, buf.Len())
	}
	if r.Max < r.Min {
		return fmt.Errorf("gpubasics: invalid range [%v, %v)", r.Min, r.Max)
	}
	for i := range count {
		buf.put(i, r.sample(rng))
	}
	return nil
}

// UniformFill returns a fill function that samples r for every index.
func UniformFill(r Range, rng *rand.Rand) FillFunc {
	return func(int) float32 { return r.sample(rng) }
}
