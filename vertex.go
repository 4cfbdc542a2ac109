package gpubasics

import (
	"encoding/binary"
	"math"
)

// Vertex input indices shared with the vertex stage.
const (
	VertexInputIndexVertices     = 0
	VertexInputIndexViewportSize = 1
)

// VertexStride is the size of one encoded Vertex: position at byte 0,
// color at byte 16.
const VertexStride = 32

const vertexColorOffset = 16

// Vertex is a 2D position in pixels from the viewport center and an RGBA color.
type Vertex struct {
	Position [2]float32
	Color    [4]float32
}

// TriangleVertices is the triangle drawn by FrameModeTriangle.
var TriangleVertices = [3]Vertex{
	{Position: [2]float32{250, -250}, Color: [4]float32{1, 0, 0, 1}},
	{Position: [2]float32{-250, -250}, Color: [4]float32{0, 1, 0, 1}},
	{Position: [2]float32{0, 250}, Color: [4]float32{0, 0, 1, 1}},
}

type vertexCodec struct{}

func (vertexCodec) Size() int { return VertexStride }

func (vertexCodec) Encode(dst []byte, v Vertex) {
	clear(dst[:VertexStride])
	for i, f := range v.Position {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	for i, f := range v.Color {
		binary.LittleEndian.PutUint32(dst[vertexColorOffset+i*4:], math.Float32bits(f))
	}
}

func (vertexCodec) Decode(src []byte) Vertex {
	var v Vertex
	for i := range v.Position {
		v.Position[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
	for i := range v.Color {
		v.Color[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[vertexColorOffset+i*4:]))
	}
	return v
}

// VertexCodec encodes Vertex in the vertex stage layout.
var VertexCodec Codec[Vertex] = vertexCodec{}

// EncodeVertices returns vs in the vertex stage layout.
func EncodeVertices(vs []Vertex) []byte {
	out := make([]byte, len(vs)*VertexStride)
	for i, v := range vs {
		VertexCodec.Encode(out[i*VertexStride:], v)
	}
	return out
}

// ViewportSize is the drawable size in pixels passed to the vertex stage.
type ViewportSize struct {
	Width, Height float32
}

// Bytes encodes the size as two little-endian float32 values.
func (s ViewportSize) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, math.Float32bits(s.Width))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(s.Height))
	return b
}

// DecodeViewportSize is the inverse of ViewportSize.Bytes.
func DecodeViewportSize(b []byte) ViewportSize {
	return ViewportSize{
		Width:  math.Float32frombits(binary.LittleEndian.Uint32(b)),
		Height: math.Float32frombits(binary.LittleEndian.Uint32(b[4:])),
	}
}
