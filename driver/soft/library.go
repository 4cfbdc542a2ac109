package soft

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/gogpu/gpubasics/driver"
)

// Function names in the default library.
const (
	FunctionAddArrays   = "add_arrays"
	FunctionVertexEx3   = "vertexShader_Ex3"
	FunctionFragmentEx3 = "fragmentShader_Ex3"
)

// Argument layouts shared with the shaders.
const (
	vertexStride      = 32
	vertexColorOffset = 16
	viewportSizeBytes = 8
	float32Bytes      = 4
)

// argSpec is the minimum size of a bound argument: fixed bytes plus
// perItem bytes for every thread or vertex the call touches.
type argSpec struct {
	perItem int
	fixed   int
}

func (a argSpec) need(items int) int { return a.fixed + a.perItem*items }

// varyings is the vertex stage output interpolated across a primitive.
type varyings struct {
	position [4]float32
	color    [4]float32
}

type (
	kernelFunc   func(tid int, args [][]byte)
	vertexFunc   func(vid int, args [][]byte) varyings
	fragmentFunc func(in varyings) [4]float32
)

// function is a library entry implemented in Go.
type function struct {
	name     string
	stage    driver.FunctionStage
	args     []argSpec
	kernel   kernelFunc
	vertex   vertexFunc
	fragment fragmentFunc
}

func (f *function) Name() string                { return f.name }
func (f *function) Stage() driver.FunctionStage { return f.stage }

// checkArgs verifies that every argument the function reads is bound and
// large enough for items threads or vertices.
func (f *function) checkArgs(args [][]byte, items int) error {
	for i, spec := range f.args {
		if i >= len(args) || args[i] == nil {
			return fmt.Errorf("%w: %s index %d", driver.ErrMissingBinding, f.name, i)
		}
		if need := spec.need(items); len(args[i]) < need {
			return fmt.Errorf("%w: %s index %d has %d bytes, needs %d",
				driver.ErrBufferTooSmall, f.name, i, len(args[i]), need)
		}
	}
	return nil
}

// library is an immutable set of functions.
type library struct {
	funcs map[string]*function
}

func newDefaultLibrary() *library {
	lib := &library{funcs: make(map[string]*function)}
	lib.add(&function{
		name:   FunctionAddArrays,
		stage:  driver.StageKernel,
		args:   []argSpec{{perItem: float32Bytes}, {perItem: float32Bytes}, {perItem: float32Bytes}},
		kernel: addArrays,
	})
	lib.add(&function{
		name:   FunctionVertexEx3,
		stage:  driver.StageVertex,
		args:   []argSpec{{perItem: vertexStride}, {fixed: viewportSizeBytes}},
		vertex: vertexEx3,
	})
	lib.add(&function{
		name:     FunctionFragmentEx3,
		stage:    driver.StageFragment,
		fragment: fragmentEx3,
	})
	return lib
}

func (l *library) add(f *function) { l.funcs[f.name] = f }

// Function returns the named function or driver.ErrFunctionNotFound.
func (l *library) Function(name string) (driver.Function, error) {
	f, ok := l.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", driver.ErrFunctionNotFound, name)
	}
	return f, nil
}

// FunctionNames returns the function names, sorted.
func (l *library) FunctionNames() []string {
	names := make([]string, 0, len(l.funcs))
	for name := range l.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadFloat(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func storeFloat(b []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

// addArrays: out[i] = a[i] + b[i].
func addArrays(tid int, args [][]byte) {
	off := tid * float32Bytes
	storeFloat(args[2], off, loadFloat(args[0], off)+loadFloat(args[1], off))
}

// vertexEx3 maps pixel-space positions centered on the origin to clip
// space by dividing by half the viewport size.
func vertexEx3(vid int, args [][]byte) varyings {
	v := args[0][vid*vertexStride:]
	vp := args[1]
	halfW := loadFloat(vp, 0) / 2
	halfH := loadFloat(vp, 4) / 2

	var out varyings
	out.position = [4]float32{loadFloat(v, 0) / halfW, loadFloat(v, 4) / halfH, 0, 1}
	for i := range out.color {
		out.color[i] = loadFloat(v, vertexColorOffset+i*float32Bytes)
	}
	return out
}

func fragmentEx3(in varyings) [4]float32 {
	return in.color
}
