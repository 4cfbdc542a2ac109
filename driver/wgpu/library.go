//go:build !nogpu

package wgpu

import (
	_ "embed"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpubasics/driver"
)

//go:embed shaders/add_arrays.wgsl
var addArraysWGSL string

//go:embed shaders/ex3.wgsl
var ex3WGSL string

// Library function names.
const (
	FunctionAddArrays   = "add_arrays"
	FunctionVertexEx3   = "vertexShader_Ex3"
	FunctionFragmentEx3 = "fragmentShader_Ex3"
)

// addArraysWorkgroupSize matches @workgroup_size in add_arrays.wgsl.
const addArraysWorkgroupSize = 64

// Layout of the Vertex and ViewportSize structs in ex3.wgsl.
const (
	vertexStride      = 32
	viewportSizeBytes = 8
)

// argSize is the minimum byte size of an argument: perItem bytes for each
// thread or vertex plus fixed bytes.
type argSize struct {
	perItem, fixed int
}

func (a argSize) need(items int) int { return a.perItem*items + a.fixed }

// function is a WGSL entry point. Bindings and sizes describe each
// argument index in order.
type function struct {
	name     string
	stage    driver.FunctionStage
	source   string
	bindings []gputypes.BufferBindingType
	sizes    []argSize
}

// checkArgs verifies that every argument is bound with at least the bytes
// items threads or vertices read.
func (f *function) checkArgs(lens []int, items int) error {
	for i, sz := range f.sizes {
		if i >= len(lens) || lens[i] < 0 {
			return fmt.Errorf("%w: %s argument %d", driver.ErrMissingBinding, f.name, i)
		}
		if need := sz.need(items); lens[i] < need {
			return fmt.Errorf("%w: %s argument %d has %d bytes, need %d", driver.ErrBufferTooSmall, f.name, i, lens[i], need)
		}
	}
	return nil
}

// writable reports whether argument i is written by the function.
func (f *function) writable(i int) bool {
	return f.bindings[i] == gputypes.BufferBindingTypeStorage
}

func (f *function) Name() string                { return f.name }
func (f *function) Stage() driver.FunctionStage { return f.stage }

// library compiles each WGSL source once, on first use.
type library struct {
	dev   *Device
	funcs map[string]*function

	mu      sync.Mutex
	modules map[string]hal.ShaderModule
}

func newLibrary(d *Device) *library {
	funcs := []*function{
		{
			name:   FunctionAddArrays,
			stage:  driver.StageKernel,
			source: addArraysWGSL,
			bindings: []gputypes.BufferBindingType{
				gputypes.BufferBindingTypeReadOnlyStorage,
				gputypes.BufferBindingTypeReadOnlyStorage,
				gputypes.BufferBindingTypeStorage,
			},
			sizes: []argSize{{perItem: 4}, {perItem: 4}, {perItem: 4}},
		},
		{
			name:   FunctionVertexEx3,
			stage:  driver.StageVertex,
			source: ex3WGSL,
			bindings: []gputypes.BufferBindingType{
				gputypes.BufferBindingTypeReadOnlyStorage,
				gputypes.BufferBindingTypeUniform,
			},
			sizes: []argSize{{perItem: vertexStride}, {fixed: viewportSizeBytes}},
		},
		{
			name:   FunctionFragmentEx3,
			stage:  driver.StageFragment,
			source: ex3WGSL,
		},
	}
	l := &library{
		dev:     d,
		funcs:   make(map[string]*function, len(funcs)),
		modules: make(map[string]hal.ShaderModule),
	}
	for _, f := range funcs {
		l.funcs[f.name] = f
	}
	return l
}

func (l *library) Function(name string) (driver.Function, error) {
	f, ok := l.funcs[name]
	if !ok {
		return nil, fmt.Errorf("wgpu: %q: %w", name, driver.ErrFunctionNotFound)
	}
	return f, nil
}

func (l *library) FunctionNames() []string {
	names := make([]string, 0, len(l.funcs))
	for name := range l.funcs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// module returns the shader module holding f, compiling it on first use.
func (l *library) module(f *function) (hal.ShaderModule, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if m, ok := l.modules[f.source]; ok {
		return m, nil
	}
	spirv, err := compileWGSL(f.source)
	if err != nil {
		return nil, fmt.Errorf("wgpu: %s: %w", f.name, err)
	}
	m, err := l.dev.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  f.name,
		Source: hal.ShaderSource{SPIRV: spirv},
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu: create shader module %s: %w", f.name, err)
	}
	l.modules[f.source] = m
	slogger().Debug("wgpu: shader module compiled", "function", f.name, "words", len(spirv))
	return m, nil
}

func (l *library) destroy() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, m := range l.modules {
		if l.dev.device != nil {
			l.dev.device.DestroyShaderModule(m)
		}
		delete(l.modules, key)
	}
}

// compileWGSL compiles WGSL to SPIR-V words.
func compileWGSL(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile shader: %w", err)
	}
	// SPIR-V is little-endian 32-bit words.
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}
