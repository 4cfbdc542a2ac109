//go:build !nogpu

package main

// Registers the wgpu driver, the default device for every command.
import _ "github.com/gogpu/gpubasics/driver/wgpu"
