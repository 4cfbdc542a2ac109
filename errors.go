package gpubasics

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNoDevice is returned when no driver can open a device.
	ErrNoDevice = errors.New("gpubasics: no device available")

	// ErrDrawableUnavailable is returned when the view has no drawable for a frame.
	ErrDrawableUnavailable = errors.New("gpubasics: drawable unavailable")

	// ErrRenderPassUnavailable is returned when the view has no render pass descriptor.
	ErrRenderPassUnavailable = errors.New("gpubasics: render pass descriptor unavailable")

	// ErrPixelFormatChanged is returned when the render target's pixel
	// format no longer matches the pipeline built on the first frame and
	// the driver refuses to draw with that pipeline.
	ErrPixelFormatChanged = errors.New("gpubasics: view pixel format changed after first frame")

	// ErrIndexOutOfRange is returned by element access outside a buffer.
	ErrIndexOutOfRange = errors.New("gpubasics: index out of range")

	// ErrContextClosed is returned when a closed DeviceContext is used.
	ErrContextClosed = errors.New("gpubasics: device context closed")
)

// InitializationError reports an environment failure while setting up
// device, queue, buffers, pipelines or command buffers. It is not
// recoverable: callers are expected to fail fast.
type InitializationError struct {
	// Op is the operation that failed, e.g. "acquire device".
	Op  string
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("gpubasics: %s: %v", e.Op, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

func initErr(op string, err error) error {
	return &InitializationError{Op: op, Err: err}
}

// FrameError reports a frame that could not be drawn. The frame is
// skipped; later frames may succeed.
type FrameError struct {
	// Frame is the index of the skipped frame.
	Frame uint64
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("gpubasics: frame %d skipped: %v", e.Frame, e.Err)
}

func (e *FrameError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err only affects the current frame.
func IsRecoverable(err error) bool {
	var fe *FrameError
	return errors.As(err, &fe)
}
