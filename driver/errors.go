package driver

import "errors"

// Driver errors.
var (
	// ErrNoDevice is returned when no registered driver can open a device.
	ErrNoDevice = errors.New("driver: no device available")

	// ErrUnknownDriver is returned by Open for a name that is not registered.
	ErrUnknownDriver = errors.New("driver: unknown driver")

	// ErrDeviceClosed is returned when a closed device is used.
	ErrDeviceClosed = errors.New("driver: device closed")

	// ErrLibraryUnavailable is returned when the default library cannot be loaded.
	ErrLibraryUnavailable = errors.New("driver: library unavailable")

	// ErrFunctionNotFound is returned when a library has no function of the given name.
	ErrFunctionNotFound = errors.New("driver: function not found")

	// ErrWrongStage is returned when a function is used for a stage it was not compiled for.
	ErrWrongStage = errors.New("driver: function compiled for another stage")

	// ErrInvalidLength is returned for a negative buffer length or texture size.
	ErrInvalidLength = errors.New("driver: invalid length")

	// ErrEncoderEnded is returned when EndEncoding is called twice.
	ErrEncoderEnded = errors.New("driver: encoder already ended")

	// ErrEncoderOpen is returned when a command buffer is committed or a
	// second encoder is opened while an encoder is still open.
	ErrEncoderOpen = errors.New("driver: encoder still open")

	// ErrAlreadyCommitted is returned when a command buffer is committed twice
	// or modified after commit.
	ErrAlreadyCommitted = errors.New("driver: command buffer already committed")

	// ErrNoPipelineState is returned when a dispatch or draw is encoded
	// without a pipeline state.
	ErrNoPipelineState = errors.New("driver: no pipeline state set")

	// ErrEmptyDispatch is returned for a dispatch with a zero-sized grid or threadgroup.
	ErrEmptyDispatch = errors.New("driver: empty dispatch")

	// ErrMissingBinding is returned when a dispatch or draw references an unbound argument index.
	ErrMissingBinding = errors.New("driver: missing argument binding")

	// ErrThreadgroupTooLarge is returned when a threadgroup exceeds the
	// pipeline's MaxTotalThreadsPerThreadgroup.
	ErrThreadgroupTooLarge = errors.New("driver: threadgroup too large")

	// ErrBufferTooSmall is returned when a bound buffer cannot hold the
	// elements a dispatch or draw reads.
	ErrBufferTooSmall = errors.New("driver: buffer too small")

	// ErrInlineDataTooLarge is returned when SetVertexBytes exceeds MaxInlineBytes.
	ErrInlineDataTooLarge = errors.New("driver: inline data too large")

	// ErrNoRenderTarget is returned when a render pass has no color texture.
	ErrNoRenderTarget = errors.New("driver: render pass has no color texture")

	// ErrUnsupportedPrimitive is returned for a primitive type the driver cannot draw.
	ErrUnsupportedPrimitive = errors.New("driver: unsupported primitive type")

	// ErrForeignResource is returned when a resource from another driver is bound.
	ErrForeignResource = errors.New("driver: resource belongs to another driver")
)
