//go:build !nogpu

package wgpu

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpubasics/driver"
)

// loggerPtr stores the active logger. Accessed atomically for thread safety.
var loggerPtr atomic.Pointer[slog.Logger]

// slogger returns the current package logger.
// All logging in driver/wgpu goes through this function.
func slogger() *slog.Logger {
	if l := loggerPtr.Load(); l != nil {
		return l
	}
	return driver.NopLogger()
}

// setLogger updates the package-level logger.
// Called from driver.SetLogger.
func setLogger(l *slog.Logger) {
	if l == nil {
		l = driver.NopLogger()
	}
	loggerPtr.Store(l)
}
