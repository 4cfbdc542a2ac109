package soft

import (
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpubasics/driver"
)

// loggerPtr stores the active logger. It is set from init through
// driver.OnLogger and accessed atomically afterwards.
var loggerPtr atomic.Pointer[slog.Logger]

// slogger returns the current package logger.
func slogger() *slog.Logger {
	if l := loggerPtr.Load(); l != nil {
		return l
	}
	return driver.NopLogger()
}

// setLogger is called by driver.SetLogger.
func setLogger(l *slog.Logger) {
	if l == nil {
		l = driver.NopLogger()
	}
	loggerPtr.Store(l)
}
