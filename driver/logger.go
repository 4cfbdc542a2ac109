package driver

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically for thread safety.
var loggerPtr atomic.Pointer[slog.Logger]

var (
	hooksMu sync.Mutex
	hooks   []func(*slog.Logger)
)

func init() {
	loggerPtr.Store(NopLogger())
}

func slogger() *slog.Logger { return loggerPtr.Load() }

// Logger returns the logger shared by the driver packages.
func Logger() *slog.Logger { return loggerPtr.Load() }

// SetLogger updates the logger used by this package and by every driver
// that registered through OnLogger. Pass nil to disable logging.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = NopLogger()
	}
	loggerPtr.Store(l)

	hooksMu.Lock()
	hs := append([]func(*slog.Logger){}, hooks...)
	hooksMu.Unlock()
	for _, h := range hs {
		h(l)
	}
}

// OnLogger registers fn to receive the current logger now and on every
// later SetLogger call. Driver packages call it from init.
func OnLogger(fn func(*slog.Logger)) {
	hooksMu.Lock()
	hooks = append(hooks, fn)
	hooksMu.Unlock()
	fn(loggerPtr.Load())
}
