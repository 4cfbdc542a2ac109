// Package cmdqueue implements the command buffer lifecycle shared by the
// device drivers.
//
// A Buffer records passes of type P while encoders are open, is committed
// once, and then runs on its Queue's goroutine. Buffers committed to the
// same Queue run one at a time in commit order. Completion handlers run on
// the queue goroutine after the passes, never on the committing goroutine.
package cmdqueue

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/gogpu/gpubasics/driver"
)

// DefaultDepth bounds the number of committed but not yet executed
// buffers. Commit blocks when the queue is full.
const DefaultDepth = 64

// Queue executes committed buffers on one goroutine.
type Queue[P any] struct {
	exec func(b *Buffer[P]) error

	mu     sync.Mutex
	closed bool
	work   chan *Buffer[P]
	done   chan struct{}

	created   atomic.Int64
	committed atomic.Int64
}

// NewQueue starts a queue whose buffers are executed by exec.
// A non-positive depth selects DefaultDepth.
func NewQueue[P any](depth int, exec func(b *Buffer[P]) error) *Queue[P] {
	if depth <= 0 {
		depth = DefaultDepth
	}
	q := &Queue[P]{
		exec: exec,
		work: make(chan *Buffer[P], depth),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue[P]) loop() {
	defer close(q.done)
	for b := range q.work {
		b.run(q.exec)
	}
}

// NewBuffer creates an empty buffer labeled with a fresh id.
// Returns driver.ErrDeviceClosed after Close.
func (q *Queue[P]) NewBuffer() (*Buffer[P], error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, driver.ErrDeviceClosed
	}
	q.created.Add(1)
	return &Buffer[P]{
		queue: q,
		label: "cb-" + uuid.NewString(),
		done:  make(chan struct{}),
	}, nil
}

func (q *Queue[P]) submit(b *Buffer[P]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return driver.ErrDeviceClosed
	}
	q.work <- b
	q.committed.Add(1)
	return nil
}

// Close stops accepting work and waits until queued buffers have finished.
// Close is idempotent.
func (q *Queue[P]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.work)
	q.mu.Unlock()
	<-q.done
}

// Created returns the number of buffers created.
func (q *Queue[P]) Created() int64 { return q.created.Load() }

// Committed returns the number of buffers committed.
func (q *Queue[P]) Committed() int64 { return q.committed.Load() }

// Buffer is the lifecycle half of a driver.CommandBuffer. Drivers embed it
// and add the encoder constructors.
type Buffer[P any] struct {
	queue *Queue[P]
	label string
	owner driver.CommandBuffer

	mu        sync.Mutex
	status    driver.CommandBufferStatus
	err       error
	encoding  bool
	passes    []P
	handlers  []func(driver.CommandBuffer)
	drawables []driver.Drawable

	done chan struct{}
}

// SetOwner sets the value passed to completion handlers, normally the
// driver type that embeds b.
func (b *Buffer[P]) SetOwner(cb driver.CommandBuffer) { b.owner = cb }

// Label returns the buffer id, "cb-" followed by a UUID.
func (b *Buffer[P]) Label() string { return b.label }

// BeginEncoder marks an encoder as open. Only one encoder may be open at a time.
func (b *Buffer[P]) BeginEncoder() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != driver.StatusNotEnqueued {
		return driver.ErrAlreadyCommitted
	}
	if b.encoding {
		return driver.ErrEncoderOpen
	}
	b.encoding = true
	return nil
}

// EndEncoder closes the open encoder and appends its pass.
func (b *Buffer[P]) EndEncoder(p P) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.encoding = false
	b.passes = append(b.passes, p)
}

// Passes returns the recorded passes. Valid once the buffer is committed.
func (b *Buffer[P]) Passes() []P {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.passes
}

// Drawables returns the drawables scheduled for presentation.
func (b *Buffer[P]) Drawables() []driver.Drawable {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drawables
}

// AddCompletedHandler registers fn to run on the queue goroutine once the
// buffer has finished. A handler added after Commit is logged and ignored.
func (b *Buffer[P]) AddCompletedHandler(fn func(driver.CommandBuffer)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status != driver.StatusNotEnqueued {
		driver.Logger().Warn("cmdqueue: completed handler added after commit is ignored", "cb", b.label)
		return
	}
	b.handlers = append(b.handlers, fn)
}

// Present schedules d for presentation when the buffer completes. If the
// buffer fails, d is discarded instead when it is a
// driver.DiscardableDrawable. Calls after Commit are ignored.
func (b *Buffer[P]) Present(d driver.Drawable) {
	if d == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status == driver.StatusNotEnqueued {
		b.drawables = append(b.drawables, d)
	}
}

// Commit hands the buffer to its queue and returns without waiting.
// It fails with driver.ErrAlreadyCommitted on a second call and with
// driver.ErrEncoderOpen while an encoder is open. When the queue is
// closed the buffer finishes with an error and its handlers still run.
func (b *Buffer[P]) Commit() error {
	b.mu.Lock()
	if b.status != driver.StatusNotEnqueued {
		b.mu.Unlock()
		return driver.ErrAlreadyCommitted
	}
	if b.encoding {
		b.mu.Unlock()
		return driver.ErrEncoderOpen
	}
	b.status = driver.StatusCommitted
	b.mu.Unlock()

	if err := b.queue.submit(b); err != nil {
		// Handlers never run on the committing goroutine.
		go b.finish(err)
		return fmt.Errorf("commit %s: %w", b.label, err)
	}
	return nil
}

// Status reports where the buffer is in its lifecycle.
func (b *Buffer[P]) Status() driver.CommandBufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Err returns the execution error once Status is driver.StatusError.
func (b *Buffer[P]) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// WaitUntilCompleted blocks until execution finishes. It returns at once
// for a buffer that was never committed.
func (b *Buffer[P]) WaitUntilCompleted() {
	if b.Status() == driver.StatusNotEnqueued {
		return
	}
	<-b.done
}

// Done is closed after the completion handlers have returned.
func (b *Buffer[P]) Done() <-chan struct{} { return b.done }

func (b *Buffer[P]) run(exec func(*Buffer[P]) error) {
	b.mu.Lock()
	b.status = driver.StatusScheduled
	b.mu.Unlock()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%s: execution panicked: %v", b.label, r)
			}
		}()
		err = exec(b)
	}()
	if err != nil {
		driver.Logger().Warn("cmdqueue: command buffer failed", "cb", b.label, "err", err)
	}
	b.finish(err)
}

// finish records the outcome, presents or discards drawables and runs
// handlers.
func (b *Buffer[P]) finish(err error) {
	b.mu.Lock()
	if err != nil {
		b.status = driver.StatusError
		b.err = err
	} else {
		b.status = driver.StatusCompleted
	}
	drawables := b.drawables
	handlers := b.handlers
	owner := b.owner
	b.mu.Unlock()

	for _, d := range drawables {
		if err == nil {
			d.Present()
		} else if dd, ok := d.(driver.DiscardableDrawable); ok {
			dd.Discard(err)
		}
	}
	for _, h := range handlers {
		h(owner)
	}
	close(b.done)
}
