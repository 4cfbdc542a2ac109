// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package view

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/gpubasics"
	"github.com/gogpu/gpubasics/driver"
)

// Errors returned by Offscreen.
var (
	// ErrNoDelegate is returned by Run and DrawFrame without a delegate.
	ErrNoDelegate = errors.New("view: no delegate")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("view: closed")

	// ErrNoSnapshot is returned when no frame has been presented yet.
	ErrNoSnapshot = errors.New("view: no frame presented")

	// ErrPresentFailed is returned by DrawFrame when the frame's command
	// buffer failed or its pixels could not be read back.
	ErrPresentFailed = errors.New("view: present failed")
)

// RedrawMode selects when the redraw loop asks the delegate for a frame.
type RedrawMode uint8

const (
	// RedrawContinuous draws once per frame interval.
	RedrawContinuous RedrawMode = iota

	// RedrawOnDemand draws only after SetNeedsDisplay.
	RedrawOnDemand
)

func (m RedrawMode) String() string {
	switch m {
	case RedrawContinuous:
		return "continuous"
	case RedrawOnDemand:
		return "on-demand"
	default:
		return fmt.Sprintf("RedrawMode(%d)", uint8(m))
	}
}

// DefaultFrameInterval is the continuous redraw interval (60 Hz).
const DefaultFrameInterval = time.Second / 60

// Delegate receives the view's notifications. *gpubasics.FrameDriver
// implements it.
type Delegate interface {
	DrawableSizeWillChange(width, height int)
	Draw(v gpubasics.View) error
}

// Stats counts frames handled by the redraw loop.
type Stats struct {
	Frames    uint64
	Skipped   uint64
	Presented uint64
}

// Option configures an Offscreen.
type Option func(*Offscreen)

// WithPixelFormat sets the drawable pixel format. The default is
// driver.PixelFormatBGRA8Unorm.
func WithPixelFormat(f driver.PixelFormat) Option {
	return func(o *Offscreen) { o.format = f }
}

// WithRedrawMode sets the redraw mode. The default is RedrawContinuous.
func WithRedrawMode(m RedrawMode) Option {
	return func(o *Offscreen) { o.mode = m }
}

// WithFrameInterval sets the continuous redraw interval. Zero draws frames
// back to back.
func WithFrameInterval(d time.Duration) Option {
	return func(o *Offscreen) {
		if d >= 0 {
			o.interval = d
		}
	}
}

// Offscreen is a headless view backed by a device texture.
//
// Offscreen implements gpubasics.View. Draws are serialized: Run and
// DrawFrame never call the delegate concurrently. Resize, SetNeedsDisplay
// and Snapshot may be called from any goroutine.
type Offscreen struct {
	dev      driver.Device
	format   driver.PixelFormat
	mode     RedrawMode
	interval time.Duration

	drawMu sync.Mutex

	mu       sync.Mutex
	width    int
	height   int
	target   driver.Texture
	retired  []driver.Texture
	delegate Delegate
	closed   bool
	present  *presentSignal // fired and replaced on every present or discard

	needsDisplay chan struct{}
	last         atomic.Pointer[image.RGBA]

	frames    atomic.Uint64
	skipped   atomic.Uint64
	presented atomic.Uint64
}

// NewOffscreen creates a view of width x height pixels on dev.
func NewOffscreen(dev driver.Device, width, height int, opts ...Option) (*Offscreen, error) {
	if dev == nil {
		return nil, fmt.Errorf("view: %w", driver.ErrNoDevice)
	}
	o := &Offscreen{
		dev:          dev,
		format:       driver.PixelFormatBGRA8Unorm,
		interval:     DefaultFrameInterval,
		present:      newPresentSignal(),
		needsDisplay: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	tex, err := dev.NewTexture(width, height, o.format)
	if err != nil {
		return nil, fmt.Errorf("view: create drawable: %w", err)
	}
	o.width, o.height, o.target = width, height, tex
	gpubasics.Logger().Debug("view: offscreen created",
		"width", width, "height", height, "format", o.format.String(), "mode", o.mode.String())
	return o, nil
}

// SetDelegate sets the receiver of resize and draw requests.
func (o *Offscreen) SetDelegate(d Delegate) {
	o.mu.Lock()
	o.delegate = d
	o.mu.Unlock()
}

// Size returns the drawable size in pixels.
func (o *Offscreen) Size() (width, height int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.width, o.height
}

// Mode returns the redraw mode.
func (o *Offscreen) Mode() RedrawMode { return o.mode }

// Resize replaces the drawable with one of the new size and notifies the
// delegate. Frames already committed keep drawing into the old texture.
func (o *Offscreen) Resize(width, height int) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if width == o.width && height == o.height {
		o.mu.Unlock()
		return nil
	}
	tex, err := o.dev.NewTexture(width, height, o.format)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("view: resize drawable: %w", err)
	}
	o.retired = append(o.retired, o.target)
	o.width, o.height, o.target = width, height, tex
	d := o.delegate
	o.mu.Unlock()

	if d != nil {
		d.DrawableSizeWillChange(width, height)
	}
	o.SetNeedsDisplay()
	return nil
}

// SetNeedsDisplay requests a redraw in RedrawOnDemand mode. Requests made
// before the next draw are coalesced.
func (o *Offscreen) SetNeedsDisplay() {
	select {
	case o.needsDisplay <- struct{}{}:
	default:
	}
}

// CurrentRenderPassDescriptor returns a pass targeting the current
// drawable, or nil after Close.
func (o *Offscreen) CurrentRenderPassDescriptor() *driver.RenderPassDescriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	return &driver.RenderPassDescriptor{
		ColorAttachment: driver.ColorAttachment{
			Texture:     o.target,
			LoadAction:  driver.LoadActionClear,
			StoreAction: driver.StoreActionStore,
		},
	}
}

// CurrentDrawable returns the drawable of the current frame, or nil after
// Close.
func (o *Offscreen) CurrentDrawable() driver.Drawable {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	return &drawable{view: o, tex: o.target}
}

// ColorPixelFormat returns the drawable pixel format.
func (o *Offscreen) ColorPixelFormat() driver.PixelFormat { return o.format }

// drawable captures its texture when handed out; Present reads that
// texture back even if the view was resized in between.
type drawable struct {
	view *Offscreen
	tex  driver.Texture
}

func (d *drawable) Texture() driver.Texture { return d.tex }

func (d *drawable) Present() { d.view.presentTexture(d.tex) }

// Discard is called instead of Present when the frame's command buffer
// failed.
func (d *drawable) Discard(err error) {
	gpubasics.Logger().Warn("view: frame discarded", "err", err)
	d.view.signal(fmt.Errorf("%w: %w", ErrPresentFailed, err))
}

// presentSignal is fired once, by the next present or discard.
type presentSignal struct {
	done chan struct{}
	err  error
}

func newPresentSignal() *presentSignal {
	return &presentSignal{done: make(chan struct{})}
}

func (o *Offscreen) presentTexture(tex driver.Texture) {
	r, ok := tex.(driver.PixelReader)
	if !ok {
		gpubasics.Logger().Warn("view: drawable cannot be read back", "texture", fmt.Sprintf("%T", tex))
		o.signal(fmt.Errorf("%w: texture %T cannot be read back", ErrPresentFailed, tex))
		return
	}
	img, err := r.ReadPixels()
	if err != nil {
		gpubasics.Logger().Warn("view: read back drawable", "err", err)
		o.signal(fmt.Errorf("%w: read back: %w", ErrPresentFailed, err))
		return
	}
	o.last.Store(img)
	o.presented.Add(1)
	o.signal(nil)
}

// signal wakes DrawFrame callers waiting for the next present with err.
func (o *Offscreen) signal(err error) {
	o.mu.Lock()
	s := o.present
	o.present = newPresentSignal()
	o.mu.Unlock()

	s.err = err
	close(s.done)
}

// Snapshot returns the last presented frame, or nil if none was presented.
// The image must not be modified.
func (o *Offscreen) Snapshot() *image.RGBA { return o.last.Load() }

// Stats returns the redraw loop counters.
func (o *Offscreen) Stats() Stats {
	return Stats{
		Frames:    o.frames.Load(),
		Skipped:   o.skipped.Load(),
		Presented: o.presented.Load(),
	}
}

// draw asks the delegate for one frame. A recoverable frame error is
// counted as skipped and not returned.
func (o *Offscreen) draw() error {
	o.mu.Lock()
	d, closed := o.delegate, o.closed
	o.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if d == nil {
		return ErrNoDelegate
	}

	o.drawMu.Lock()
	err := d.Draw(o)
	o.drawMu.Unlock()
	switch {
	case err == nil:
		o.frames.Add(1)
		return nil
	case gpubasics.IsRecoverable(err):
		o.skipped.Add(1)
		gpubasics.Logger().Debug("view: frame skipped", "err", err)
		return nil
	default:
		return err
	}
}

// DrawFrame draws one frame and waits for the next present, then returns
// the snapshot. With no other frames in flight that is the frame just
// drawn. A skipped frame returns the delegate's error. A frame whose
// command buffer fails or whose pixels cannot be read back returns an
// error wrapping ErrPresentFailed.
func (o *Offscreen) DrawFrame(ctx context.Context) (*image.RGBA, error) {
	o.mu.Lock()
	d, closed, wait := o.delegate, o.closed, o.present
	o.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if d == nil {
		return nil, ErrNoDelegate
	}

	o.drawMu.Lock()
	err := d.Draw(o)
	o.drawMu.Unlock()
	if err != nil {
		if gpubasics.IsRecoverable(err) {
			o.skipped.Add(1)
		}
		return nil, err
	}
	o.frames.Add(1)

	select {
	case <-wait.done:
		if wait.err != nil {
			return nil, wait.err
		}
		return o.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drives the delegate until ctx is done or, when frames is positive,
// until frames redraws have been handled (drawn or skipped).
//
// Recoverable frame errors are counted as skipped frames and the loop
// continues. Any other error stops the loop and is returned. Cancelling
// ctx stops the loop without error when frames is not positive.
func (o *Offscreen) Run(ctx context.Context, frames int) (Stats, error) {
	start := o.Stats()
	handled := func() int {
		s := o.Stats()
		return int(s.Frames - start.Frames + s.Skipped - start.Skipped)
	}

	var tick <-chan time.Time
	if o.mode == RedrawContinuous && o.interval > 0 {
		t := time.NewTicker(o.interval)
		defer t.Stop()
		tick = t.C
	}

	for frames <= 0 || handled() < frames {
		switch {
		case o.mode == RedrawOnDemand:
			select {
			case <-o.needsDisplay:
			case <-ctx.Done():
				return o.runStats(start), o.stopErr(ctx, frames)
			}
		case tick != nil:
			select {
			case <-tick:
			case <-ctx.Done():
				return o.runStats(start), o.stopErr(ctx, frames)
			}
		default:
			if ctx.Err() != nil {
				return o.runStats(start), o.stopErr(ctx, frames)
			}
		}
		if err := o.draw(); err != nil {
			return o.runStats(start), err
		}
	}
	return o.runStats(start), nil
}

func (o *Offscreen) runStats(start Stats) Stats {
	s := o.Stats()
	return Stats{
		Frames:    s.Frames - start.Frames,
		Skipped:   s.Skipped - start.Skipped,
		Presented: s.Presented - start.Presented,
	}
}

func (o *Offscreen) stopErr(ctx context.Context, frames int) error {
	if frames <= 0 {
		return nil
	}
	return ctx.Err()
}

// Close releases the drawables. Frames in flight must have completed.
// Close is idempotent.
func (o *Offscreen) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	for _, t := range o.retired {
		t.Release()
	}
	o.retired = nil
	o.target.Release()
	return nil
}
