// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package api exposes the compute and render paths over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/gogpu/gpubasics"
	"github.com/gogpu/gpubasics/driver"
	"github.com/gogpu/gpubasics/view"
)

// DefaultComputeTimeout bounds how long a compute request waits for its result.
const DefaultComputeTimeout = 30 * time.Second

// DefaultFrameTimeout bounds how long a frame request waits for presentation.
const DefaultFrameTimeout = 10 * time.Second

// Config wires a Server to the components it drives.
type Config struct {
	Context    *gpubasics.DeviceContext
	Dispatcher *gpubasics.ComputeDispatcher

	// View is drawn by GET /v1/frame and resized by POST /v1/resize.
	// Its delegate must be set. Nil disables the render endpoints.
	View *view.Offscreen

	// DefaultCount and DefaultRange apply to compute requests that omit them.
	DefaultCount int
	DefaultRange gpubasics.Range

	// ComputeTimeout defaults to DefaultComputeTimeout.
	ComputeTimeout time.Duration

	// FrameTimeout bounds GET /v1/frame and defaults to DefaultFrameTimeout.
	FrameTimeout time.Duration
}

// Server handles the /v1 endpoints.
type Server struct {
	cfg Config
}

// NewServer creates a server for cfg.
func NewServer(cfg Config) *Server {
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = DefaultComputeTimeout
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = DefaultFrameTimeout
	}
	if cfg.DefaultRange == (gpubasics.Range{}) {
		cfg.DefaultRange = gpubasics.Range{Min: 0, Max: 1000}
	}
	return &Server{cfg: cfg}
}

// Register adds the routes to e.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/compute", s.handleCompute)
	e.POST("/v1/resize", s.handleResize)
	e.GET("/v1/frame", s.handleFrame)
	e.GET("/v1/devices", s.handleListDevices)
}

// ComputeRequest is the body of POST /v1/compute. Zero fields take the
// server defaults.
type ComputeRequest struct {
	Kernel          string   `json:"kernel,omitempty"`
	Count           *int     `json:"count,omitempty"`
	RangeMin        *float32 `json:"range_min,omitempty"`
	RangeMax        *float32 `json:"range_max,omitempty"`
	ThreadgroupSize int      `json:"threadgroup_size,omitempty"`
	Seed            *uint64  `json:"seed,omitempty"`
}

// ComputeResponse is the result of POST /v1/compute.
type ComputeResponse struct {
	JobID     string  `json:"job_id"`
	Kernel    string  `json:"kernel"`
	Count     int     `json:"count"`
	Value     float64 `json:"value"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// ResizeRequest is the body of POST /v1/resize.
type ResizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DeviceInfo is one entry of GET /v1/devices.
type DeviceInfo struct {
	Driver string `json:"driver"`
	Active bool   `json:"active"`
	Device string `json:"device,omitempty"`
}

// ResponseError is the error payload of every endpoint.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func (s *Server) handleCompute(c *echo.Context) error {
	if s.cfg.Dispatcher == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "compute dispatcher not configured")
	}
	req, err := decodeJSON[ComputeRequest](c.Request().Body)
	if err != nil && !errors.Is(err, io.EOF) {
		return writeBadRequest(c, err.Error())
	}

	job := gpubasics.ReductionJob{
		Kernel:          gpubasics.KernelAddArrays,
		Count:           s.cfg.DefaultCount,
		ThreadgroupSize: req.ThreadgroupSize,
	}
	if req.Kernel != "" {
		job.Kernel = req.Kernel
	}
	if req.Count != nil {
		job.Count = *req.Count
	}
	if job.Count < 0 {
		return writeBadRequest(c, "count must not be negative")
	}
	r := s.cfg.DefaultRange
	if req.RangeMin != nil {
		r.Min = *req.RangeMin
	}
	if req.RangeMax != nil {
		r.Max = *req.RangeMax
	}
	if r.Max < r.Min {
		return writeBadRequest(c, "range_max must not be below range_min")
	}
	var rng *rand.Rand
	if req.Seed != nil {
		rng = rand.New(rand.NewPCG(*req.Seed, *req.Seed))
	}
	job.Fill = gpubasics.UniformFill(r, rng)

	ch, err := s.cfg.Dispatcher.Run(job)
	if err != nil {
		switch {
		case errors.Is(err, driver.ErrFunctionNotFound):
			return writeNotFound(c, err.Error())
		case errors.Is(err, driver.ErrInvalidLength):
			return writeBadRequest(c, err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.ComputeTimeout)
	defer cancel()
	res, err := gpubasics.AwaitResult(ctx, ch)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(http.StatusOK, ComputeResponse{
		JobID:     res.JobID.String(),
		Kernel:    res.Kernel,
		Count:     res.Count,
		Value:     res.Value,
		ElapsedMS: float64(res.Elapsed.Microseconds()) / 1000,
	})
}

func (s *Server) handleResize(c *echo.Context) error {
	if s.cfg.View == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "view not configured")
	}
	req, err := decodeJSON[ResizeRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Width <= 0 || req.Height <= 0 {
		return writeBadRequest(c, "width and height must be positive")
	}
	if err := s.cfg.View.Resize(req.Width, req.Height); err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	w, h := s.cfg.View.Size()
	return c.JSON(http.StatusOK, ResizeRequest{Width: w, Height: h})
}

func (s *Server) handleFrame(c *echo.Context) error {
	if s.cfg.View == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "view not configured")
	}
	opts := view.SnapshotOptions{Format: view.ImageFormat(c.QueryParam("format"))}
	if opts.Format == "" {
		opts.Format = view.FormatPNG
	}
	var err error
	if opts.Width, err = queryInt(c, "width"); err != nil {
		return writeBadRequest(c, err.Error())
	}
	if opts.Height, err = queryInt(c, "height"); err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.FrameTimeout)
	defer cancel()
	if _, err := s.cfg.View.DrawFrame(ctx); err != nil {
		if gpubasics.IsRecoverable(err) {
			return writeError(c, http.StatusServiceUnavailable, "frame_skipped", err.Error())
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	var body bytes.Buffer
	if err := s.cfg.View.WriteSnapshot(&body, opts); err != nil {
		return writeBadRequest(c, err.Error())
	}
	return c.Blob(http.StatusOK, contentType(opts.Format), body.Bytes())
}

func (s *Server) handleListDevices(c *echo.Context) error {
	active := ""
	if s.cfg.Context != nil {
		active = s.cfg.Context.DeviceName()
	}
	names := driver.Available()
	data := make([]DeviceInfo, 0, len(names))
	for _, name := range names {
		info := DeviceInfo{Driver: name}
		if s.cfg.Context != nil && driverOf(s.cfg.Context.Device()) == name {
			info.Active = true
			info.Device = active
		}
		data = append(data, info)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

// driverOf reports which registered driver a device comes from.
func driverOf(dev driver.Device) string {
	if n, ok := dev.(interface{ DriverName() string }); ok {
		return n.DriverName()
	}
	return ""
}

func queryInt(c *echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return n, nil
}

func contentType(f view.ImageFormat) string {
	switch f {
	case view.FormatBMP:
		return "image/bmp"
	case view.FormatTIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{Message: msg, Type: errType},
	})
}
