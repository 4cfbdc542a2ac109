// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package view

import (
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
)

// ImageFormat is an encoding for snapshots.
type ImageFormat string

// Supported snapshot encodings.
const (
	FormatPNG  ImageFormat = "png"
	FormatBMP  ImageFormat = "bmp"
	FormatTIFF ImageFormat = "tiff"
)

// FormatFromPath picks the encoding from a file extension.
func FormatFromPath(path string) (ImageFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".bmp":
		return FormatBMP, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	default:
		return "", fmt.Errorf("view: unsupported image extension %q", filepath.Ext(path))
	}
}

// SnapshotOptions controls WriteSnapshot.
type SnapshotOptions struct {
	// Format defaults to FormatPNG.
	Format ImageFormat

	// Width and Height scale the snapshot when both are positive.
	Width, Height int
}

// Scale resamples img to width x height with Catmull-Rom filtering.
func Scale(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Encode writes img to w in the given format.
func Encode(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case FormatPNG, "":
		return png.Encode(w, img)
	case FormatBMP:
		return bmp.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("view: unsupported image format %q", format)
	}
}

// WriteSnapshot encodes the last presented frame to w.
// Returns ErrNoSnapshot if no frame has been presented.
func (o *Offscreen) WriteSnapshot(w io.Writer, opts SnapshotOptions) error {
	snap := o.Snapshot()
	if snap == nil {
		return ErrNoSnapshot
	}
	var img image.Image = snap
	if opts.Width > 0 && opts.Height > 0 {
		img = Scale(snap, opts.Width, opts.Height)
	}
	return Encode(w, img, opts.Format)
}

// SaveSnapshot writes the last presented frame to path, encoded by its
// extension.
func (o *Offscreen) SaveSnapshot(path string) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	if o.Snapshot() == nil {
		return ErrNoSnapshot
	}
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return o.WriteSnapshot(f, SnapshotOptions{Format: format})
}
