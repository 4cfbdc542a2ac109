// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package view provides a headless view surface for gpubasics frame drivers.
//
// An Offscreen owns a render target texture on a driver.Device and hands it
// out as the drawable of each frame. It sends resize notifications to its
// Delegate, runs the redraw loop either continuously or on demand, and
// keeps the last presented frame as an image snapshot.
//
// Example:
//
//	v, err := view.NewOffscreen(ctx.Device(), 800, 600)
//	if err != nil {
//	    return err
//	}
//	defer v.Close()
//
//	fd := gpubasics.NewFrameDriver(ctx)
//	v.SetDelegate(fd)
//	fd.DrawableSizeWillChange(v.Size())
//
//	stats, err := v.Run(context.Background(), 60)
//	...
//	err = v.SaveSnapshot("frame.png")
package view
