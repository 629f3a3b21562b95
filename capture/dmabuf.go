/*
NAME
  dmabuf.go

DESCRIPTION
  dmabuf.go implements the DMA-BUF/GPU screen-capture fast path: when a
  compositor offers a DMA-BUF, the grabber scales it to a bounded scratch
  framebuffer instead of reading back full resolution. EGL/Pipewire
  binding is outside a portable core's reach, so this file defines the
  pluggable surface and backs the scale step with golang.org/x/image/draw
  so the fast path is exercised even without a GPU backend wired in.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package capture

import (
	stdimage "image"

	"golang.org/x/image/draw"

	imgpkg "github.com/hyperhdr/hyperhdr/image"
)

// DMABUFSource is the pluggable GPU backend contract; a real implementation
// binds a DRM fourcc DMA-BUF as an EGL image and renders to an off-screen
// texture. Only the scaled-readback half of the pipeline (ScaleAndRead) is
// implemented here in portable Go; AcquireBuffer is satisfied by a
// platform-specific backend.
type DMABUFSource interface {
	// AcquireBuffer returns the compositor's current frame as a standard
	// library image (the EGL-bound texture already resolved to host memory
	// by the platform backend) and its DRM fourcc, or ok=false if no new
	// buffer is available this tick.
	AcquireBuffer() (frame stdimage.Image, fourcc string, ok bool)
}

// ScaleAndRead blits src into a scratch framebuffer sized
// max(w,h)/targetMaxSize using
// golang.org/x/image/draw's bilinear scaler, and returns the result as a
// packed RGB image ready for ImageToLeds.
func ScaleAndRead(src stdimage.Image, targetMaxSize int) *imgpkg.Image[imgpkg.RGB8] {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	maxDim := w
	if h > maxDim {
		maxDim = h
	}
	scale := 1
	if targetMaxSize > 0 {
		scale = maxDim / targetMaxSize
		if scale < 1 {
			scale = 1
		}
	}
	dstW, dstH := w/scale, h/scale
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}

	dst := stdimage.NewRGBA(stdimage.Rect(0, 0, dstW, dstH))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	out := imgpkg.New[imgpkg.RGB8](imgpkg.FormatRGB)
	out.Resize(dstW, dstH)
	for y := 0; y < dstH; y++ {
		for x := 0; x < dstW; x++ {
			r, g, bl, _ := dst.At(x, y).RGBA()
			out.Set(x, y, imgpkg.RGB8{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8)})
		}
	}
	return out
}

// DMABUFGrabber adapts a DMABUFSource to the Grabber contract. On any
// source error the next frame should fall back to the memory path;
// DMABUFGrabber surfaces that by returning ok=false from Poll rather than
// erroring the whole grabber.
type DMABUFGrabber struct {
	source        DMABUFSource
	targetMaxSize int
	running       bool
}

// NewDMABUFGrabber returns a grabber wrapping source, downscaling every
// frame by the integer factor max(w,h)/targetMaxSize. For frames larger
// than targetMaxSize the result's longest edge lies between targetMaxSize
// and twice that; smaller frames are not scaled.
func NewDMABUFGrabber(source DMABUFSource, targetMaxSize int) *DMABUFGrabber {
	return &DMABUFGrabber{source: source, targetMaxSize: targetMaxSize}
}

// Poll pulls one frame from the backend, if available, already scaled.
func (g *DMABUFGrabber) Poll() (*imgpkg.Image[imgpkg.RGB8], bool) {
	if !g.running {
		return nil, false
	}
	frame, _, ok := g.source.AcquireBuffer()
	if !ok {
		return nil, false
	}
	return ScaleAndRead(frame, g.targetMaxSize), true
}

func (g *DMABUFGrabber) Start() error { g.running = true; return nil }
func (g *DMABUFGrabber) Stop() error  { g.running = false; return nil }
func (g *DMABUFGrabber) IsRunning() bool { return g.running }
