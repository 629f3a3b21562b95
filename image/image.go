/*
NAME
  image.go

DESCRIPTION
  image provides Image[T], the row-major pixel buffer shared by the decoder,
  image-to-LED reducer and capture DMA-BUF scratch path.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package image provides a generic, reusable pixel buffer.
package image

import "fmt"

// Format tags the native origin of an Image's pixel data; purely
// informational, carried so downstream consumers can report provenance.
type Format int

const (
	FormatUnknown Format = iota
	FormatYUYV
	FormatUYVY
	FormatNV12
	FormatI420
	FormatP010
	FormatRGB24
	FormatXRGB
	FormatMJPEG
	FormatRGB // the decoder's own packed-RGB output format.
)

// Pixel is the element type constraint for Image[T]. RGB8 is the only
// concrete instantiation used by the decoder and downstream stages, but the
// type is generic so capture's scratch buffers can share the same
// scratch-allocator mechanics for other element types if needed.
type Pixel interface {
	comparable
}

// RGB8 is one packed 8-bit-per-channel pixel, the Decoder's fixed output
// element type.
type RGB8 struct {
	R, G, B uint8
}

// Image is a row-major pixel buffer with a scratch-allocator cache: resize
// reuses the backing array when the new dimensions fit within the existing
// capacity, so a loop that reuses one Image performs no per-frame allocation.
type Image[T Pixel] struct {
	width, height int
	origin        Format
	raw           []T
}

// New returns a zero-sized Image ready for Resize.
func New[T Pixel](origin Format) *Image[T] {
	return &Image[T]{origin: origin}
}

// Resize grows or reinterprets the backing buffer so that
// len(Pixels()) == width*height, reusing the existing allocation when it is
// already large enough.
func (im *Image[T]) Resize(width, height int) {
	if width < 0 || height < 0 {
		panic(fmt.Sprintf("image: invalid dimensions %dx%d", width, height))
	}
	n := width * height
	if cap(im.raw) < n {
		im.raw = make([]T, n)
	} else {
		im.raw = im.raw[:n]
	}
	im.width, im.height = width, height
}

// Width returns the image width in pixels.
func (im *Image[T]) Width() int { return im.width }

// Height returns the image height in pixels.
func (im *Image[T]) Height() int { return im.height }

// Origin returns the native format this image was decoded from.
func (im *Image[T]) Origin() Format { return im.origin }

// SetOrigin updates the origin format tag, used when a decoder repurposes an
// Image for a different source format after a reconfiguration.
func (im *Image[T]) SetOrigin(f Format) { im.origin = f }

// Pixels returns the backing row-major pixel slice. Callers must not retain
// it past the next Resize call.
func (im *Image[T]) Pixels() []T { return im.raw }

// At returns the pixel at (x,y) by indexing the flat buffer at y*width+x.
// It panics when that index falls outside the buffer; an x past the width
// with y below the last row is not caught and reads from the next row.
func (im *Image[T]) At(x, y int) T {
	return im.raw[y*im.width+x]
}

// Set writes the pixel at (x,y).
func (im *Image[T]) Set(x, y int, v T) {
	im.raw[y*im.width+x] = v
}

// Rect is an integer pixel rectangle, used by ImageToLeds to describe the
// sample region for one LED once a LED's normalized rectangle has been
// mapped onto an image of known dimensions.
type Rect struct {
	X0, Y0, X1, Y1 int // half-open: [X0,X1) x [Y0,Y1)
}

// ClampRect converts a normalized rectangle {hmin,hmax,vmin,vmax} ⊂ [0,1]^2
// into an integer pixel Rect clamped to the image bounds, with at least a
// 1x1 region guaranteed.
func ClampRect(width, height int, hmin, hmax, vmin, vmax float64) Rect {
	x0 := clampInt(int(hmin*float64(width)), 0, width-1)
	x1 := clampInt(int(hmax*float64(width)), x0+1, width)
	y0 := clampInt(int(vmin*float64(height)), 0, height-1)
	y1 := clampInt(int(vmax*float64(height)), y0+1, height)
	return Rect{x0, y0, x1, y1}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
