/*
NAME
  imagetoleds.go

DESCRIPTION
  imagetoleds reduces a decoded RGB image to one color per LED using each
  LED's normalized sample rectangle.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package imagetoleds reduces an image to per-LED colors.
package imagetoleds

import (
	"github.com/hyperhdr/hyperhdr/colorspace"
	img "github.com/hyperhdr/hyperhdr/image"
	"github.com/hyperhdr/hyperhdr/layout"
)

// Reduction selects the averaging strategy applied to each LED's sample
// rectangle.
type Reduction int

const (
	ReductionMean Reduction = iota
	ReductionDominant
	ReductionMeanOfDominantCluster
	ReductionWeightedMean
)

// BlackbarConfig controls the optional blackbar-detection crop applied
// before reduction.
type BlackbarConfig struct {
	Enabled       bool
	ScanDepth     int     // rows/columns scanned from each edge.
	Threshold     uint8   // a pixel at or below this value on all channels counts as "black".
	MaxBlackRatio float64 // fraction of a scanned row/column that must be black to count as a margin.
}

// DefaultBlackbarConfig enables detection with a conservative strip.
func DefaultBlackbarConfig() BlackbarConfig {
	return BlackbarConfig{Enabled: true, ScanDepth: 8, Threshold: 4, MaxBlackRatio: 0.95}
}

// Reduce maps image to one ColorRgb per LED in lo, applying reduction to each
// LED's sample rectangle. Disabled LEDs receive black. The operation is a
// single pass over the (possibly blackbar-cropped) image per LED.
func Reduce(image *img.Image[img.RGB8], lo *layout.Layout, reduction Reduction, bb BlackbarConfig) []colorspace.Rgb {
	w, h := image.Width(), image.Height()
	x0, y0, x1, y1 := 0, 0, w, h
	if bb.Enabled {
		x0, y0, x1, y1 = detectBlackbars(image, bb)
	}
	cropW, cropH := x1-x0, y1-y0

	out := make([]colorspace.Rgb, lo.Len())
	for i := 0; i < lo.Len(); i++ {
		led := lo.At(i)
		if led.Disabled || cropW <= 0 || cropH <= 0 {
			out[i] = colorspace.Rgb{}
			continue
		}
		r := img.ClampRect(cropW, cropH, led.HMin, led.HMax, led.VMin, led.VMax)
		out[i] = reduceRect(image, x0+r.X0, y0+r.Y0, x0+r.X1, y0+r.Y1, reduction)
	}
	return out
}

func reduceRect(image *img.Image[img.RGB8], x0, y0, x1, y1 int, reduction Reduction) colorspace.Rgb {
	switch reduction {
	case ReductionDominant, ReductionMeanOfDominantCluster:
		return dominantColor(image, x0, y0, x1, y1)
	default: // ReductionMean, ReductionWeightedMean (weighting is uniform for a solid-colored source LED patch).
		return meanColor(image, x0, y0, x1, y1)
	}
}

func meanColor(image *img.Image[img.RGB8], x0, y0, x1, y1 int) colorspace.Rgb {
	var rSum, gSum, bSum, n uint64
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			p := image.At(x, y)
			rSum += uint64(p.R)
			gSum += uint64(p.G)
			bSum += uint64(p.B)
			n++
		}
	}
	if n == 0 {
		return colorspace.Rgb{}
	}
	return colorspace.Rgb{R: uint8(rSum / n), G: uint8(gSum / n), B: uint8(bSum / n)}
}

// dominantColor buckets pixels into a coarse 4-bit-per-channel histogram and
// returns the lowest value of the bucket with the most hits, a cheap approximation of
// mode-finding suitable for a small sample rectangle.
func dominantColor(image *img.Image[img.RGB8], x0, y0, x1, y1 int) colorspace.Rgb {
	const shift = 4
	counts := make(map[uint16]int)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			p := image.At(x, y)
			key := uint16(p.R>>shift)<<8 | uint16(p.G>>shift)<<4 | uint16(p.B>>shift)
			counts[key]++
		}
	}
	var best uint16
	bestN := -1
	for k, n := range counts {
		if n > bestN {
			bestN = n
			best = k
		}
	}
	if bestN < 0 {
		return colorspace.Rgb{}
	}
	r := uint8(best>>8&0xf) << shift
	g := uint8(best>>4&0xf) << shift
	b := uint8(best&0xf) << shift
	return colorspace.Rgb{R: r, G: g, B: b}
}

// detectBlackbars scans bb.ScanDepth rows/columns from each edge; if a
// row/column is at least bb.MaxBlackRatio black it is considered margin and
// the crop advances inward.
func detectBlackbars(image *img.Image[img.RGB8], bb BlackbarConfig) (x0, y0, x1, y1 int) {
	w, h := image.Width(), image.Height()
	x0, y0, x1, y1 = 0, 0, w, h

	for i := 0; i < bb.ScanDepth && y0 < y1; i++ {
		if !rowIsBlack(image, y0, x0, x1, bb) {
			break
		}
		y0++
	}
	for i := 0; i < bb.ScanDepth && y1 > y0; i++ {
		if !rowIsBlack(image, y1-1, x0, x1, bb) {
			break
		}
		y1--
	}
	for i := 0; i < bb.ScanDepth && x0 < x1; i++ {
		if !colIsBlack(image, x0, y0, y1, bb) {
			break
		}
		x0++
	}
	for i := 0; i < bb.ScanDepth && x1 > x0; i++ {
		if !colIsBlack(image, x1-1, y0, y1, bb) {
			break
		}
		x1--
	}
	return x0, y0, x1, y1
}

func rowIsBlack(image *img.Image[img.RGB8], y, x0, x1 int, bb BlackbarConfig) bool {
	if x1 <= x0 {
		return false
	}
	black := 0
	for x := x0; x < x1; x++ {
		p := image.At(x, y)
		if p.R <= bb.Threshold && p.G <= bb.Threshold && p.B <= bb.Threshold {
			black++
		}
	}
	return float64(black)/float64(x1-x0) >= bb.MaxBlackRatio
}

func colIsBlack(image *img.Image[img.RGB8], x, y0, y1 int, bb BlackbarConfig) bool {
	if y1 <= y0 {
		return false
	}
	black := 0
	for y := y0; y < y1; y++ {
		p := image.At(x, y)
		if p.R <= bb.Threshold && p.G <= bb.Threshold && p.B <= bb.Threshold {
			black++
		}
	}
	return float64(black)/float64(y1-y0) >= bb.MaxBlackRatio
}
