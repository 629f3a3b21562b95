/*
NAME
  colorspace.go

DESCRIPTION
  colorspace provides the color representations shared across the pixel
  pipeline: sRGB-encoded 8-bit color, linear-RGB float triples used for the
  InfiniteProcessing chain, and the Philips-Hue XYB color space.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package colorspace provides color representations and conversions shared
// by the decoder, image-to-LED reducer and the InfiniteProcessing chain.
package colorspace

import "math"

// Rgb is an sRGB-encoded 8-bit color, the wire format used by ImageToLeds
// output, driver writes and the hardware byte order swap.
type Rgb struct {
	R, G, B uint8
}

// Linear is a float triple in [0,1] after gamma removal. All InfiniteProcessing
// stages operate on Linear values.
type Linear struct {
	R, G, B float64
}

// Xyb is the (x, y, brightness) triple used only by the Hue driver family.
type Xyb struct {
	X, Y, B float64
}

// srgbToLinearChannel removes the sRGB transfer function from one 8-bit
// channel.
func srgbToLinearChannel(c uint8) float64 {
	v := float64(c) / 255
	if v <= 0.04045 {
		return v / 12.92
	}
	return math.Pow((v+0.055)/1.055, 2.4)
}

// linearToSrgbChannel applies the sRGB transfer function to a linear channel
// in [0,1] and quantizes to 8 bits.
func linearToSrgbChannel(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	var s float64
	if v <= 0.0031308 {
		s = v * 12.92
	} else {
		s = 1.055*math.Pow(v, 1/2.4) - 0.055
	}
	return uint8(math.Round(clamp01(s) * 255))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Decode converts an sRGB-encoded color to its linear-RGB representation.
func Decode(c Rgb) Linear {
	return Linear{
		R: srgbToLinearChannel(c.R),
		G: srgbToLinearChannel(c.G),
		B: srgbToLinearChannel(c.B),
	}
}

// Encode converts a linear-RGB color back to its sRGB-encoded representation,
// clamping to [0,1] before quantization.
func Encode(l Linear) Rgb {
	return Rgb{
		R: linearToSrgbChannel(l.R),
		G: linearToSrgbChannel(l.G),
		B: linearToSrgbChannel(l.B),
	}
}

// Clamp restricts each channel of l to [0,1].
func (l Linear) Clamp() Linear {
	return Linear{clamp01(l.R), clamp01(l.G), clamp01(l.B)}
}

// Scale multiplies each channel by k.
func (l Linear) Scale(k float64) Linear {
	return Linear{l.R * k, l.G * k, l.B * k}
}

// Sum returns r+g+b, used by the power-limit stage.
func (l Linear) Sum() float64 {
	return l.R + l.G + l.B
}

// ByteOrder identifies the hardware channel ordering a driver expects on the
// wire; the default decode/process pipeline always produces RGB and the
// driver performs this swap as the final processing step.
type ByteOrder int

const (
	OrderRGB ByteOrder = iota
	OrderRBG
	OrderGRB
	OrderGBR
	OrderBRG
	OrderBGR
)

// Swap reorders c's channels according to order.
func Swap(c Rgb, order ByteOrder) Rgb {
	switch order {
	case OrderRGB:
		return c
	case OrderRBG:
		return Rgb{c.R, c.B, c.G}
	case OrderGRB:
		return Rgb{c.G, c.R, c.B}
	case OrderGBR:
		return Rgb{c.G, c.B, c.R}
	case OrderBRG:
		return Rgb{c.B, c.R, c.G}
	case OrderBGR:
		return Rgb{c.B, c.G, c.R}
	default:
		return c
	}
}
