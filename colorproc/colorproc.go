/*
NAME
  colorproc.go

DESCRIPTION
  colorproc implements InfiniteProcessing: the fixed-order
  color transform chain applied to the linear-RGB LED vector between
  ImageToLeds and Smoothing. The calibration snapshot is built off the
  hot path and atomically published, so in-flight frames never observe a
  torn configuration.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package colorproc implements the InfiniteProcessing color chain.
package colorproc

import (
	"math"
	"sync/atomic"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// Temperature presets stage 1.
var (
	TemperatureWarm    = colorspace.Linear{R: 1, G: 0.93, B: 0.85}
	TemperatureNeutral = colorspace.Linear{R: 1, G: 1, B: 1}
	TemperatureCold    = colorspace.Linear{R: 0.9, G: 0.95, B: 1}
)

// Matrix3 is a row-major 3x3 matrix used for primary-only calibration.
type Matrix3 [3][3]float64

func (m Matrix3) apply(c colorspace.Linear) colorspace.Linear {
	return colorspace.Linear{
		R: m[0][0]*c.R + m[0][1]*c.G + m[0][2]*c.B,
		G: m[1][0]*c.R + m[1][1]*c.G + m[1][2]*c.B,
		B: m[2][0]*c.R + m[2][1]*c.G + m[2][2]*c.B,
	}
}

// tetraLUTSize is the edge length of the tetrahedral calibration LUT (17^3).
const tetraLUTSize = 17

// CalibrationSnapshot is the immutable, reference-counted value produced
// each time color settings change. It is read atomically so a
// running pipeline is never torn by a config edit.
type CalibrationSnapshot struct {
	// PrimaryOnly selects between the 3x3-matrix and tetrahedral-LUT modes.
	PrimaryOnly bool
	Matrix      Matrix3
	// LUT holds the 17x17x17 trilinear-interpolated calibration table built
	// from the 8 RGBCMYWK reference corners, indexed [r][g][b].
	LUT [tetraLUTSize][tetraLUTSize][tetraLUTSize]colorspace.Linear
}

// RGBCMYWKCorners names the 8 reference corners a tetrahedral calibration
// LUT is built from.
type RGBCMYWKCorners struct {
	Red, Green, Blue                colorspace.Linear
	Cyan, Magenta, Yellow           colorspace.Linear
	White, Black                    colorspace.Linear
}

// DefaultCorners returns the identity RGBCMYWK corner set (no calibration).
func DefaultCorners() RGBCMYWKCorners {
	return RGBCMYWKCorners{
		Red:     colorspace.Linear{R: 1},
		Green:   colorspace.Linear{G: 1},
		Blue:    colorspace.Linear{B: 1},
		Cyan:    colorspace.Linear{G: 1, B: 1},
		Magenta: colorspace.Linear{R: 1, B: 1},
		Yellow:  colorspace.Linear{R: 1, G: 1},
		White:   colorspace.Linear{R: 1, G: 1, B: 1},
		Black:   colorspace.Linear{},
	}
}

// BuildTetrahedralLUT fills a 17^3 LUT via trilinear blending of the 8
// reference corners across the unit cube.
func BuildTetrahedralLUT(c RGBCMYWKCorners) [tetraLUTSize][tetraLUTSize][tetraLUTSize]colorspace.Linear {
	var lut [tetraLUTSize][tetraLUTSize][tetraLUTSize]colorspace.Linear
	const n = tetraLUTSize - 1
	for ri := 0; ri <= n; ri++ {
		r := float64(ri) / n
		for gi := 0; gi <= n; gi++ {
			g := float64(gi) / n
			for bi := 0; bi <= n; bi++ {
				b := float64(bi) / n
				lut[ri][gi][bi] = trilinear(c, r, g, b)
			}
		}
	}
	return lut
}

// trilinear blends the 8 RGBCMYWK corners at cube-local coordinates (r,g,b)
// in [0,1]. Black is the origin corner, White is the diagonal opposite;
// Red/Green/Blue/Cyan/Magenta/Yellow are the remaining 6 cube vertices.
func trilinear(c RGBCMYWKCorners, r, g, b float64) colorspace.Linear {
	corner := func(ri, gi, bi int) colorspace.Linear {
		switch {
		case ri == 0 && gi == 0 && bi == 0:
			return c.Black
		case ri == 1 && gi == 0 && bi == 0:
			return c.Red
		case ri == 0 && gi == 1 && bi == 0:
			return c.Green
		case ri == 0 && gi == 0 && bi == 1:
			return c.Blue
		case ri == 0 && gi == 1 && bi == 1:
			return c.Cyan
		case ri == 1 && gi == 0 && bi == 1:
			return c.Magenta
		case ri == 1 && gi == 1 && bi == 0:
			return c.Yellow
		default:
			return c.White
		}
	}
	var out colorspace.Linear
	for _, corn := range []struct {
		ri, gi, bi int
		w          float64
	}{
		{0, 0, 0, (1 - r) * (1 - g) * (1 - b)},
		{1, 0, 0, r * (1 - g) * (1 - b)},
		{0, 1, 0, (1 - r) * g * (1 - b)},
		{0, 0, 1, (1 - r) * (1 - g) * b},
		{1, 1, 0, r * g * (1 - b)},
		{1, 0, 1, r * (1 - g) * b},
		{0, 1, 1, (1 - r) * g * b},
		{1, 1, 1, r * g * b},
	} {
		v := corner(corn.ri, corn.gi, corn.bi)
		out.R += v.R * corn.w
		out.G += v.G * corn.w
		out.B += v.B * corn.w
	}
	return out
}

// lookup interpolates s.LUT trilinearly for one linear color, blending the
// 8 entries of the enclosing grid cell; the cell is not split into
// tetrahedra.
func (s *CalibrationSnapshot) lookup(c colorspace.Linear) colorspace.Linear {
	const n = tetraLUTSize - 1
	fr, fg, fb := c.R*n, c.G*n, c.B*n
	ri, gi, bi := clampIdx(int(fr), n-1), clampIdx(int(fg), n-1), clampIdx(int(fb), n-1)
	dr, dg, db := fr-float64(ri), fg-float64(gi), fb-float64(bi)

	get := func(dr, dg, db int) colorspace.Linear { return s.LUT[ri+dr][gi+dg][bi+db] }
	c000, c100 := get(0, 0, 0), get(1, 0, 0)
	c010, c110 := get(0, 1, 0), get(1, 1, 0)
	c001, c101 := get(0, 0, 1), get(1, 0, 1)
	c011, c111 := get(0, 1, 1), get(1, 1, 1)

	lerp := func(a, b colorspace.Linear, t float64) colorspace.Linear {
		return colorspace.Linear{
			R: a.R + (b.R-a.R)*t,
			G: a.G + (b.G-a.G)*t,
			B: a.B + (b.B-a.B)*t,
		}
	}
	c00 := lerp(c000, c100, dr)
	c10 := lerp(c010, c110, dr)
	c01 := lerp(c001, c101, dr)
	c11 := lerp(c011, c111, dr)
	c0 := lerp(c00, c10, dg)
	c1 := lerp(c01, c11, dg)
	return lerp(c0, c1, db)
}

func clampIdx(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// BacklightMode selects how the minimum-backlight stage elevates dim colors.
type BacklightMode int

const (
	BacklightColored    BacklightMode = iota // Set the color to (t,t,t).
	BacklightNonColored                      // Elevate the average while preserving hue.
)

// Settings holds every InfiniteProcessing parameter; an identity Settings
// makes every stage a no-op so InfiniteProcessing(identity, v) == srgbEncode(v).
type Settings struct {
	Temperature   colorspace.Linear // multiplicative tint, stage 1.
	ScaleOutput   float64           // overall gain in [0,2], stage 3.
	Gamma         float64           // per-channel exponent, stage 5. 1 == identity.
	Brightness    float64           // HSV V gain, clamped to 1, stage 6.
	Saturation    float64           // HSV S gain, clamped to 1, stage 6.
	BacklightMin  float64           // threshold t, stage 7. 0 disables.
	BacklightMode BacklightMode
	PowerLimit    float64 // per-channel average ceiling, stage 8. 0 disables.
	ByteOrder     colorspace.ByteOrder
}

// Identity returns a Settings value for which every stage is a no-op.
func Identity() Settings {
	return Settings{
		Temperature: TemperatureNeutral,
		ScaleOutput: 1,
		Gamma:       1,
		Brightness:  1,
		Saturation:  1,
		ByteOrder:   colorspace.OrderRGB,
	}
}

// gammaLUTSize is the per-channel gamma table resolution.
const gammaLUTSize = 1024

// gammaTable precomputes i^gamma for i in [0,1023]/1023, for interpolated
// lookup.
func gammaTable(gamma float64) [gammaLUTSize]float64 {
	var t [gammaLUTSize]float64
	for i := range t {
		t[i] = math.Pow(float64(i)/(gammaLUTSize-1), gamma)
	}
	return t
}

func gammaLookup(table [gammaLUTSize]float64, v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	f := v * (gammaLUTSize - 1)
	i := int(f)
	if i >= gammaLUTSize-1 {
		return table[gammaLUTSize-1]
	}
	frac := f - float64(i)
	return table[i] + (table[i+1]-table[i])*frac
}

// Processor applies the InfiniteProcessing chain. A Processor is safe for
// concurrent use: its calibration snapshot is held behind an atomic
// pointer, swapped by SetCalibration, while Process may run concurrently on
// another goroutine.
type Processor struct {
	settings atomic.Pointer[Settings]
	calib    atomic.Pointer[CalibrationSnapshot]
	gammaTab atomic.Pointer[[gammaLUTSize]float64]
}

// NewProcessor returns a Processor configured with identity settings and no
// calibration (calibration is skipped until SetCalibration is called).
func NewProcessor() *Processor {
	p := &Processor{}
	s := Identity()
	p.settings.Store(&s)
	g := gammaTable(1)
	p.gammaTab.Store(&g)
	return p
}

// SetSettings atomically replaces the processor's settings (and rebuilds
// the gamma LUT if gamma changed) off the hot path.
func (p *Processor) SetSettings(s Settings) {
	g := gammaTable(s.Gamma)
	p.gammaTab.Store(&g)
	p.settings.Store(&s)
}

// SetCalibration atomically publishes a new CalibrationSnapshot. In-flight
// frames either see the old or the new snapshot, never a mix.
func (p *Processor) SetCalibration(snap *CalibrationSnapshot) {
	p.calib.Store(snap)
}

// Process runs the full 8-stage chain over vector, returning sRGB-encoded,
// byte-order-swapped output colors ready for a driver write.
func (p *Processor) Process(vector []colorspace.Linear) []colorspace.Rgb {
	s := *p.settings.Load()
	calib := p.calib.Load()
	gtab := *p.gammaTab.Load()

	out := make([]colorspace.Linear, len(vector))
	for i, c := range vector {
		c = stageTemperature(c, s.Temperature)
		c = stageCalibration(c, calib)
		c = stageScale(c, s.ScaleOutput)
		out[i] = c
	}

	encoded := make([]colorspace.Rgb, len(vector))
	for i, c := range out {
		enc := colorspace.Encode(c.Clamp())
		lin := colorspace.Linear{
			R: float64(enc.R) / 255,
			G: float64(enc.G) / 255,
			B: float64(enc.B) / 255,
		}
		lin = stageGamma(lin, gtab)
		lin = stageBrightnessSaturation(lin, s.Brightness, s.Saturation)
		out[i] = lin
	}

	out = stageBacklight(out, s.BacklightMin, s.BacklightMode)
	out = stagePowerLimit(out, s.PowerLimit)

	for i, c := range out {
		rgb := colorspace.Rgb{
			R: clamp255(c.R),
			G: clamp255(c.G),
			B: clamp255(c.B),
		}
		encoded[i] = colorspace.Swap(rgb, s.ByteOrder)
	}
	return encoded
}

func clamp255(v float64) uint8 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint8(math.Round(v * 255))
}

// stageTemperature is stage 1: multiplicative tint.
func stageTemperature(c colorspace.Linear, tint colorspace.Linear) colorspace.Linear {
	if tint == TemperatureNeutral {
		return c
	}
	return colorspace.Linear{R: c.R * tint.R, G: c.G * tint.G, B: c.B * tint.B}
}

// stageCalibration is stage 2.
func stageCalibration(c colorspace.Linear, snap *CalibrationSnapshot) colorspace.Linear {
	if snap == nil {
		return c
	}
	if snap.PrimaryOnly {
		return snap.Matrix.apply(c).Clamp()
	}
	return snap.lookup(c).Clamp()
}

// stageScale is stage 3.
func stageScale(c colorspace.Linear, scale float64) colorspace.Linear {
	if scale == 1 {
		return c
	}
	return c.Scale(scale).Clamp()
}

// stageGamma is stage 5 (stage 4, linear->sRGB encode, happens via
// colorspace.Encode in Process before this is called).
func stageGamma(c colorspace.Linear, table [gammaLUTSize]float64) colorspace.Linear {
	return colorspace.Linear{
		R: gammaLookup(table, c.R),
		G: gammaLookup(table, c.G),
		B: gammaLookup(table, c.B),
	}
}

// stageBrightnessSaturation is stage 6: HSV V/S gain, clamped to 1.
func stageBrightnessSaturation(c colorspace.Linear, vGain, sGain float64) colorspace.Linear {
	if vGain == 1 && sGain == 1 {
		return c
	}
	h, s, v := rgbToHSV(c)
	s = clampUnit(s * sGain)
	v = clampUnit(v * vGain)
	return hsvToRGB(h, s, v)
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}

func rgbToHSV(c colorspace.Linear) (h, s, v float64) {
	max := math.Max(c.R, math.Max(c.G, c.B))
	min := math.Min(c.R, math.Min(c.G, c.B))
	v = max
	d := max - min
	if max == 0 {
		s = 0
	} else {
		s = d / max
	}
	if d == 0 {
		h = 0
		return
	}
	switch max {
	case c.R:
		h = math.Mod((c.G-c.B)/d, 6)
	case c.G:
		h = (c.B-c.R)/d + 2
	default:
		h = (c.R-c.G)/d + 4
	}
	h *= 60
	if h < 0 {
		h += 360
	}
	return
}

func hsvToRGB(h, s, v float64) colorspace.Linear {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c
	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return colorspace.Linear{R: r + m, G: g + m, B: b + m}
}

// stageBacklight is stage 7.
func stageBacklight(vec []colorspace.Linear, t float64, mode BacklightMode) []colorspace.Linear {
	if t <= 0 {
		return vec
	}
	out := make([]colorspace.Linear, len(vec))
	for i, c := range vec {
		if c.R < t && c.G < t && c.B < t {
			switch mode {
			case BacklightColored:
				out[i] = colorspace.Linear{R: t, G: t, B: t}
			default:
				avg := (c.R + c.G + c.B) / 3
				if avg >= t {
					out[i] = c
					continue
				}
				scale := t / math.Max(avg, 1e-9)
				out[i] = c.Scale(scale).Clamp()
			}
		} else {
			out[i] = c
		}
	}
	return out
}

// stagePowerLimit is stage 8: Σ(r+g+b) after processing must satisfy
// Σ ≤ 3*N*limit.
func stagePowerLimit(vec []colorspace.Linear, limit float64) []colorspace.Linear {
	if limit <= 0 || len(vec) == 0 {
		return vec
	}
	var sum float64
	for _, c := range vec {
		sum += c.Sum()
	}
	a := 3 * float64(len(vec)) * limit
	if sum <= a {
		return vec
	}
	k := a / sum
	out := make([]colorspace.Linear, len(vec))
	for i, c := range vec {
		out[i] = c.Scale(k)
	}
	return out
}
