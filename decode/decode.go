/*
NAME
  decode.go

DESCRIPTION
  decode implements the Frame Decoder: converts a captured
  raw frame in one of the supported native pixel formats, optionally
  through a 3D LUT performing HDR tone-mapping, into a packed sRGB-encoded
  RGB image.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package decode converts native capture pixel formats to a packed
// sRGB-encoded RGB image, optionally through a calibrated 3D LUT.
package decode

import (
	"bytes"
	stdimage "image"
	"image/jpeg"
	"io"

	"github.com/GreatValueCreamSoda/gopixfmts"
	img "github.com/hyperhdr/hyperhdr/image"
)

// Family groups pixel formats by the LUT they use; exactly one LUT
// exists per decode format family (RGB or YUV).
type Family int

const (
	FamilyYUV Family = iota
	FamilyRGB
)

// pixFmtDescriptor maps our img.Format enum to the libav-style pixel format
// gopixfmts describes, so the decoder can ask the same question the capture
// pipeline asks of any real video source: which family is this, and what
// chroma subsampling does it imply (github.com/GreatValueCreamSoda/gometrics/sources/source.go
// uses the identical gopixfmts.PixFmtDescGet + Flags()/Log2ChromaW()/H()
// pattern to classify a source's colorspace).
var pixFmtDescriptor = map[img.Format]gopixfmts.PixelFormat{
	img.FormatYUYV:  gopixfmts.PixelFormat(gopixfmts.AV_PIX_FMT_YUYV422),
	img.FormatUYVY:  gopixfmts.PixelFormat(gopixfmts.AV_PIX_FMT_UYVY422),
	img.FormatNV12:  gopixfmts.PixelFormat(gopixfmts.AV_PIX_FMT_NV12),
	img.FormatI420:  gopixfmts.PixelFormat(gopixfmts.AV_PIX_FMT_YUV420P),
	img.FormatP010:  gopixfmts.PixelFormat(gopixfmts.AV_PIX_FMT_P010LE),
	img.FormatRGB24: gopixfmts.PixelFormat(gopixfmts.AV_PIX_FMT_RGB24),
	img.FormatXRGB:  gopixfmts.PixelFormat(gopixfmts.AV_PIX_FMT_0RGB),
	img.FormatRGB:   gopixfmts.PixelFormat(gopixfmts.AV_PIX_FMT_RGB24),
}

// FamilyOf classifies format using gopixfmts' descriptor flags, falling
// back to MJPEG's YUV422 path (MJPEG has no direct libav pixel format of
// its own — it is JPEG-compressed YUV422).
func FamilyOf(format img.Format) Family {
	if format == img.FormatMJPEG {
		return FamilyYUV
	}
	pf, ok := pixFmtDescriptor[format]
	if !ok {
		return FamilyYUV
	}
	desc, err := gopixfmts.PixFmtDescGet(pf)
	if err != nil {
		return FamilyYUV
	}
	if desc.Flags()&uint64(gopixfmts.PixFmtFlagRGB) != 0 {
		return FamilyRGB
	}
	return FamilyYUV
}

// ChromaSubsampling returns the log2 chroma subsampling factors gopixfmts
// reports for format, used to validate that crop values are even for YUV
// inputs.
func ChromaSubsampling(format img.Format) (logW, logH int) {
	pf, ok := pixFmtDescriptor[format]
	if !ok {
		return 0, 0
	}
	desc, err := gopixfmts.PixFmtDescGet(pf)
	if err != nil {
		return 0, 0
	}
	return desc.Log2ChromaW(), desc.Log2ChromaH()
}

// lutDim is the edge length of the full calibration LUT: 256^3*3 bytes.
const lutDim = 256

// LUT is a preloaded 3D tone-mapping table, one per Family.
type LUT struct {
	family Family
	table  []byte // lutDim^3 * 3 bytes, indexed a*65536 + b*256 + c.
}

// LoadLUT reads a calibration LUT of the expected size from r.
func LoadLUT(r io.Reader, family Family) (*LUT, error) {
	want := lutDim * lutDim * lutDim * 3
	buf := make([]byte, want)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &LUT{family: family, table: buf}, nil
}

// Lookup returns the sRGB color the LUT maps (a,b,c) to.
func (l *LUT) Lookup(a, b, c uint8) img.RGB8 {
	i := (int(a)*lutDim*lutDim + int(b)*lutDim + int(c)) * 3
	return img.RGB8{R: l.table[i], G: l.table[i+1], B: l.table[i+2]}
}

// Crop specifies how many pixels to remove from each edge of the input
// before decoding. Values must be even for YUV inputs (sub-sampling
// constraint).
type Crop struct {
	Left, Right, Top, Bottom int
}

// Options bundles the Frame Decoder's configuration inputs
// the decode signature: (raw bytes, format, width, height, stride, crop, LUT,
// toneMapping, qframe).
type Options struct {
	Format      img.Format
	Width       int
	Height      int
	Stride      int
	Crop        Crop
	LUT         *LUT // required when ToneMapping is true.
	ToneMapping bool
	QFrame      bool // halve output dimensions.
}

// ErrMissingLUT is returned when ToneMapping is requested without a LUT, a
// fatal error
type ErrMissingLUT struct{}

func (ErrMissingLUT) Error() string { return "decode: tone mapping requested but no LUT loaded" }

// Decode converts raw into a packed sRGB-encoded RGB image per opts.
func Decode(raw []byte, opts Options) (*img.Image[img.RGB8], error) {
	if opts.ToneMapping && opts.LUT == nil {
		return nil, ErrMissingLUT{}
	}

	outW := opts.Width - opts.Crop.Left - opts.Crop.Right
	outH := opts.Height - opts.Crop.Top - opts.Crop.Bottom
	step := 1
	if opts.QFrame {
		step = 2
	}

	out := img.New[img.RGB8](img.FormatRGB)
	out.Resize(outW/step, outH/step)

	switch opts.Format {
	case img.FormatYUYV:
		decodeYUYV(raw, opts, out, step, false)
	case img.FormatUYVY:
		decodeYUYV(raw, opts, out, step, true)
	case img.FormatNV12:
		decodeNV12(raw, opts, out, step)
	case img.FormatI420:
		decodeI420(raw, opts, out, step)
	case img.FormatP010:
		decodeP010(raw, opts, out, step)
	case img.FormatRGB24, img.FormatXRGB:
		decodeRGBFamily(raw, opts, out, step)
	case img.FormatMJPEG:
		return decodeMJPEG(raw, opts)
	default:
		decodeRGBFamily(raw, opts, out, step)
	}
	return out, nil
}

func lutOrIdentityYUV(opts Options, y, u, v uint8) img.RGB8 {
	if opts.ToneMapping {
		return opts.LUT.Lookup(y, u, v)
	}
	return ycbcrToRGB(y, u, v)
}

func lutOrIdentityRGB(opts Options, r, g, b uint8) img.RGB8 {
	if opts.ToneMapping {
		return opts.LUT.Lookup(r, g, b)
	}
	return img.RGB8{R: r, G: g, B: b}
}

// ycbcrToRGB is the BT.601 YCbCr->RGB conversion used when tone mapping is
// disabled.
func ycbcrToRGB(y, cb, cr uint8) img.RGB8 {
	r, g, b := stdimage.YCbCrToRGB(y, cb, cr)
	return img.RGB8{R: r, G: g, B: b}
}

// decodeYUYV handles both YUYV and UYVY (byte order differs only in which
// half of each 4-byte group holds Y vs chroma), two pixels per 4 bytes,
// each pixel producing its own LUT lookup against the shared U,V pair.
func decodeYUYV(raw []byte, opts Options, out *img.Image[img.RGB8], step int, uFirst bool) {
	rowBytes := opts.Stride
	cropLeftBytes := (opts.Crop.Left / 2) * 4
	for oy := 0; oy < out.Height(); oy++ {
		iy := opts.Crop.Top + oy*step
		rowOff := iy*rowBytes + cropLeftBytes
		for ox := 0; ox < out.Width(); ox++ {
			pairOff := rowOff + (ox*step/2)*4
			if pairOff+3 >= len(raw) {
				continue
			}
			var y0, u, y1, v byte
			if uFirst {
				u, y0, v, y1 = raw[pairOff], raw[pairOff+1], raw[pairOff+2], raw[pairOff+3]
			} else {
				y0, u, y1, v = raw[pairOff], raw[pairOff+1], raw[pairOff+2], raw[pairOff+3]
			}
			y := y0
			if (ox*step)%2 == 1 {
				y = y1
			}
			out.Set(ox, oy, lutOrIdentityYUV(opts, y, u, v))
		}
	}
}

// decodeNV12 handles a Y plane followed by an interleaved UV half-plane.
func decodeNV12(raw []byte, opts Options, out *img.Image[img.RGB8], step int) {
	ySize := opts.Stride * opts.Height
	for oy := 0; oy < out.Height(); oy++ {
		iy := opts.Crop.Top + oy*step
		for ox := 0; ox < out.Width(); ox++ {
			ix := opts.Crop.Left + ox*step
			yOff := iy*opts.Stride + ix
			uvOff := ySize + (iy/2)*opts.Stride + (ix/2)*2
			if yOff >= len(raw) || uvOff+1 >= len(raw) {
				continue
			}
			out.Set(ox, oy, lutOrIdentityYUV(opts, raw[yOff], raw[uvOff], raw[uvOff+1]))
		}
	}
}

// decodeI420 handles a Y plane plus separate quarter-resolution U,V planes.
func decodeI420(raw []byte, opts Options, out *img.Image[img.RGB8], step int) {
	ySize := opts.Stride * opts.Height
	cStride := opts.Stride / 2
	cSize := cStride * (opts.Height / 2)
	for oy := 0; oy < out.Height(); oy++ {
		iy := opts.Crop.Top + oy*step
		for ox := 0; ox < out.Width(); ox++ {
			ix := opts.Crop.Left + ox*step
			yOff := iy*opts.Stride + ix
			cOff := (iy/2)*cStride + (ix / 2)
			uOff := ySize + cOff
			vOff := ySize + cSize + cOff
			if yOff >= len(raw) || vOff >= len(raw) {
				continue
			}
			out.Set(ox, oy, lutOrIdentityYUV(opts, raw[yOff], raw[uOff], raw[vOff]))
		}
	}
}

// decodeP010 handles 10-bit-in-16-bit little-endian YUV. When tone mapping
// is off the sample is right-shifted by 8 to approximate 8-bit YUV; when
// on, the LUT is still 8-bit-indexed, so the top 8 bits of each component
// select the entry.
func decodeP010(raw []byte, opts Options, out *img.Image[img.RGB8], step int) {
	ySize := opts.Stride * opts.Height
	sample := func(off int) uint8 {
		if off+1 >= len(raw) {
			return 0
		}
		v16 := uint16(raw[off]) | uint16(raw[off+1])<<8
		return uint8(v16 >> 8)
	}
	for oy := 0; oy < out.Height(); oy++ {
		iy := opts.Crop.Top + oy*step
		for ox := 0; ox < out.Width(); ox++ {
			ix := opts.Crop.Left + ox*step
			yOff := (iy*opts.Stride + ix) * 2
			uvOff := ySize + (iy/2)*opts.Stride + (ix/2)*2
			y := sample(yOff)
			u := sample(uvOff)
			v := sample(uvOff + 2)
			out.Set(ox, oy, lutOrIdentityYUV(opts, y, u, v))
		}
	}
}

// decodeRGBFamily handles RGB24/XRGB: the input is vertically flipped, so
// row (height-1-iy) supplies output row oy. When tone mapping is off,
// channels are simply copied BGR->RGB
func decodeRGBFamily(raw []byte, opts Options, out *img.Image[img.RGB8], step int) {
	bpp := 3
	if opts.Format == img.FormatXRGB {
		bpp = 4
	}
	for oy := 0; oy < out.Height(); oy++ {
		iy := opts.Crop.Top + oy*step
		flippedY := opts.Height - 1 - iy
		for ox := 0; ox < out.Width(); ox++ {
			ix := opts.Crop.Left + ox*step
			off := flippedY*opts.Stride + ix*bpp
			if off+2 >= len(raw) {
				continue
			}
			b, g, r := raw[off], raw[off+1], raw[off+2]
			out.Set(ox, oy, lutOrIdentityRGB(opts, r, g, b))
		}
	}
}

// decodeMJPEG JPEG-decodes raw to YCbCr via the standard library's
// baseline decoder, then passes each retained pixel's Y,Cb,Cr through the
// same LUT-or-BT.601 conversion the YUYV path uses.
func decodeMJPEG(raw []byte, opts Options) (*img.Image[img.RGB8], error) {
	decoded, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	yuv, ok := decoded.(*stdimage.YCbCr)
	if !ok {
		return decodeMJPEGGeneric(decoded, opts)
	}

	step := 1
	if opts.QFrame {
		step = 2
	}
	b := yuv.Bounds()
	outW := (b.Dx() - opts.Crop.Left - opts.Crop.Right) / step
	outH := (b.Dy() - opts.Crop.Top - opts.Crop.Bottom) / step
	out := img.New[img.RGB8](img.FormatRGB)
	out.Resize(outW, outH)

	for oy := 0; oy < outH; oy++ {
		iy := b.Min.Y + opts.Crop.Top + oy*step
		for ox := 0; ox < outW; ox++ {
			ix := b.Min.X + opts.Crop.Left + ox*step
			yi := yuv.YOffset(ix, iy)
			ci := yuv.COffset(ix, iy)
			if yi >= len(yuv.Y) || ci >= len(yuv.Cb) || ci >= len(yuv.Cr) {
				continue
			}
			out.Set(ox, oy, lutOrIdentityYUV(opts, yuv.Y[yi], yuv.Cb[ci], yuv.Cr[ci]))
		}
	}
	return out, nil
}

// decodeMJPEGGeneric handles the rare non-YCbCr JPEG (e.g. a grayscale
// frame) by falling back to the stdlib color model's RGBA conversion.
func decodeMJPEGGeneric(decoded stdimage.Image, opts Options) (*img.Image[img.RGB8], error) {
	step := 1
	if opts.QFrame {
		step = 2
	}
	b := decoded.Bounds()
	outW := (b.Dx() - opts.Crop.Left - opts.Crop.Right) / step
	outH := (b.Dy() - opts.Crop.Top - opts.Crop.Bottom) / step
	out := img.New[img.RGB8](img.FormatRGB)
	out.Resize(outW, outH)
	for oy := 0; oy < outH; oy++ {
		iy := b.Min.Y + opts.Crop.Top + oy*step
		for ox := 0; ox < outW; ox++ {
			ix := b.Min.X + opts.Crop.Left + ox*step
			r, g, bl, _ := decoded.At(ix, iy).RGBA()
			out.Set(ox, oy, img.RGB8{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(bl >> 8)})
		}
	}
	return out, nil
}
