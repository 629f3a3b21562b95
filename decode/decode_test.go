package decode

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	img "github.com/hyperhdr/hyperhdr/image"
)

// TestYUYVGrey verifies a flat mid-grey YUYV frame decodes to an
// approximately neutral-grey RGB image with no tone mapping.
func TestYUYVGrey(t *testing.T) {
	const w, h = 4, 2
	raw := make([]byte, w*h*2) // 2 bytes/pixel for YUYV.
	for i := 0; i < len(raw); i += 4 {
		raw[i] = 128   // Y0
		raw[i+1] = 128 // U
		raw[i+2] = 128 // Y1
		raw[i+3] = 128 // V
	}
	out, err := Decode(raw, Options{Format: img.FormatYUYV, Width: w, Height: h, Stride: w * 2})
	if err != nil {
		t.Fatal(err)
	}
	if out.Width() != w || out.Height() != h {
		t.Fatalf("size = %dx%d, want %dx%d", out.Width(), out.Height(), w, h)
	}
	p := out.At(0, 0)
	if p.R < 100 || p.R > 160 {
		t.Errorf("expected near-neutral grey, got %+v", p)
	}
}

// TestQFrameHalvesDimensions checks the quarter-frame output contract.
func TestQFrameHalvesDimensions(t *testing.T) {
	const w, h = 8, 4
	raw := make([]byte, w*h*2)
	out, err := Decode(raw, Options{Format: img.FormatYUYV, Width: w, Height: h, Stride: w * 2, QFrame: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Width() != w/2 || out.Height() != h/2 {
		t.Fatalf("qframe size = %dx%d, want %dx%d", out.Width(), out.Height(), w/2, h/2)
	}
}

// TestMissingLUTIsFatal verifies the documented fatal-error contract.
func TestMissingLUTIsFatal(t *testing.T) {
	_, err := Decode(nil, Options{Format: img.FormatYUYV, ToneMapping: true})
	if err == nil {
		t.Fatal("expected error for tone mapping without LUT")
	}
	if _, ok := err.(ErrMissingLUT); !ok {
		t.Fatalf("expected ErrMissingLUT, got %T", err)
	}
}

// TestLUTLookupIdentity verifies a LUT loaded with the identity mapping
// (table[a][b][c] == (a,b,c)) returns its index unchanged from Lookup.
func TestLUTLookupIdentity(t *testing.T) {
	table := make([]byte, lutDim*lutDim*lutDim*3)
	for a := 0; a < lutDim; a++ {
		for b := 0; b < lutDim; b++ {
			for c := 0; c < lutDim; c++ {
				i := (a*lutDim*lutDim + b*lutDim + c) * 3
				table[i], table[i+1], table[i+2] = byte(a), byte(b), byte(c)
			}
		}
	}
	lut := &LUT{family: FamilyRGB, table: table}
	got := lut.Lookup(10, 20, 30)
	if got.R != 10 || got.G != 20 || got.B != 30 {
		t.Errorf("identity LUT lookup = %+v", got)
	}
}

// TestRGB24VerticalFlip verifies the documented vertical flip for RGB24
// input.
func TestRGB24VerticalFlip(t *testing.T) {
	const w, h = 2, 2
	raw := make([]byte, w*h*3)
	// Row 0 (top of buffer) is blue; row 1 (bottom of buffer) is red.
	for x := 0; x < w; x++ {
		off := x * 3
		raw[off], raw[off+1], raw[off+2] = 255, 0, 0 // B,G,R -> blue pixel (B=255)
	}
	for x := 0; x < w; x++ {
		off := w*3 + x*3
		raw[off], raw[off+1], raw[off+2] = 0, 0, 255 // B,G,R -> red pixel (R=255)
	}
	out, err := Decode(raw, Options{Format: img.FormatRGB24, Width: w, Height: h, Stride: w * 3})
	if err != nil {
		t.Fatal(err)
	}
	// Input row 1 (red) maps to output row 0 after the vertical flip.
	top := out.At(0, 0)
	if top.R != 255 {
		t.Errorf("expected flipped row 0 to be red, got %+v", top)
	}
}

// TestQFrameToneMappedRGB24 exercises the quarter-frame + tone-mapping +
// RGB24 combination: pixels are subsampled first, then each retained
// output pixel goes through the LUT exactly once, on top of the usual
// vertical flip.
func TestQFrameToneMappedRGB24(t *testing.T) {
	// Halving LUT: table[r][g][b] = (r/2, g/2, b/2). A value of 200 in maps
	// to 100 out; 50 would mean a double lookup, 200 a skipped one.
	table := make([]byte, lutDim*lutDim*lutDim*3)
	for a := 0; a < lutDim; a++ {
		for b := 0; b < lutDim; b++ {
			for c := 0; c < lutDim; c++ {
				i := (a*lutDim*lutDim + b*lutDim + c) * 3
				table[i], table[i+1], table[i+2] = byte(a/2), byte(b/2), byte(c/2)
			}
		}
	}
	lut := &LUT{family: FamilyRGB, table: table}

	const w, h = 4, 4
	raw := make([]byte, w*h*3) // BGR rows, bottom-up on the wire.
	for x := 0; x < w; x++ {
		off := 3*w*3 + x*3
		raw[off], raw[off+1], raw[off+2] = 0, 0, 200 // buffer row 3: red.
	}
	for x := 0; x < w; x++ {
		off := 1*w*3 + x*3
		raw[off], raw[off+1], raw[off+2] = 0, 200, 0 // buffer row 1: green.
	}

	out, err := Decode(raw, Options{
		Format: img.FormatRGB24, Width: w, Height: h, Stride: w * 3,
		QFrame: true, ToneMapping: true, LUT: lut,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.Width() != w/2 || out.Height() != h/2 {
		t.Fatalf("size = %dx%d, want %dx%d", out.Width(), out.Height(), w/2, h/2)
	}
	// Output row 0 subsamples input row 0, which the flip sources from
	// buffer row 3 (red); output row 1 comes from buffer row 1 (green).
	if top := out.At(0, 0); top.R != 100 || top.G != 0 || top.B != 0 {
		t.Errorf("row 0 = %+v, want tone-mapped red (R=100)", top)
	}
	if bottom := out.At(1, 1); bottom.G != 100 || bottom.R != 0 || bottom.B != 0 {
		t.Errorf("row 1 = %+v, want tone-mapped green (G=100)", bottom)
	}
}

// TestMJPEGDecodesViaYUYVPath verifies a round-tripped solid-color JPEG
// decodes to an approximately matching RGB image.
func TestMJPEGDecodesViaYUYVPath(t *testing.T) {
	const w, h = 16, 16
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Set(x, y, image.NewUniform(image.Black).At(0, 0))
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	out, err := Decode(buf.Bytes(), Options{Format: img.FormatMJPEG, Width: w, Height: h})
	if err != nil {
		t.Fatal(err)
	}
	if out.Width() != w || out.Height() != h {
		t.Fatalf("size = %dx%d, want %dx%d", out.Width(), out.Height(), w, h)
	}
	p := out.At(0, 0)
	if p.R > 10 || p.G > 10 || p.B > 10 {
		t.Errorf("expected near-black decode, got %+v", p)
	}
}
