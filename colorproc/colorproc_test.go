package colorproc

import (
	"testing"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// TestIdentityIsNoop verifies that with Identity() settings and no
// calibration, Process reduces to colorspace.Encode.
func TestIdentityIsNoop(t *testing.T) {
	p := NewProcessor()
	in := []colorspace.Linear{{R: 0.2, G: 0.5, B: 0.8}}
	out := p.Process(in)
	want := colorspace.Encode(in[0])
	if out[0] != want {
		t.Errorf("Process(identity) = %+v, want %+v", out[0], want)
	}
}

func TestTemperatureTint(t *testing.T) {
	p := NewProcessor()
	s := Identity()
	s.Temperature = colorspace.Linear{R: 0.5, G: 1, B: 1}
	p.SetSettings(s)
	in := []colorspace.Linear{{R: 1, G: 1, B: 1}}
	out := p.Process(in)
	if out[0].R >= out[0].G {
		t.Errorf("expected tinted red channel to be reduced: got %+v", out[0])
	}
}

func TestScaleOutputDims(t *testing.T) {
	p := NewProcessor()
	s := Identity()
	s.ScaleOutput = 0.5
	p.SetSettings(s)
	full := p.Process([]colorspace.Linear{{R: 1, G: 1, B: 1}})
	half := p.Process([]colorspace.Linear{{R: 0.5, G: 0.5, B: 0.5}})
	if full[0].R >= 255 {
		t.Errorf("ScaleOutput=0.5 left white undimmed: %+v", full[0])
	}
	if half[0].R == 0 {
		t.Errorf("unexpected zero output")
	}
}

func TestCalibrationMatrixIdentity(t *testing.T) {
	p := NewProcessor()
	p.SetCalibration(&CalibrationSnapshot{
		PrimaryOnly: true,
		Matrix:      Matrix3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	})
	in := []colorspace.Linear{{R: 0.3, G: 0.6, B: 0.9}}
	out := p.Process(in)
	want := colorspace.Encode(in[0])
	if out[0] != want {
		t.Errorf("identity matrix calibration changed output: got %+v, want %+v", out[0], want)
	}
}

func TestTetrahedralLUTIdentityCorners(t *testing.T) {
	corners := DefaultCorners()
	lut := BuildTetrahedralLUT(corners)
	snap := &CalibrationSnapshot{LUT: lut}

	white := snap.lookup(colorspace.Linear{R: 1, G: 1, B: 1})
	if white.R < 0.99 || white.G < 0.99 || white.B < 0.99 {
		t.Errorf("white corner lookup = %+v, want ~(1,1,1)", white)
	}
	black := snap.lookup(colorspace.Linear{})
	if black.R > 0.01 || black.G > 0.01 || black.B > 0.01 {
		t.Errorf("black corner lookup = %+v, want ~(0,0,0)", black)
	}
}

func TestGammaIdentity(t *testing.T) {
	p := NewProcessor()
	in := []colorspace.Linear{{R: 0.4, G: 0.4, B: 0.4}}
	out := p.Process(in)
	want := colorspace.Encode(in[0])
	if out[0] != want {
		t.Errorf("gamma=1 changed output: got %+v, want %+v", out[0], want)
	}
}

func TestBacklightElevatesDimColors(t *testing.T) {
	p := NewProcessor()
	s := Identity()
	s.BacklightMin = 0.2
	s.BacklightMode = BacklightColored
	p.SetSettings(s)
	in := []colorspace.Linear{{R: 0.01, G: 0.01, B: 0.01}}
	out := p.Process(in)
	if out[0].R == 0 {
		t.Errorf("expected backlight to elevate near-black color, got %+v", out[0])
	}
}

func TestPowerLimitReducesTotal(t *testing.T) {
	p := NewProcessor()
	s := Identity()
	s.PowerLimit = 0.1
	p.SetSettings(s)
	in := make([]colorspace.Linear, 10)
	for i := range in {
		in[i] = colorspace.Linear{R: 1, G: 1, B: 1}
	}
	out := p.Process(in)
	var sum float64
	for _, c := range out {
		sum += float64(c.R) + float64(c.G) + float64(c.B)
	}
	limitSum := 3 * float64(len(in)) * s.PowerLimit * 255
	if sum > limitSum+float64(len(in))*3 { // allow quantization slack
		t.Errorf("power limit not enforced: sum=%v, limit=%v", sum, limitSum)
	}
}

func TestByteOrderSwapAppliedLast(t *testing.T) {
	p := NewProcessor()
	s := Identity()
	s.ByteOrder = colorspace.OrderGRB
	p.SetSettings(s)
	in := []colorspace.Linear{{R: 1, G: 0, B: 0}}
	out := p.Process(in)
	plain := colorspace.Encode(in[0])
	want := colorspace.Swap(plain, colorspace.OrderGRB)
	if out[0] != want {
		t.Errorf("byte order swap = %+v, want %+v", out[0], want)
	}
}
