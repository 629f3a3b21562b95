package image

import "testing"

func TestResizeReusesBacking(t *testing.T) {
	im := New[RGB8](FormatRGB)
	im.Resize(4, 4)
	im.Set(1, 1, RGB8{1, 2, 3})
	backing := im.Pixels()

	im.Resize(2, 2)
	if im.Width() != 2 || im.Height() != 2 {
		t.Fatalf("unexpected dims after shrink")
	}
	im.Resize(4, 4)
	if &im.Pixels()[0] != &backing[0] {
		t.Errorf("expected Resize to reuse the existing backing array")
	}
}

func TestAtSet(t *testing.T) {
	im := New[RGB8](FormatRGB)
	im.Resize(3, 2)
	im.Set(2, 1, RGB8{9, 9, 9})
	if got := im.At(2, 1); got != (RGB8{9, 9, 9}) {
		t.Errorf("At = %+v", got)
	}
}

func TestClampRect(t *testing.T) {
	r := ClampRect(100, 100, 0.1, 0.2, 0.1, 0.2)
	if r.X0 != 10 || r.X1 != 20 || r.Y0 != 10 || r.Y1 != 20 {
		t.Errorf("unexpected rect: %+v", r)
	}
	// Degenerate region still yields at least 1x1.
	r = ClampRect(10, 10, 0.95, 0.951, 0.95, 0.951)
	if r.X1 <= r.X0 || r.Y1 <= r.Y0 {
		t.Errorf("expected non-empty rect, got %+v", r)
	}
}
