package mux

import (
	"testing"
	"time"

	"github.com/hyperhdr/hyperhdr/colorspace"
	"github.com/hyperhdr/hyperhdr/internal/testlog"
)

func testLogger() *testlog.Logger { return testlog.New() }

func TestBootToBlack(t *testing.T) {
	m := New(testLogger())
	defer m.Close()
	if got := m.Visible(); got != LowestPriority {
		t.Fatalf("Visible() = %d, want LowestPriority", got)
	}
}

func TestPriorityBeatsLower(t *testing.T) {
	m := New(testLogger())
	defer m.Close()

	m.RegisterInput(50, "effect", "rainbow", "test", 0)
	m.SetInput(50, []colorspace.Rgb{{R: 1}}, -1)
	if m.Visible() != 50 {
		t.Fatalf("Visible() = %d, want 50", m.Visible())
	}

	m.RegisterInput(30, "color", "static", "test", 0)
	m.SetInput(30, []colorspace.Rgb{{R: 255}}, 1000)
	if m.Visible() != 30 {
		t.Fatalf("Visible() = %d, want 30", m.Visible())
	}

	time.Sleep(1100 * time.Millisecond)
	m.SetInput(50, []colorspace.Rgb{{R: 2}}, -1) // force a reselect via mutation
	if m.Visible() != 50 {
		t.Fatalf("after priority 30 expiry, Visible() = %d, want 50", m.Visible())
	}
}

func TestExpiredChannelNeverStaysVisible(t *testing.T) {
	m := New(testLogger())
	defer m.Close()
	m.RegisterInput(10, "x", "x", "x", 0)
	m.SetInput(10, []colorspace.Rgb{{}}, 0)
	time.Sleep(5 * time.Millisecond)
	m.RegisterInput(20, "y", "y", "y", 0) // trigger reselect
	m.SetInput(20, []colorspace.Rgb{{}}, -1)
	if m.Visible() == 10 {
		t.Errorf("expired priority 10 should not remain visible")
	}
}

func TestClearInput(t *testing.T) {
	m := New(testLogger())
	defer m.Close()
	m.RegisterInput(5, "a", "a", "a", 0)
	m.SetInput(5, []colorspace.Rgb{{}}, -1)
	if m.Visible() != 5 {
		t.Fatalf("expected 5 visible")
	}
	m.ClearInput(5)
	if m.Visible() != LowestPriority {
		t.Fatalf("expected LowestPriority after clear, got %d", m.Visible())
	}
}

func TestSetInputInactiveHidesWithoutRemoving(t *testing.T) {
	m := New(testLogger())
	defer m.Close()
	m.RegisterInput(5, "a", "a", "a", 0)
	m.SetInput(5, []colorspace.Rgb{{}}, -1)
	if m.Visible() != 5 {
		t.Fatalf("expected 5 visible")
	}

	m.SetInputInactive(5)
	if m.Visible() == 5 {
		t.Fatal("dormant channel should not stay visible")
	}

	// The channel must survive dormancy: a plain SetInput (no re-register)
	// revives it.
	if !m.SetInput(5, []colorspace.Rgb{{R: 9}}, -1) {
		t.Fatal("SetInput on a dormant channel failed; channel was removed")
	}
	if m.Visible() != 5 {
		t.Fatalf("revived channel not visible: Visible() = %d", m.Visible())
	}
}

func TestDeadlineExpiryRemovesChannel(t *testing.T) {
	m := New(testLogger())
	defer m.Close()
	m.RegisterInput(5, "a", "a", "a", 0)
	m.SetInput(5, []colorspace.Rgb{{}}, 20)

	time.Sleep(50 * time.Millisecond)
	m.RegisterInput(10, "b", "b", "b", 0) // trigger a reselect sweep
	if m.SetInput(5, []colorspace.Rgb{{}}, -1) {
		t.Fatal("SetInput succeeded on a deadline-expired channel; expiry should garbage-collect it")
	}
}

func TestManualModeRevertsOnExpiry(t *testing.T) {
	m := New(testLogger())
	defer m.Close()
	m.RegisterInput(5, "a", "a", "a", 0)
	m.SetInput(5, []colorspace.Rgb{{}}, 50)
	m.RegisterInput(10, "b", "b", "b", 0)
	m.SetInput(10, []colorspace.Rgb{{}}, -1)

	m.SetManual(5)
	if m.Visible() != 5 {
		t.Fatalf("manual pin failed: Visible() = %d", m.Visible())
	}

	time.Sleep(80 * time.Millisecond)
	m.SetInput(10, []colorspace.Rgb{{}}, -1) // trigger reselect
	if m.Visible() != 10 {
		t.Fatalf("expected fallback to auto after manual priority expiry, got %d", m.Visible())
	}
}
