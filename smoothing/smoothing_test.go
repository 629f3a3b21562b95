package smoothing

import (
	"math"
	"testing"
	"time"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// TestSettlingTimeStep: with settlingTime=200ms,
// updateFrequency=50Hz, target jumps 0->255 at t=0; value at t=200ms must be
// >=229 (~90%) and monotonically non-decreasing.
func TestSettlingTimeStep(t *testing.T) {
	e := NewEngine(map[int]Config{0: {ID: 0, SettlingTimeMs: 200, UpdateFrequencyHz: 50}})
	e.SetTarget([]colorspace.Rgb{{R: 255}}, 0)

	start := time.Now()
	e.lastTick = start
	dt := 20 * time.Millisecond // 1/50Hz
	now := start
	var last float64
	for i := 0; i < 10; i++ { // 10 * 20ms == 200ms
		now = now.Add(dt)
		e.tick(now)
		if e.state[0].R < last-1e-9 {
			t.Fatalf("state decreased: step %d, now %v, was %v", i, e.state[0].R, last)
		}
		last = e.state[0].R
	}
	if last < 229 {
		t.Errorf("value at t=200ms = %v, want >= 229 (~90%% of step)", last)
	}
}

func TestDirectModePassesThrough(t *testing.T) {
	e := NewEngine(map[int]Config{1: {ID: 1, SettlingTimeMs: 200, UpdateFrequencyHz: 50, DirectMode: true}})
	e.SetTarget([]colorspace.Rgb{{R: 255}}, 1)
	e.lastTick = time.Now()
	e.tick(e.lastTick.Add(time.Millisecond))
	if e.state[0].R != 255 {
		t.Errorf("direct mode state = %v, want 255 immediately", e.state[0].R)
	}
}

func TestNegativeIDMeansDisabled(t *testing.T) {
	e := NewEngine(nil)
	e.SetTarget([]colorspace.Rgb{{R: 128}}, -1)
	e.lastTick = time.Now()
	e.tick(e.lastTick.Add(time.Millisecond))
	if e.state[0].R != 128 {
		t.Errorf("negative config id did not disable smoothing: state = %v", e.state[0].R)
	}
}

func TestPauseSuppressesEmission(t *testing.T) {
	e := NewEngine(nil)
	e.SetTarget([]colorspace.Rgb{{R: 255}}, 0)
	var emitted int
	e.emit = func([]colorspace.Rgb) { emitted++ }
	e.Pause()
	e.lastTick = time.Now()
	e.tick(e.lastTick.Add(20 * time.Millisecond))
	if emitted != 0 {
		t.Errorf("expected no emission while paused, got %d", emitted)
	}
	e.Resume()
	e.tick(e.lastTick.Add(20 * time.Millisecond))
	if emitted != 1 {
		t.Errorf("expected emission after resume, got %d", emitted)
	}
}

func TestStateContinuesUpdatingWhilePaused(t *testing.T) {
	e := NewEngine(nil)
	e.SetTarget([]colorspace.Rgb{{R: 255}}, 0)
	e.Pause()
	e.lastTick = time.Now()
	e.tick(e.lastTick.Add(20 * time.Millisecond))
	if e.state[0].R == 0 {
		t.Errorf("state should still advance while paused")
	}
}

func TestTickIntervalMatchesFrequency(t *testing.T) {
	e := NewEngine(map[int]Config{0: {ID: 0, SettlingTimeMs: 200, UpdateFrequencyHz: 25}})
	got := e.tickInterval()
	want := 40 * time.Millisecond
	if math.Abs(float64(got-want)) > float64(time.Microsecond) {
		t.Errorf("tickInterval() = %v, want %v", got, want)
	}
}
