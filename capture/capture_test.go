package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	img "github.com/hyperhdr/hyperhdr/image"
)

func TestSelectModeStrictMatch(t *testing.T) {
	modes := []Mode{
		{Width: 1920, Height: 1080, FPS: 30, PixelFormat: img.FormatYUYV},
		{Width: 1280, Height: 720, FPS: 30, PixelFormat: img.FormatYUYV},
	}
	want := Mode{Width: 1280, Height: 720, FPS: 30, PixelFormat: img.FormatYUYV}
	got, ok := SelectMode(modes, want)
	if !ok || got != want {
		t.Fatalf("SelectMode strict = %+v, %v; want %+v, true", got, ok, want)
	}
}

func TestSelectModeBestGuessLargeWidth(t *testing.T) {
	modes := []Mode{
		{Width: 1920, Height: 1080, FPS: 30},
		{Width: 1920, Height: 1080, FPS: 15},
		{Width: 640, Height: 480, FPS: 30},
	}
	// No strict match for a 1024x768@25 request: best guess among width>=640.
	got, ok := SelectMode(modes, Mode{Width: 1024, Height: 768, FPS: 25})
	if !ok {
		t.Fatal("expected a best-guess match")
	}
	if got.Width != 640 {
		t.Errorf("expected smallest width>=640 chosen, got %+v", got)
	}
}

func TestSelectModeWideWidthHoldsFPSFloor(t *testing.T) {
	modes := []Mode{
		{Width: 1920, Height: 1080, FPS: 5},
		{Width: 1920, Height: 1080, FPS: 60},
		{Width: 1920, Height: 1080, FPS: 15},
	}
	got, ok := SelectMode(modes, Mode{Width: 1024, Height: 768, FPS: 25})
	if !ok || got.FPS != 15 {
		t.Fatalf("got %+v, %v; want the smallest fps >= 10 (15)", got, ok)
	}

	// With every candidate below the floor, the largest fps is the least
	// bad choice.
	subFloor := []Mode{
		{Width: 1920, Height: 1080, FPS: 5},
		{Width: 1920, Height: 1080, FPS: 8},
	}
	got, ok = SelectMode(subFloor, Mode{Width: 1024, Height: 768, FPS: 25})
	if !ok || got.FPS != 8 {
		t.Fatalf("got %+v, %v; want the largest sub-floor fps (8)", got, ok)
	}
}

func TestSelectModeNoCandidates(t *testing.T) {
	_, ok := SelectMode([]Mode{{Width: 320, Height: 240, FPS: 30}}, Mode{Width: 1024, Height: 768})
	if ok {
		t.Fatal("expected no match below the 640px floor")
	}
}

func TestPoolBackpressureDropsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	decode := func(RawFrame) (*img.Image[img.RGB8], error) {
		started.Done()
		<-release
		return img.New[img.RGB8](img.FormatRGB), nil
	}
	p := NewPool(1, 1, decode, nil, nil)
	p.Submit(RawFrame{})
	started.Wait() // the single worker is now blocked in decode.

	p.Submit(RawFrame{}) // should be dropped: no free worker.
	close(release)
	p.Wait()

	stats := p.Stats()
	if stats.GoodFrames != 1 || stats.BadFrames != 1 {
		t.Fatalf("stats = %+v, want 1 good / 1 bad", stats)
	}
}

func TestPoolDecimation(t *testing.T) {
	var decoded atomic.Int64
	decode := func(RawFrame) (*img.Image[img.RGB8], error) {
		decoded.Add(1)
		return img.New[img.RGB8](img.FormatRGB), nil
	}
	p := NewPool(4, 3, decode, nil, nil)
	for i := 0; i < 9; i++ {
		p.Submit(RawFrame{})
	}
	p.Wait()
	if decoded.Load() != 3 {
		t.Errorf("decoded = %d, want 3 (every 3rd frame of 9)", decoded.Load())
	}
	if p.Stats().Skipped != 6 {
		t.Errorf("skipped = %d, want 6", p.Stats().Skipped)
	}
}

func TestPoolDecodeErrorCountsBad(t *testing.T) {
	decode := func(RawFrame) (*img.Image[img.RGB8], error) { return nil, errors.New("boom") }
	var badCalls atomic.Int64
	p := NewPool(1, 1, decode, nil, func() { badCalls.Add(1) })
	p.Submit(RawFrame{})
	p.Wait()
	time.Sleep(10 * time.Millisecond)
	if badCalls.Load() != 1 {
		t.Errorf("onBad called %d times, want 1", badCalls.Load())
	}
}
