/*
NAME
  capture.go

DESCRIPTION
  capture implements the Capture Grabber contract: device
  enumeration, mode selection, a bounded decode worker pool with
  back-pressure drop, software frame-skipping and the quarter-frame flag.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package capture implements frame-source grabbers and the bounded decode
// worker pool that turns their raw output into decoded images.
package capture

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/GreatValueCreamSoda/gometrics/blockingpool"
	img "github.com/hyperhdr/hyperhdr/image"
)

// Mode describes one capture mode a Grabber can be started in.
type Mode struct {
	Width, Height int
	FPS           int
	PixelFormat   img.Format
	InputIndex    int
}

// DeviceInfo describes one enumerated capture device.
type DeviceInfo struct {
	DeviceKey    string
	FriendlyName string
	Inputs       int
	ValidModes   []Mode
}

// RawFrame is one undecoded frame handed from a Grabber to the worker pool.
type RawFrame struct {
	Data      []byte
	Format    img.Format
	Width     int
	Height    int
	Stride    int
	Crop      DecodeCrop
	Timestamp int64
}

// DecodeCrop mirrors decode.Crop without importing the decode package,
// keeping capture decode-library-agnostic; callers wire the conversion.
type DecodeCrop struct{ Left, Right, Top, Bottom int }

// Grabber is the public contract every capture source implements.
type Grabber interface {
	Enumerate() ([]DeviceInfo, error)
	Start(mode Mode) error
	Stop() error
	IsRunning() bool

	SetBrightness(v float64) error
	SetContrast(v float64) error
	SetSaturation(v float64) error
	SetHue(v float64) error
}

// SelectMode implements the mode-selection rule: a strict match on every
// user-specified (non-zero) field, or failing that a best guess — the
// smallest width ≥640 such that (w>800 ⇒ smallest fps ≥10) or
// (w≤800 ⇒ largest fps). Ties resolve to the first mode encountered.
func SelectMode(modes []Mode, want Mode) (Mode, bool) {
	for _, m := range modes {
		if strictMatch(m, want) {
			return m, true
		}
	}

	var best Mode
	found := false
	for _, m := range modes {
		if m.Width < 640 {
			continue
		}
		if !found || m.Width < best.Width {
			best, found = m, true
			continue
		}
		if m.Width != best.Width {
			continue
		}
		if betterFPS(m, best) {
			best = m
		}
	}
	return best, found
}

// strictMatch requires every user-specified field of want to match; a zero
// field is "unspecified" and matches anything.
func strictMatch(m, want Mode) bool {
	if want.Width != 0 && m.Width != want.Width {
		return false
	}
	if want.Height != 0 && m.Height != want.Height {
		return false
	}
	if want.FPS != 0 && m.FPS != want.FPS {
		return false
	}
	if want.PixelFormat != img.FormatUnknown && m.PixelFormat != want.PixelFormat {
		return false
	}
	if want.InputIndex != 0 && m.InputIndex != want.InputIndex {
		return false
	}
	return true
}

// betterFPS orders same-width candidates. Above 800px wide the rule wants
// the smallest fps that is still ≥10, so any ≥10 mode beats a sub-10 one
// and among sub-10 modes the largest (closest to the floor) wins; at or
// below 800px the largest fps wins outright.
func betterFPS(m, best Mode) bool {
	if m.Width > 800 {
		mAbove, bestAbove := m.FPS >= 10, best.FPS >= 10
		switch {
		case mAbove && !bestAbove:
			return true
		case !mAbove && bestAbove:
			return false
		case mAbove:
			return m.FPS < best.FPS
		default:
			return m.FPS > best.FPS
		}
	}
	return m.FPS > best.FPS
}

// DecodeFunc converts one RawFrame into a decoded RGB image.
type DecodeFunc func(RawFrame) (*img.Image[img.RGB8], error)

// Stats exposes the worker pool's running counters, read by perfstat.
type Stats struct {
	GoodFrames uint64
	BadFrames  uint64
	Skipped    uint64
}

// Pool is the bounded decode worker pool.
// Capacity defaults to runtime.NumCPU(); set to 1 to effectively disable
// parallel decode. Each worker holds one scratch image from a
// blockingpool-backed pool sized to match worker capacity for the length
// of its decode; the scratch image is not handed to DecodeFunc, which
// allocates and returns its own output image for every frame.
type Pool struct {
	tokens  chan struct{}
	scratch blockingpool.BlockingPool[*img.Image[img.RGB8]]
	decode  DecodeFunc
	onFrame func(*img.Image[img.RGB8])
	onBad   func()

	decimation int64
	counter    int64

	good, bad, skipped atomic.Uint64

	wg sync.WaitGroup
}

// NewPool returns a Pool with the given worker capacity (0 means
// runtime.NumCPU()) and decimation factor (0 or 1 means no frame
// skipping).
func NewPool(capacity int, decimation int, decode DecodeFunc, onFrame func(*img.Image[img.RGB8]), onBad func()) *Pool {
	if capacity <= 0 {
		capacity = runtime.NumCPU()
	}
	if capacity <= 0 {
		capacity = 1
	}
	if decimation <= 0 {
		decimation = 1
	}
	p := &Pool{
		tokens:     make(chan struct{}, capacity),
		scratch:    blockingpool.NewBlockingPool[*img.Image[img.RGB8]](capacity),
		decode:     decode,
		onFrame:    onFrame,
		onBad:      onBad,
		decimation: int64(decimation),
	}
	for i := 0; i < capacity; i++ {
		p.tokens <- struct{}{}
		p.scratch.Put(img.New[img.RGB8](img.FormatRGB))
	}
	return p
}

// Submit hands raw to the worker pool. If every worker is busy, raw is
// dropped and the bad-frame counter is incremented; Submit
// never blocks the caller.
func (p *Pool) Submit(raw RawFrame) {
	n := atomic.AddInt64(&p.counter, 1)
	if n%p.decimation != 0 {
		p.skipped.Add(1)
		return
	}

	select {
	case <-p.tokens:
	default:
		p.bad.Add(1)
		if p.onBad != nil {
			p.onBad()
		}
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { p.tokens <- struct{}{} }()

		scratch := p.scratch.Get()
		defer p.scratch.Put(scratch)

		out, err := p.decode(raw)
		if err != nil {
			p.bad.Add(1)
			if p.onBad != nil {
				p.onBad()
			}
			return
		}
		p.good.Add(1)
		if p.onFrame != nil {
			p.onFrame(out)
		}
	}()
}

// Wait blocks until every in-flight decode completes. Used by Stop paths
// that must guarantee no worker touches shared state after returning.
func (p *Pool) Wait() { p.wg.Wait() }

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{GoodFrames: p.good.Load(), BadFrames: p.bad.Load(), Skipped: p.skipped.Load()}
}

// ErrDeviceGone is returned by a Grabber when the underlying device has
// disappeared; this is a fatal error ending the grabber's
// retry loop (transient read errors instead retry start() every 3s).
type ErrDeviceGone struct{ Device string }

func (e ErrDeviceGone) Error() string { return fmt.Sprintf("capture: device gone: %s", e.Device) }
