/*
NAME
  dispatch.go

DESCRIPTION
  dispatch.go implements the frame dispatcher sitting between the
  smoothing engine and a Driver: finished frames are buffered in a pool
  ring and drained by a dedicated goroutine, so a slow or retrying
  transport never stalls the smoothing tick. On overflow every pending
  frame is discarded and the new frame queued; frames are not dropped
  one at a time, oldest first.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package driver

import (
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	"github.com/ausocean/utils/pool"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

const (
	dispatchPoolFrames  = 8 // pending frames before an overflow flushes the ring.
	dispatchReadTimeout = 100 * time.Millisecond
)

// Dispatcher owns the single writer goroutine for one Driver. Submit never
// blocks; frames queue in a pool.Buffer and the drain loop performs the
// network write. A recoverable write error is logged and the next frame is
// written; write errors do not reopen the driver or start its retry policy.
type Dispatcher struct {
	drv      Driver
	log      logging.Logger
	buf      *pool.Buffer
	frameLen int

	wg      sync.WaitGroup
	quit    chan struct{}
	dropped int64
	mu        sync.Mutex
	lastErr   error
	lastFrame []colorspace.Rgb
	onFatal   func(error)
}

// NewDispatcher starts the drain loop for drv. ledCount fixes the frame
// byte size so the pool ring can be sized exactly. onFatal, if non-nil,
// is called once when a write returns a fatal error.
func NewDispatcher(drv Driver, ledCount int, log logging.Logger, onFatal func(error)) *Dispatcher {
	frameLen := ledCount * 3
	if frameLen == 0 {
		frameLen = 3
	}
	d := &Dispatcher{
		drv:      drv,
		log:      log,
		buf:      pool.NewBuffer(dispatchPoolFrames, frameLen, 0),
		frameLen: frameLen,
		quit:     make(chan struct{}),
		onFatal:  onFatal,
	}
	d.wg.Add(1)
	go d.drain()
	return d
}

// Submit queues one frame for transmission. On a full ring the pool is
// flushed (dropping every pending frame, which are by now stale) and the
// new frame queued in their place.
func (d *Dispatcher) Submit(colors []colorspace.Rgb) {
	if len(colors) == 0 {
		return
	}
	raw := packRGB(colors)
	_, err := d.buf.Write(raw)
	if err != nil {
		d.buf.Flush()
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		if _, err = d.buf.Write(raw); err != nil {
			d.log.Warning("dispatch: frame dropped", "error", err.Error())
			return
		}
	}
}

func (d *Dispatcher) drain() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		default:
		}
		chunk, err := d.buf.Next(dispatchReadTimeout)
		if err != nil {
			continue
		}
		colors := unpackRGB(chunk.Bytes())
		chunk.Close()
		d.mu.Lock()
		d.lastFrame = colors
		d.mu.Unlock()
		if err := d.drv.Write(colors); err != nil {
			d.mu.Lock()
			d.lastErr = err
			d.mu.Unlock()
			if IsFatal(err) {
				if d.onFatal != nil {
					d.onFatal(err)
				}
				return
			}
			d.log.Warning("dispatch: driver write failed", "error", err.Error())
		}
	}
}

// LastError returns the most recent write error, if any.
func (d *Dispatcher) LastError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

// LastFrame returns the most recently transmitted LED vector, used by the
// ledcolors RPC subscription.
func (d *Dispatcher) LastFrame() []colorspace.Rgb {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]colorspace.Rgb(nil), d.lastFrame...)
}

// Dropped returns how many times the ring overflowed and pending frames
// were discarded.
func (d *Dispatcher) Dropped() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Close stops the drain loop after the in-flight write, if any, returns.
func (d *Dispatcher) Close() {
	close(d.quit)
	d.wg.Wait()
}

func unpackRGB(raw []byte) []colorspace.Rgb {
	colors := make([]colorspace.Rgb, len(raw)/3)
	for i := range colors {
		colors[i] = colorspace.Rgb{R: raw[i*3], G: raw[i*3+1], B: raw[i*3+2]}
	}
	return colors
}
