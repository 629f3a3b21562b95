/*
NAME
  smoothing.go

DESCRIPTION
  smoothing implements the temporal smoothing engine:
  bounded-latency interpolation between successive target LED vectors,
  emitted to the driver at a fixed configured frequency.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package smoothing implements per-channel exponential interpolation
// toward target LED colors at a fixed emission cadence.
package smoothing

import (
	"math"
	"sync"
	"time"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// DefaultConfigID is the id every instance falls back to absent an explicit
// smoothing-cfg-id on the channel.
const DefaultConfigID = 0

// Config is a named smoothing parameter set, referenced by id from an input
// channel.
type Config struct {
	ID                int
	SettlingTimeMs    float64
	UpdateFrequencyHz float64
	DirectMode        bool
}

// DefaultConfig is a reasonable out-of-the-box configuration: 200ms settling
// time at 50Hz.
func DefaultConfig() Config {
	return Config{ID: DefaultConfigID, SettlingTimeMs: 200, UpdateFrequencyHz: 50}
}

// effectiveConfig resolves a channel's configured smoothing-cfg-id to a
// Config. A negative id means disabled (direct passthrough): id 0 is
// already the reserved default, so negative values are an explicit
// per-channel opt-out rather than a second spelling of it.
func effectiveConfig(configs map[int]Config, id int) Config {
	if id < 0 {
		return Config{ID: id, UpdateFrequencyHz: DefaultConfig().UpdateFrequencyHz, DirectMode: true}
	}
	if c, ok := configs[id]; ok {
		return c
	}
	return DefaultConfig()
}

// rgbF is a float-valued working copy of an Rgb vector element, carrying
// sub-LSB precision between ticks so slow settling times still converge.
type rgbF struct{ R, G, B float64 }

func fromRgb(c colorspace.Rgb) rgbF { return rgbF{float64(c.R), float64(c.G), float64(c.B)} }

func (c rgbF) toRgb() colorspace.Rgb {
	return colorspace.Rgb{R: clampByte(c.R), G: clampByte(c.G), B: clampByte(c.B)}
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(math.Round(v))
}

// Engine runs the fixed-cadence smoothing tick loop and emits the result
// via an Emit callback. One Engine serves one instance's pipeline.
type Engine struct {
	mu       sync.Mutex
	configs  map[int]Config
	configID int
	target   []rgbF
	state    []rgbF
	paused   bool
	lastTick time.Time

	emit func([]colorspace.Rgb)

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewEngine returns a stopped Engine seeded with configs (keyed by Config.ID;
// DefaultConfig() is always available even if absent from configs).
func NewEngine(configs map[int]Config) *Engine {
	merged := make(map[int]Config, len(configs)+1)
	merged[DefaultConfigID] = DefaultConfig()
	for id, c := range configs {
		merged[id] = c
	}
	return &Engine{configs: merged, configID: DefaultConfigID}
}

// SetConfig registers or replaces a named configuration.
func (e *Engine) SetConfig(c Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configs[c.ID] = c
}

// SetTarget replaces the target LED vector and the smoothing configuration
// id used to interpolate toward it; called whenever the visible muxer
// channel changes or emits a fresh frame.
func (e *Engine) SetTarget(vector []colorspace.Rgb, configID int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configID = configID
	if len(e.target) != len(vector) {
		e.target = make([]rgbF, len(vector))
		e.state = make([]rgbF, len(vector)) // grows from black, matching boot-to-black semantics.
	}
	for i, c := range vector {
		e.target[i] = fromRgb(c)
	}
}

// Pause suppresses emission while state continues to update, so that
// resuming looks continuous.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
}

// Resume re-enables emission.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
}

// Start launches the tick goroutine, calling emit with the smoothed vector
// at the cadence of the currently selected configuration. The tick rate is
// re-evaluated every tick so a mid-session configuration switch takes
// effect on the next cycle.
func (e *Engine) Start(emit func([]colorspace.Rgb)) {
	e.emit = emit
	e.stop = make(chan struct{})
	e.lastTick = time.Now()
	e.wg.Add(1)
	go e.run()
}

// Stop halts the tick goroutine. Safe to call once; not safe to call
// concurrently with Start.
func (e *Engine) Stop() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	interval := e.tickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.tick(now)
			if next := e.tickInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (e *Engine) tickInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := effectiveConfig(e.configs, e.configID)
	hz := cfg.UpdateFrequencyHz
	if hz <= 0 {
		hz = DefaultConfig().UpdateFrequencyHz
	}
	return time.Duration(float64(time.Second) / hz)
}

// tick advances state one step toward target and, unless paused, emits the
// result:
// α = 1 − exp(−Δt/τ), τ = settlingTime/ln(10), state += α·(target−state).
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	cfg := effectiveConfig(e.configs, e.configID)
	dt := now.Sub(e.lastTick)
	e.lastTick = now

	if cfg.DirectMode {
		e.state = append([]rgbF(nil), e.target...)
	} else {
		tau := cfg.SettlingTimeMs / 1000 / math.Ln10
		if tau <= 0 {
			e.state = append([]rgbF(nil), e.target...)
		} else {
			alpha := 1 - math.Exp(-dt.Seconds()/tau)
			for i := range e.state {
				if i >= len(e.target) {
					break
				}
				e.state[i].R += alpha * (e.target[i].R - e.state[i].R)
				e.state[i].G += alpha * (e.target[i].G - e.state[i].G)
				e.state[i].B += alpha * (e.target[i].B - e.state[i].B)
			}
		}
	}

	paused := e.paused
	out := make([]colorspace.Rgb, len(e.state))
	for i, s := range e.state {
		out[i] = s.toRgb()
	}
	emit := e.emit
	e.mu.Unlock()

	if !paused && emit != nil {
		emit(out)
	}
}
