/*
NAME
  mux.go

DESCRIPTION
  mux implements the Priority Muxer: registration, refresh,
  expiry and visible-channel selection across the concurrent color sources
  (grabber, effects, remote feeds, static colors) feeding one Instance.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package mux implements the priority multiplexer that selects one visible
// input channel among many concurrent color/image producers.
package mux

import (
	"sync"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/hyperhdr/hyperhdr/colorspace"
)

// LowestPriority is the sentinel meaning "nothing active".
const LowestPriority = 256

// WatchdogPeriod is how often expired channels are swept even without a
// mutating call.
const WatchdogPeriod = 250 * time.Millisecond

// Mode selects how the visible channel is picked.
type Mode int

const (
	ModeAuto Mode = iota
	ModeManual
)

// channel holds the latest value for one registered priority.
type channel struct {
	priority     int
	component    string
	origin       string
	owner        string
	smoothingCfg int
	colors       []colorspace.Rgb
	image        any // *image.Image[T]; stored as any to stay independent of the element type.
	deadline     time.Time // zero deadline with neverExpire=true means "never".
	neverExpire  bool
	registered   time.Time
	active       bool
}

// expired reports deadline-based expiry only; a dormant (inactive) channel
// is hidden from selection but not expired, so it survives in the table
// until its deadline passes or it is explicitly cleared.
func (c *channel) expired(now time.Time) bool {
	if c.neverExpire {
		return false
	}
	return now.After(c.deadline)
}

// selectable reports whether the channel may be chosen as visible.
func (c *channel) selectable(now time.Time) bool {
	return c.active && !c.expired(now)
}

// Muxer is the Priority Muxer. It is safe for concurrent use; the channel
// table is protected by a short critical section, and no lock is ever
// held across I/O.
type Muxer struct {
	mu       sync.Mutex
	channels map[int]*channel
	visible  int
	mode     Mode
	manualP  int

	log logging.Logger

	onVisiblePriority  func(priority int)
	onVisibleComponent func(component string)

	stop chan struct{}
	wg   sync.WaitGroup
}

// New returns a ready-to-use Muxer in auto-select mode.
func New(log logging.Logger) *Muxer {
	m := &Muxer{
		channels: make(map[int]*channel),
		visible:  LowestPriority,
		mode:     ModeAuto,
		log:      log,
		stop:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.watchdog()
	return m
}

// OnVisiblePriorityChanged registers the callback invoked whenever the
// visible priority changes.
func (m *Muxer) OnVisiblePriorityChanged(f func(priority int)) { m.onVisiblePriority = f }

// OnVisibleComponentChanged registers the callback invoked whenever the
// visible channel's component tag changes.
func (m *Muxer) OnVisibleComponentChanged(f func(component string)) { m.onVisibleComponent = f }

// Close stops the muxer's watchdog goroutine.
func (m *Muxer) Close() {
	close(m.stop)
	m.wg.Wait()
}

func (m *Muxer) watchdog() {
	defer m.wg.Done()
	t := time.NewTicker(WatchdogPeriod)
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.mu.Lock()
			notify := m.reselect(time.Now())
			m.mu.Unlock()
			notify()
		}
	}
}

// RegisterInput creates or refreshes a channel at priority with the given
// metadata. A newly registered channel does not expire until
// SetInput/SetInputImage gives it a deadline.
func (m *Muxer) RegisterInput(priority int, component, origin, owner string, smoothingCfg int) {
	m.mu.Lock()
	c, ok := m.channels[priority]
	if !ok {
		// A freshly registered channel has no deadline until the first
		// setInput attaches one.
		c = &channel{priority: priority, registered: time.Now(), neverExpire: true}
		m.channels[priority] = c
	}
	c.component = component
	c.origin = origin
	c.owner = owner
	c.smoothingCfg = smoothingCfg
	c.active = true
	notify := m.reselect(time.Now())
	m.mu.Unlock()
	notify()
}

// SetInput stores a color vector for priority, extending its deadline.
// Returns false if the channel has not been registered.
func (m *Muxer) SetInput(priority int, colors []colorspace.Rgb, timeoutMs int) bool {
	m.mu.Lock()
	c, ok := m.channels[priority]
	if !ok {
		m.mu.Unlock()
		return false
	}
	c.colors = colors
	c.image = nil
	c.active = true
	m.setDeadline(c, timeoutMs)
	notify := m.reselect(time.Now())
	m.mu.Unlock()
	notify()
	return true
}

// SetInputImage stores an image for priority instead of a color vector.
func (m *Muxer) SetInputImage(priority int, img any, timeoutMs int) bool {
	m.mu.Lock()
	c, ok := m.channels[priority]
	if !ok {
		m.mu.Unlock()
		return false
	}
	c.image = img
	c.colors = nil
	c.active = true
	m.setDeadline(c, timeoutMs)
	notify := m.reselect(time.Now())
	m.mu.Unlock()
	notify()
	return true
}

func (m *Muxer) setDeadline(c *channel, timeoutMs int) {
	if timeoutMs < 0 {
		c.neverExpire = true
		return
	}
	c.neverExpire = false
	c.deadline = time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
}

// SetInputInactive marks a channel dormant without removing it.
func (m *Muxer) SetInputInactive(priority int) {
	m.mu.Lock()
	if c, ok := m.channels[priority]; ok {
		c.active = false
	}
	notify := m.reselect(time.Now())
	m.mu.Unlock()
	notify()
}

// ClearInput removes a single channel.
func (m *Muxer) ClearInput(priority int) {
	m.mu.Lock()
	delete(m.channels, priority)
	notify := m.reselect(time.Now())
	m.mu.Unlock()
	notify()
}

// ClearAll removes every channel. If force is false, channels registered
// with neverExpire are preserved (treated as sticky "boot" inputs).
func (m *Muxer) ClearAll(force bool) {
	m.mu.Lock()
	for p, c := range m.channels {
		if !force && c.neverExpire {
			continue
		}
		delete(m.channels, p)
	}
	notify := m.reselect(time.Now())
	m.mu.Unlock()
	notify()
}

// SetManual pins priority as the visible channel until it expires.
func (m *Muxer) SetManual(priority int) {
	m.mu.Lock()
	m.mode = ModeManual
	m.manualP = priority
	notify := m.reselect(time.Now())
	m.mu.Unlock()
	notify()
}

// SetAuto reverts to automatic selection.
func (m *Muxer) SetAuto() {
	m.mu.Lock()
	m.mode = ModeAuto
	notify := m.reselect(time.Now())
	m.mu.Unlock()
	notify()
}

// Visible returns the currently visible priority, or LowestPriority if
// nothing is active.
func (m *Muxer) Visible() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// VisibleColors returns the color vector of the visible channel, if any.
func (m *Muxer) VisibleColors() ([]colorspace.Rgb, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[m.visible]
	if !ok || c.colors == nil {
		return nil, false
	}
	return c.colors, true
}

// VisibleImage returns the image of the visible channel, if any.
func (m *Muxer) VisibleImage() (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[m.visible]
	if !ok || c.image == nil {
		return nil, false
	}
	return c.image, true
}

// VisibleSmoothingConfig returns the smoothing config id attached to the
// currently visible channel.
func (m *Muxer) VisibleSmoothingConfig() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[m.visible]
	if !ok {
		return 0, false
	}
	return c.smoothingCfg, true
}

// reselect applies the selection rule: drop expired channels, then visible
// priority is the lowest-number surviving priority (ties resolved by
// earliest registration, which map iteration plus an explicit min-compare
// already achieves since we never need to break ties between distinct
// priority numbers). Must be called with m.mu held; the returned closure
// fires the change callbacks and must be invoked after the lock is
// released, since subscribers (the instance pipeline) re-enter the muxer.
func (m *Muxer) reselect(now time.Time) (notify func()) {
	// Deadline expiry garbage-collects the row; dormant (inactive) channels
	// are merely hidden and stay registered until they expire or are
	// explicitly cleared.
	for p, c := range m.channels {
		if c.expired(now) {
			delete(m.channels, p)
		}
	}

	next := LowestPriority
	if m.mode == ModeManual {
		if c, ok := m.channels[m.manualP]; ok && c.selectable(now) {
			next = m.manualP
		} else {
			// Revert to auto for one update; re-pin if the priority refreshes.
			next = m.autoSelect(now)
		}
	} else {
		next = m.autoSelect(now)
	}

	if next == m.visible {
		return func() {}
	}
	prevComponent := ""
	if c, ok := m.channels[m.visible]; ok {
		prevComponent = c.component
	}
	m.visible = next
	priorityCb := m.onVisiblePriority
	var componentCb func(string)
	component := ""
	if c, ok := m.channels[next]; ok && c.component != prevComponent {
		componentCb = m.onVisibleComponent
		component = c.component
	}
	return func() {
		if priorityCb != nil {
			priorityCb(next)
		}
		if componentCb != nil {
			componentCb(component)
		}
	}
}

func (m *Muxer) autoSelect(now time.Time) int {
	best := LowestPriority
	var bestTime time.Time
	for p, c := range m.channels {
		if !c.selectable(now) {
			continue
		}
		if p < best || (p == best && (bestTime.IsZero() || c.registered.Before(bestTime))) {
			best = p
			bestTime = c.registered
		}
	}
	return best
}
