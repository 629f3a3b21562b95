/*
NAME
  manager.go

DESCRIPTION
  manager.go implements the Instance Manager: a process-wide
  registry of named Instances, their lifecycle transitions, and the fan-out
  of shared capture frames to every enabled Instance. StartAll/StopAll
  run in parallel over every instance and return once each has reached a
  terminal transition.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package instance

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ausocean/utils/logging"
	img "github.com/hyperhdr/hyperhdr/image"
)

// Manager owns every Instance in the process. It is safe for concurrent use.
type Manager struct {
	log logging.Logger

	mu      sync.RWMutex
	next    int
	byID    map[int]*Instance
	focused int

	onStateChange func(state State, id int, name string)
}

// NewManager returns an empty Manager.
func NewManager(log logging.Logger) *Manager {
	return &Manager{log: log, byID: make(map[int]*Instance), focused: -1}
}

// OnInstanceStateChanged registers the callback fired whenever any owned
// Instance's lifecycle state changes.
func (m *Manager) OnInstanceStateChanged(f func(state State, id int, name string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = f
}

// CreateInstance constructs a new Instance from opts and registers it under
// a freshly allocated id.
func (m *Manager) CreateInstance(opts Options) (int, error) {
	in, err := New(opts)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	id := m.next
	m.next++
	m.byID[id] = in
	if m.focused < 0 {
		m.focused = id
	}
	onChange := m.onStateChange
	m.mu.Unlock()

	in.OnStateChanged(func(s State) {
		if onChange != nil {
			onChange(s, id, in.Name())
		}
	})
	return id, nil
}

// DeleteInstance stops (if running) and removes an instance.
func (m *Manager) DeleteInstance(id int) error {
	m.mu.Lock()
	in, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("instance: no instance with id %d", id)
	}
	delete(m.byID, id)
	if m.focused == id {
		m.focused = -1
	}
	m.mu.Unlock()

	if in.State() == StateRunning {
		_ = in.Stop()
	}
	in.Close()
	return nil
}

// Get returns the instance registered under id.
func (m *Manager) Get(id int) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	in, ok := m.byID[id]
	return in, ok
}

// StartInstance starts one instance by id.
func (m *Manager) StartInstance(id int) error {
	in, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("instance: no instance with id %d", id)
	}
	return in.Start()
}

// StopInstance stops one instance by id.
func (m *Manager) StopInstance(id int) error {
	in, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("instance: no instance with id %d", id)
	}
	return in.Stop()
}

// SwitchTo marks id as the UI-focused instance; it has no effect on any
// instance's running state.
func (m *Manager) SwitchTo(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return fmt.Errorf("instance: no instance with id %d", id)
	}
	m.focused = id
	return nil
}

// Focused returns the id of the currently UI-focused instance, or false if
// none is set (e.g. the manager owns no instances).
func (m *Manager) Focused() (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.focused < 0 {
		return 0, false
	}
	return m.focused, true
}

// ids returns a stable-enough snapshot of every registered instance id.
func (m *Manager) ids() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, 0, len(m.byID))
	for id := range m.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// IDs returns every registered instance id in ascending order.
func (m *Manager) IDs() []int { return m.ids() }

// Rename changes an instance's display name.
func (m *Manager) Rename(id int, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("instance: no such id %d", id)
	}
	in.setName(name)
	return nil
}

// StartAll starts every registered instance in parallel, returning once
// every instance has reached a terminal transition. The first error is
// returned after every instance has been attempted; other instances are
// not cancelled by one failure, since each instance's driver is
// independent.
func (m *Manager) StartAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, id := range m.ids() {
		id := id
		g.Go(func() error { return m.StartInstance(id) })
	}
	return g.Wait()
}

// StopAll stops every registered instance in parallel.
func (m *Manager) StopAll(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	for _, id := range m.ids() {
		id := id
		g.Go(func() error { return m.StopInstance(id) })
	}
	return g.Wait()
}

// running returns the Running instances, fetched under the read lock.
func (m *Manager) running() []*Instance {
	m.mu.RLock()
	instances := make([]*Instance, 0, len(m.byID))
	for _, in := range m.byID {
		instances = append(instances, in)
	}
	m.mu.RUnlock()
	out := instances[:0]
	for _, in := range instances {
		if in.State() == StateRunning {
			out = append(out, in)
		}
	}
	return out
}

// RegisterInput registers a channel at priority on every Running instance
// whose component is enabled. Remote feed connections use this (and the
// Set/Clear fan-outs below) so one connection drives all instances at its
// own priority, independent of the shared-capture slot.
func (m *Manager) RegisterInput(priority int, component, origin, owner string, smoothingCfg int) {
	for _, in := range m.running() {
		if !in.ComponentEnabled(component) {
			continue
		}
		in.RegisterInput(priority, component, origin, owner, smoothingCfg)
	}
}

// SetInputImage fans one image to priority's channel on every Running
// instance, reporting whether any instance accepted it.
func (m *Manager) SetInputImage(priority int, image *img.Image[img.RGB8], timeoutMs int) bool {
	accepted := false
	for _, in := range m.running() {
		if in.SetInputImage(priority, image, timeoutMs) {
			accepted = true
		}
	}
	return accepted
}

// SetInputInactive marks priority's channel dormant on every Running
// instance.
func (m *Manager) SetInputInactive(priority int) {
	for _, in := range m.running() {
		in.SetInputInactive(priority)
	}
}

// ClearInput removes priority's channel on every Running instance.
func (m *Manager) ClearInput(priority int) {
	for _, in := range m.running() {
		in.ClearInput(priority)
	}
}

// BroadcastFrame fans one decoded capture frame out to every Running
// instance's CapturePriority channel.
func (m *Manager) BroadcastFrame(image *img.Image[img.RGB8], component, origin string, smoothingCfg, timeoutMs int) {
	m.mu.RLock()
	instances := make([]*Instance, 0, len(m.byID))
	for _, in := range m.byID {
		instances = append(instances, in)
	}
	m.mu.RUnlock()

	for _, in := range instances {
		if in.State() != StateRunning || !in.ComponentEnabled(component) {
			continue
		}
		in.RegisterInput(CapturePriority, component, origin, "capture", smoothingCfg)
		in.SetInputImage(CapturePriority, image, timeoutMs)
	}
}
