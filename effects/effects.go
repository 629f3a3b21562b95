/*
NAME
  effects.go

DESCRIPTION
  effects defines the external-collaborator seam for HyperHDR's effect
  engine: the core only exposes runEffect(name, args, priority, timeout)
  and receives frames back through the same Priority Muxer API any other
  source uses. This package defines the Runner interface, tracks which
  priority each running effect currently holds so a later start at the
  same priority preempts the earlier one, and persists named effect
  definitions via store/.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package effects defines the seam between HyperHDR's core and an
// external effect engine: the Runner interface the core calls through,
// and a Registry that tracks in-flight effects by priority and persists
// named effect definitions.
package effects

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperhdr/hyperhdr/store"
)

// Args holds an effect's named parameters, matching the JSON-RPC
// `effect` command's `args` object.
type Args map[string]string

// Definition is a named, persistable effect configuration: the effect's
// name plus the arguments it was last started or saved with.
type Definition struct {
	Name string
	Args Args
}

// Runner is implemented by the external effect engine. The core never
// interprets effect logic itself; it only starts and stops
// effects and expects frames to arrive back through the same Priority
// Muxer API (Instance.SetInputColors / SetInputImage) any other color
// source uses, at the priority this call was given.
type Runner interface {
	// RunEffect starts name with args at priority and must stop emitting
	// frames and return once ctx is cancelled or timeout elapses. A
	// zero timeout means run until explicitly stopped.
	RunEffect(ctx context.Context, name string, args Args, priority int, timeout time.Duration) error
}

// Registry tracks one in-flight effect per priority and persists named
// effect definitions through store.
type Registry struct {
	mu      sync.Mutex
	runner  Runner
	running map[int]context.CancelFunc
	store   *store.Store
}

// NewRegistry returns a Registry that dispatches through runner and
// persists definitions in st. st may be nil, in which case
// SaveDefinition/LoadDefinition/ListDefinitions are no-ops/empty.
func NewRegistry(runner Runner, st *store.Store) *Registry {
	return &Registry{
		runner:  runner,
		running: make(map[int]context.CancelFunc),
		store:   st,
	}
}

// Start launches name at priority, cancelling whatever effect currently
// holds that priority first. It returns once the runner's
// RunEffect call has returned or ctx has been cancelled by a later
// Start/Stop at the same priority.
func (r *Registry) Start(ctx context.Context, name string, args Args, priority int, timeout time.Duration) error {
	r.mu.Lock()
	if cancel, ok := r.running[priority]; ok {
		cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	r.running[priority] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		if r.running[priority] != nil {
			delete(r.running, priority)
		}
		r.mu.Unlock()
		cancel()
	}()

	return r.runner.RunEffect(runCtx, name, args, priority, timeout)
}

// Stop cancels whatever effect currently holds priority, if any.
func (r *Registry) Stop(priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.running[priority]; ok {
		cancel()
		delete(r.running, priority)
	}
}

// ActivePriorities returns the priorities with an effect currently
// running.
func (r *Registry) ActivePriorities() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps := make([]int, 0, len(r.running))
	for p := range r.running {
		ps = append(ps, p)
	}
	return ps
}

// SaveDefinition persists def under its Name so the RPC layer's
// `effect`/saved-effects surface can list and re-run it later.
func (r *Registry) SaveDefinition(def Definition) error {
	if r.store == nil {
		return nil
	}
	key := store.Key{Kind: store.KindEffect, ID: def.Name}
	if err := store.PutValue(r.store, key, def); err != nil {
		return fmt.Errorf("effects: save definition %q: %w", def.Name, err)
	}
	return nil
}

// LoadDefinition retrieves a previously saved Definition by name.
func (r *Registry) LoadDefinition(name string) (Definition, bool, error) {
	if r.store == nil {
		return Definition{}, false, nil
	}
	key := store.Key{Kind: store.KindEffect, ID: name}
	def, ok, err := store.GetValue[Definition](r.store, key)
	if err != nil {
		return Definition{}, true, fmt.Errorf("effects: load definition %q: %w", name, err)
	}
	return def, ok, nil
}

// ListDefinitions returns the names of every saved effect definition.
func (r *Registry) ListDefinitions() []string {
	if r.store == nil {
		return nil
	}
	return r.store.Keys(store.KindEffect)
}
