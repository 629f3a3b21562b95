/*
NAME
  perfstat.go

DESCRIPTION
  perfstat implements the performance and state counters: lock-free
  good/bad frame counters, a bitrate calculation, and a small
  state-change signal bus (StateSignal) fanning events out to an arbitrary
  number of subscribers. No package in this module emits on StateSignal.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package perfstat implements the measurement plumbing and state-change
// signalling used across the pipeline.
package perfstat

import (
	"sync"
	"sync/atomic"

	"github.com/ausocean/utils/bitrate"

	"github.com/hyperhdr/hyperhdr/capture"
)

// Counters accumulates good/bad frame counts and a running bitrate
// estimate. Every counter is lock-free (sync/atomic); safe for any number
// of concurrent producers (decode workers) and readers (RPC `serverinfo`).
type Counters struct {
	good, bad, skipped atomic.Uint64
	bitrate            bitrate.Calculator
}

// New returns a zeroed Counters.
func New() *Counters { return &Counters{} }

// RecordGood increments the good-frame counter and reports nBytes to the
// bitrate calculator.
func (c *Counters) RecordGood(nBytes int) {
	c.good.Add(1)
	c.bitrate.Report(nBytes)
}

// RecordBad increments the bad-frame counter (a dropped or failed-decode
// frame).
func (c *Counters) RecordBad() { c.bad.Add(1) }

// RecordSkipped increments the decimation-skip counter.
func (c *Counters) RecordSkipped() { c.skipped.Add(1) }

// Snapshot is a point-in-time read of Counters.
type Snapshot struct {
	Good, Bad, Skipped uint64
	BitrateBps         int
}

// Snapshot returns the current counter values and bitrate.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Good:       c.good.Load(),
		Bad:        c.bad.Load(),
		Skipped:    c.skipped.Load(),
		BitrateBps: c.bitrate.Bitrate(),
	}
}

// AbsorbPoolStats folds a capture.Pool's own atomic counters into c,
// keeping for each counter the larger of c's value and the Pool's.
func (c *Counters) AbsorbPoolStats(s capture.Stats) {
	// Pool stats are cumulative snapshots, not deltas, so store-max instead
	// of add to avoid double counting across repeated absorptions.
	storeMax(&c.good, s.GoodFrames)
	storeMax(&c.bad, s.BadFrames)
	storeMax(&c.skipped, s.Skipped)
}

func storeMax(a *atomic.Uint64, v uint64) {
	for {
		cur := a.Load()
		if v <= cur {
			return
		}
		if a.CompareAndSwap(cur, v) {
			return
		}
	}
}

// StateSignal is a small fan-out pub-sub bus for state-change events of
// type T (instance lifecycle transitions, muxer visible-priority changes,
// driver state changes). Subscribing and emitting are both safe for
// concurrent use; subscriber callbacks run synchronously on the emitting
// goroutine.
type StateSignal[T any] struct {
	mu   sync.Mutex
	subs []func(T)
}

// NewStateSignal returns an empty signal bus.
func NewStateSignal[T any]() *StateSignal[T] { return &StateSignal[T]{} }

// Subscribe registers f to be called on every future Emit.
func (s *StateSignal[T]) Subscribe(f func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, f)
}

// Emit calls every subscriber with v, in registration order.
func (s *StateSignal[T]) Emit(v T) {
	s.mu.Lock()
	subs := append([]func(T){}, s.subs...)
	s.mu.Unlock()
	for _, f := range subs {
		f(v)
	}
}
