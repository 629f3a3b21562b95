/*
NAME
  store.go

DESCRIPTION
  store implements the read-through key-value persistence layer: settings
  per instance, typed blobs keyed by enum, auth tokens and effect
  definitions, with atomic multi-row updates. The backend is a gob-encoded
  snapshot file written with a temp-file-plus-rename swap, leaving
  schema/migration machinery to a later SQLite-backed implementation.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

// Package store implements HyperHDR's persisted settings store: a
// read-through key-value contract over typed blobs keyed by a Kind enum,
// covering per-instance settings, auth tokens and effect definitions.
package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ausocean/utils/logging"
)

// Kind distinguishes the row families the RPC layer persists, matching
// typed blobs keyed by enum.
type Kind uint8

const (
	// KindInstanceSettings rows hold one instance's Config.Update map.
	KindInstanceSettings Kind = iota
	// KindToken rows hold authorize-flow session/API tokens.
	KindToken
	// KindEffect rows hold named effect definitions.
	KindEffect
)

func (k Kind) String() string {
	switch k {
	case KindInstanceSettings:
		return "InstanceSettings"
	case KindToken:
		return "Token"
	case KindEffect:
		return "Effect"
	default:
		return "Unknown"
	}
}

// Key addresses a single row: a Kind family plus a caller-chosen id (an
// instance name, a token id, an effect name).
type Key struct {
	Kind Kind
	ID   string
}

// Store is a gob-backed, read-through key-value store. The entire table
// is kept resident in memory and the file on disk is a point-in-time
// snapshot; every mutation persists the whole snapshot via a
// temp-file-plus-rename swap, giving callers an atomic multi-row update
// without partial writes ever being visible to a reader of the file.
type Store struct {
	mu     sync.RWMutex
	path   string
	data   map[Key][]byte
	logger logging.Logger
}

// snapshot is the on-disk gob envelope. Key isn't itself gob-friendly as
// a map key across versions of this package, so rows are flattened to a
// slice.
type snapshot struct {
	Rows []row
}

type row struct {
	Kind  Kind
	ID    string
	Value []byte
}

// Open loads path if it exists and returns a ready Store; a missing file
// is not an error and yields an empty store, matching first-run startup.
func Open(path string, logger logging.Logger) (*Store, error) {
	s := &Store{path: path, data: make(map[Key][]byte), logger: logger}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	for _, r := range snap.Rows {
		s.data[Key{Kind: r.Kind, ID: r.ID}] = r.Value
	}
	return s, nil
}

// Get returns the raw blob for key and whether it was present.
func (s *Store) Get(key Key) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Keys returns every id currently stored under kind.
func (s *Store) Keys(kind Kind) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for k := range s.data {
		if k.Kind == kind {
			ids = append(ids, k.ID)
		}
	}
	return ids
}

// Put writes a single row and persists the whole table.
func (s *Store) Put(key Key, value []byte) error {
	return s.PutMany(map[Key][]byte{key: value})
}

// PutMany writes every row in kvs as a single atomic snapshot write: all
// rows land together or none do.
func (s *Store) PutMany(kvs map[Key][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range kvs {
		s.data[k] = v
	}
	return s.persistLocked()
}

// Delete removes key and persists the resulting table.
func (s *Store) Delete(key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return s.persistLocked()
}

// persistLocked serializes s.data and swaps it into place atomically via
// a temp file in the same directory followed by os.Rename, so a reader
// of path never observes a half-written snapshot. Callers must hold
// s.mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	snap := snapshot{Rows: make([]row, 0, len(s.data))}
	for k, v := range s.data {
		snap.Rows = append(snap.Rows, row{Kind: k.Kind, ID: k.ID, Value: v})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".store-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename temp file into place: %w", err)
	}
	return nil
}

// PutValue gob-encodes v and stores it under key, giving callers a
// type-safe wrapper over the raw-blob contract above.
func PutValue[T any](s *Store, key Key, v T) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("store: encode value for %s/%s: %w", key.Kind, key.ID, err)
	}
	return s.Put(key, buf.Bytes())
}

// GetValue gob-decodes the blob stored under key into a T. ok reports
// whether key was present; err is non-nil only if it was present but
// failed to decode as a T.
func GetValue[T any](s *Store, key Key) (v T, ok bool, err error) {
	raw, ok := s.Get(key)
	if !ok {
		return v, false, nil
	}
	if decErr := gob.NewDecoder(bytes.NewReader(raw)).Decode(&v); decErr != nil {
		return v, true, fmt.Errorf("store: decode value for %s/%s: %w", key.Kind, key.ID, decErr)
	}
	return v, true, nil
}
