/*
NAME
  lut.go

DESCRIPTION
  lut.go adds hot reloading for calibration LUT files: a Watcher loads a
  tone-mapping table from disk, publishes it via atomic pointer swap, and
  re-reads the file whenever it changes on disk, so decode workers pick up
  a recalibration without a restart.

AUTHORS
  Hyperhdr core contributors

LICENSE
  Copyright (C) 2026 the hyperhdr core contributors.
*/

package decode

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/ausocean/utils/logging"
)

// Watcher owns the current LUT for one format family and keeps it fresh
// against the calibration file backing it. Decode workers call Current
// per frame; the returned table is immutable and safe to share.
type Watcher struct {
	path    string
	family  Family
	log     logging.Logger
	current atomic.Pointer[LUT]
	fsw     *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher loads path and begins watching its directory for rewrites.
// The initial load must succeed; later failed reloads keep the previous
// table and log a warning.
func NewWatcher(path string, family Family, log logging.Logger) (*Watcher, error) {
	w := &Watcher{path: path, family: family, log: log, done: make(chan struct{})}
	if err := w.reload(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("lut: watcher: %w", err)
	}
	// Watch the directory, not the file: calibration tools replace the
	// file by rename, which drops a watch set on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("lut: watch %s: %w", filepath.Dir(path), err)
	}
	w.fsw = fsw
	go w.run()
	return w, nil
}

// Current returns the latest published table.
func (w *Watcher) Current() *LUT { return w.current.Load() }

func (w *Watcher) reload() error {
	f, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("lut: open %s: %w", w.path, err)
	}
	defer f.Close()
	lut, err := LoadLUT(f, w.family)
	if err != nil {
		return err
	}
	w.current.Store(lut)
	return nil
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := w.reload(); err != nil {
				w.log.Warning("lut: reload failed, keeping previous table", "path", w.path, "error", err.Error())
			} else {
				w.log.Info("lut: reloaded", "path", w.path)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warning("lut: watch error", "error", err.Error())
		}
	}
}

// Close stops watching. The last published table stays valid.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
