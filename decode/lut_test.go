package decode

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperhdr/hyperhdr/internal/testlog"
)

// writeLUTFile writes a full-size table whose every entry is fill.
func writeLUTFile(t *testing.T, path string, fill byte) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer f.Close()
	chunk := bytes.Repeat([]byte{fill}, 1<<20)
	remaining := lutDim * lutDim * lutDim * 3
	for remaining > 0 {
		n := len(chunk)
		if n > remaining {
			n = remaining
		}
		if _, err := f.Write(chunk[:n]); err != nil {
			t.Fatalf("Write: %v", err)
		}
		remaining -= n
	}
}

func TestWatcherLoadsAndHotReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lut_lin_tables.3d")
	writeLUTFile(t, path, 0x11)

	w, err := NewWatcher(path, FamilyYUV, testlog.New())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if got := w.Current().Lookup(0, 0, 0); got.R != 0x11 {
		t.Fatalf("initial Lookup = %+v, want 0x11 everywhere", got)
	}

	// Rewrite the file in place; the watcher should publish the new table.
	writeLUTFile(t, path, 0x22)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().Lookup(0, 0, 0).R == 0x22 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher never picked up the rewritten table")
}

func TestWatcherRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lut_lin_tables.3d")
	if err := os.WriteFile(path, []byte("short"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewWatcher(path, FamilyRGB, testlog.New()); err == nil {
		t.Fatal("NewWatcher accepted a truncated calibration file")
	}
}
