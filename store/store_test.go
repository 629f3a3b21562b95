package store

import (
	"path/filepath"
	"testing"

	"github.com/hyperhdr/hyperhdr/internal/testlog"
)

type settingsBlob struct {
	CaptureWidth int
	RPCAddress   string
}

func TestPutGetRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "hyperhdr.db"), testlog.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	key := Key{Kind: KindInstanceSettings, ID: "living-room"}
	want := settingsBlob{CaptureWidth: 1920, RPCAddress: ":19444"}
	if err := PutValue(s, key, want); err != nil {
		t.Fatalf("PutValue: %v", err)
	}

	got, ok, err := GetValue[settingsBlob](s, key)
	if err != nil {
		t.Fatalf("GetValue: %v", err)
	}
	if !ok {
		t.Fatal("GetValue: key not found")
	}
	if got != want {
		t.Fatalf("GetValue = %+v, want %+v", got, want)
	}
}

func TestGetMissingKey(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "hyperhdr.db"), testlog.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok, err := GetValue[settingsBlob](s, Key{Kind: KindToken, ID: "nope"}); ok || err != nil {
		t.Fatalf("GetValue on missing key: ok=%v err=%v, want false/nil", ok, err)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hyperhdr.db")

	s1, err := Open(path, testlog.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key := Key{Kind: KindEffect, ID: "rainbow"}
	if err := s1.Put(key, []byte("effect-json-blob")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s2, err := Open(path, testlog.New())
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	got, ok := s2.Get(key)
	if !ok || string(got) != "effect-json-blob" {
		t.Fatalf("Get after reopen = %q, %v, want effect-json-blob, true", got, ok)
	}
}

func TestPutManyWritesAllRowsAndDeleteRemoves(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "hyperhdr.db"), testlog.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	k1 := Key{Kind: KindToken, ID: "t1"}
	k2 := Key{Kind: KindToken, ID: "t2"}
	if err := s.PutMany(map[Key][]byte{k1: []byte("a"), k2: []byte("b")}); err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	ids := s.Keys(KindToken)
	if len(ids) != 2 {
		t.Fatalf("Keys(KindToken) = %v, want 2 entries", ids)
	}

	if err := s.Delete(k1); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get(k1); ok {
		t.Fatal("Get after Delete: found k1, want absent")
	}
	if _, ok := s.Get(k2); !ok {
		t.Fatal("Get after Delete: k2 missing, want present")
	}
}

func TestOpenMissingFileIsNotAnError(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "does-not-exist.db"), testlog.New())
	if err != nil {
		t.Fatalf("Open on missing file: %v", err)
	}
	if ids := s.Keys(KindInstanceSettings); len(ids) != 0 {
		t.Fatalf("Keys on fresh store = %v, want empty", ids)
	}
}
