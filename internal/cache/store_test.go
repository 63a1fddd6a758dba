package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fs, err := Open(Config{Driver: "file", Dir: filepath.Join(dir, "files")})
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	sq, err := Open(Config{Driver: "sqlite", SQLitePath: filepath.Join(dir, "db", "cache.db")})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() {
		fs.Close()
		sq.Close()
	})
	return map[string]Store{"file": fs, "sqlite": sq}
}

const testKey = "ab34e0c2d7f1f8e0a9b3c1d2e3f40516273849a0b1c2d3e4f5a6b7c8d9e0f1a2"

func TestStore_PutGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get(ctx, testKey); ok || err != nil {
				t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
			}

			stored := time.UnixMilli(time.Now().UnixMilli())
			if err := s.Put(ctx, testKey, Entry{Response: json.RawMessage(`{"v":1}`), StoredAt: stored}); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := s.Put(ctx, testKey, Entry{Response: json.RawMessage(`{"v":2}`), StoredAt: stored}); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}

			e, ok, err := s.Get(ctx, testKey)
			if err != nil || !ok {
				t.Fatalf("Get() = ok %v, err %v", ok, err)
			}
			if string(e.Response) != `{"v":2}` {
				t.Errorf("response = %s, want overwritten value", e.Response)
			}
			if !e.StoredAt.Equal(stored) {
				t.Errorf("storedAt = %v, want %v", e.StoredAt, stored)
			}
		})
	}
}

func TestStore_DeleteBefore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now()
			oldKey := "cd" + testKey[2:]
			if err := s.Put(ctx, oldKey, Entry{Response: json.RawMessage(`1`), StoredAt: now.Add(-2 * time.Hour)}); err != nil {
				t.Fatal(err)
			}
			if err := s.Put(ctx, testKey, Entry{Response: json.RawMessage(`2`), StoredAt: now}); err != nil {
				t.Fatal(err)
			}

			removed, err := s.DeleteBefore(ctx, now.Add(-time.Hour))
			if err != nil {
				t.Fatalf("DeleteBefore() error = %v", err)
			}
			if removed != 1 {
				t.Errorf("removed = %d, want 1", removed)
			}
			if _, ok, _ := s.Get(ctx, oldKey); ok {
				t.Error("expected old entry to be gone")
			}
			if _, ok, _ := s.Get(ctx, testKey); !ok {
				t.Error("expected fresh entry to remain")
			}
		})
	}
}

func TestStore_Ready(t *testing.T) {
	t.Parallel()

	for name, s := range openStores(t) {
		if err := s.Ready(context.Background()); err != nil {
			t.Errorf("%s: Ready() error = %v", name, err)
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "redis"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestFileStore_CorruptEntry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := openFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	path, _ := s.path(testKey)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := s.Get(ctx, testKey); ok || err == nil {
		t.Fatalf("expected decode error, got ok=%v err=%v", ok, err)
	}

	removed, err := s.DeleteBefore(ctx, time.Now())
	if err != nil {
		t.Fatalf("DeleteBefore() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("expected corrupt entry to be swept, removed = %d", removed)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file removed, stat err = %v", err)
	}
}

func TestFileStore_RejectsPathKeys(t *testing.T) {
	t.Parallel()

	s, err := openFile(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"", "ab", "../etc/passwd", "ab/cd"} {
		if err := s.Put(context.Background(), key, Entry{StoredAt: time.Now()}); err == nil {
			t.Errorf("Put(%q) expected error", key)
		}
	}
}
