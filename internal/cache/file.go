package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fileStore keeps one JSON document per key under dir/<key[:2]>/<key>.json.
// Writes go through a temp file and rename, so readers never observe a
// partially written entry.
type fileStore struct {
	dir string
}

func openFile(dir string) (*fileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("cache dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &fileStore{dir: dir}, nil
}

func (s *fileStore) path(key string) (string, error) {
	if len(key) < 3 || strings.ContainsAny(key, `/\.`) {
		return "", fmt.Errorf("invalid cache key %q", key)
	}
	return filepath.Join(s.dir, key[:2], key+".json"), nil
}

func (s *fileStore) Get(_ context.Context, key string) (Entry, bool, error) {
	path, err := s.path(key)
	if err != nil {
		return Entry{}, false, err
	}
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	if e.StoredAt.IsZero() {
		return Entry{}, false, fmt.Errorf("decode %s: missing storedAt", filepath.Base(path))
	}
	return e, true, nil
}

func (s *fileStore) Put(_ context.Context, key string, e Entry) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomicWriteFile(path, b, 0o644)
}

// DeleteBefore walks the cache tree. Entries that cannot be decoded are
// removed as well, as are temp files abandoned by crashed writers.
func (s *fileStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		name := d.Name()
		switch {
		case strings.Contains(name, ".tmp."):
			info, err := d.Info()
			if err == nil && info.ModTime().Before(cutoff) {
				if os.Remove(path) == nil {
					removed++
				}
			}
		case strings.HasSuffix(name, ".json"):
			if s.expired(path, cutoff) {
				if err := os.Remove(path); err == nil {
					removed++
				} else if !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
		}
		return nil
	})
	return removed, err
}

func (s *fileStore) expired(path string, cutoff time.Time) bool {
	b, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil || e.StoredAt.IsZero() {
		return true
	}
	return e.StoredAt.Before(cutoff)
}

func (s *fileStore) Ready(_ context.Context) error {
	f, err := os.CreateTemp(s.dir, ".ready.tmp.*")
	if err != nil {
		return fmt.Errorf("cache dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func (s *fileStore) Close() error { return nil }

// atomicWriteFile writes data to a unique temp file in the target directory
// and renames it into place.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

var _ Store = (*fileStore)(nil)
