package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Entry is one stored response.
type Entry struct {
	Response json.RawMessage `json:"response"`
	StoredAt time.Time       `json:"storedAt"`
}

// Store persists cache entries. Implementations must tolerate concurrent
// readers and writers, including other processes sharing the location.
type Store interface {
	// Get returns the entry for key. A missing entry is (Entry{}, false, nil).
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Put overwrites the entry for key unconditionally.
	Put(ctx context.Context, key string, e Entry) error
	// DeleteBefore removes entries stored before cutoff and returns how many.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
	// Ready reports whether the backing storage is usable.
	Ready(ctx context.Context) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config) (Store, error) {
	cfg = cfg.withDefaults()
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "file":
		return openFile(cfg.Dir)
	case "sqlite", "sqlite3":
		return openSQLite(cfg.SQLitePath)
	default:
		return nil, errors.New("unknown cache driver: " + cfg.Driver)
	}
}
