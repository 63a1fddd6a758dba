package cache

import (
	"curator/internal/config"
	"time"
)

const (
	defaultDriver        = "file"
	defaultDir           = "./cache"
	defaultSQLitePath    = "./cache/cache.db"
	defaultMaxAge        = 30 * 24 * time.Hour
	defaultSweepSchedule = "@every 1h"
)

// Config selects and tunes the cache backend.
//
// Driver values:
//   - "file": one JSON file per entry under Dir
//   - "sqlite": a single SQLite database at SQLitePath
type Config struct {
	Driver        string
	Dir           string
	SQLitePath    string
	MaxAge        time.Duration // absolute ceiling; older entries are swept regardless of request TTLs
	SweepSchedule string        // cron spec for the sweeper
}

// LoadConfigFromEnv loads cache configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Driver:        config.GetEnv("CACHE_DRIVER", defaultDriver),
		Dir:           config.GetEnv("CACHE_DIR", defaultDir),
		SQLitePath:    config.GetEnv("CACHE_SQLITE_PATH", defaultSQLitePath),
		MaxAge:        config.GetDurationEnv("CACHE_MAX_AGE", defaultMaxAge),
		SweepSchedule: config.GetEnv("CACHE_SWEEP_SCHEDULE", defaultSweepSchedule),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Driver == "" {
		c.Driver = defaultDriver
	}
	if c.Dir == "" {
		c.Dir = defaultDir
	}
	if c.SQLitePath == "" {
		c.SQLitePath = defaultSQLitePath
	}
	if c.MaxAge <= 0 {
		c.MaxAge = defaultMaxAge
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = defaultSweepSchedule
	}
	return c
}
