package scheduler

import (
	"curator/internal/config"
)

const (
	defaultMaxQueueSize   = 1000
	defaultCallsPerSecond = 1.0
)

// Config holds per-scheduler limits.
type Config struct {
	MaxQueueSize   int     // queued items before submit fails with queue-full (default: 1000)
	CallsPerSecond float64 // initial pacing rate (default: 1)
}

// LoadConfigFromEnv loads scheduler configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxQueueSize:   config.GetIntEnv("SCHEDULER_MAX_QUEUE_SIZE", defaultMaxQueueSize),
		CallsPerSecond: config.GetFloatEnv("SCHEDULER_CALLS_PER_SECOND", defaultCallsPerSecond),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = defaultMaxQueueSize
	}
	if c.CallsPerSecond <= 0 {
		c.CallsPerSecond = defaultCallsPerSecond
	}
	return c
}
