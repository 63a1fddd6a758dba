package notify

import (
	"curator/internal/config"
	"time"
)

const defaultSource = "curator/scheduler"

// Config holds configuration for the notification service.
type Config struct {
	BufferSize int           // pending notifications buffer (default: 1000)
	Workers    int           // concurrent delivery goroutines (default: 4)
	Timeout    time.Duration // per-delivery timeout (default: 10s)
	Source     string        // CloudEvent source attribute
}

// LoadConfigFromEnv loads notification configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BufferSize: config.GetIntEnv("NOTIFY_BUFFER_SIZE", 1000),
		Workers:    config.GetIntEnv("NOTIFY_WORKERS", 4),
		Timeout:    config.GetDurationEnv("NOTIFY_TIMEOUT", 10*time.Second),
		Source:     config.GetEnv("NOTIFY_SOURCE", defaultSource),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Source == "" {
		c.Source = defaultSource
	}
	return c
}
