package dispatcher

import (
	"curator/internal/config"
	"time"
)

const (
	defaultMaxRetries       = 3
	defaultBaseDelay        = 500 * time.Millisecond
	defaultBackoffFactor    = 2.0
	defaultMaxBackoff       = 30 * time.Second
	defaultEnvJitter        = 0.2
	defaultRequestTimeout   = 30 * time.Second
	defaultMaxResponseBytes = 32 << 20
	defaultUserAgent        = "curator-scheduler/1.0"
)

// Config holds retry and transport settings for the HTTP dispatcher.
type Config struct {
	MaxRetries       int           // additional attempts after the first (default: 3, 0 disables retry)
	BaseDelay        time.Duration // backoff before the first retry (default: 500ms)
	BackoffFactor    float64       // multiplier per retry (default: 2)
	MaxBackoff       time.Duration // backoff ceiling (default: 30s)
	BackoffJitter    float64       // randomized fraction of each backoff, 0..1
	RequestTimeout   time.Duration // per-attempt timeout (default: 30s)
	MaxResponseBytes int64         // response body limit (default: 32MiB)
	UserAgent        string
}

// LoadConfigFromEnv loads dispatcher configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		MaxRetries:     config.GetIntEnv("DISPATCHER_MAX_RETRIES", defaultMaxRetries),
		BaseDelay:      config.GetDurationEnv("DISPATCHER_BASE_DELAY", defaultBaseDelay),
		BackoffFactor:  config.GetFloatEnv("DISPATCHER_BACKOFF_FACTOR", defaultBackoffFactor),
		MaxBackoff:     config.GetDurationEnv("DISPATCHER_MAX_BACKOFF", defaultMaxBackoff),
		BackoffJitter:  config.GetFloatEnv("DISPATCHER_BACKOFF_JITTER", defaultEnvJitter),
		RequestTimeout: config.GetDurationEnv("DISPATCHER_REQUEST_TIMEOUT", defaultRequestTimeout),
	}
	return cfg.withDefaults()
}

// withDefaults fills in invalid values with defaults.
func (c Config) withDefaults() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = defaultBaseDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = defaultBackoffFactor
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	c.BackoffJitter = min(max(c.BackoffJitter, 0), 1)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = defaultMaxResponseBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}
