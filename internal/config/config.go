// Package config provides configuration loading from environment variables
// and the optional scheduler presets file.
package config

import (
	"log/slog"
	"time"
)

// ServiceConfig holds process-level settings of the scheduler service.
// Component settings live next to their components (scheduler, dispatcher,
// cache, notify), each with its own LoadConfigFromEnv.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	LogLevel          slog.Level
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	PresetsFile       string        // YAML file of schedulers to create at boot (empty to skip)
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		LogLevel:          parseEnv("LOG_LEVEL", slog.LevelInfo, parseLevel),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		PresetsFile:       GetEnv("PRESETS_FILE", ""),
	}
}

// parseLevel accepts debug, info, warn and error, with optional offsets
// such as "debug-2".
func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	err := l.UnmarshalText([]byte(s))
	return l, err
}
