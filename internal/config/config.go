// Package config handles loading and validation of kelvinfs configuration:
// global daemon settings plus the named connection profiles the manager
// dials. Profile files may be YAML or TOML; a handful of global settings can
// be overridden through KELVINFS_* environment variables.
package config

import (
	"fmt"
	"strconv"
	"time"
)

// Global configuration defaults.
const (
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultHealthPort   = 8080
	DefaultIdleInterval = 5 * time.Second
	DefaultConfigPath   = "/etc/kelvinfs/config.yaml"
)

// GlobalConfig holds application-wide settings.
type GlobalConfig struct {
	// Logging configuration
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// HealthPort is the port for the health/metrics endpoints.
	HealthPort int

	// IdleInterval is how often each connection's idle check runs.
	IdleInterval time.Duration
}

// applyGlobalDefaults fills unset global settings.
func applyGlobalDefaults(g *GlobalConfig) {
	if g.LogLevel == "" {
		g.LogLevel = DefaultLogLevel
	}
	if g.LogFormat == "" {
		g.LogFormat = DefaultLogFormat
	}
	if g.HealthPort == 0 {
		g.HealthPort = DefaultHealthPort
	}
	if g.IdleInterval == 0 {
		g.IdleInterval = DefaultIdleInterval
	}
}

// applyGlobalEnv overrides global settings from KELVINFS_* environment
// variables.
func applyGlobalEnv(g *GlobalConfig) error {
	if v := getEnv("KELVINFS_LOG_LEVEL"); v != "" {
		g.LogLevel = v
	}
	if v := getEnv("KELVINFS_LOG_FORMAT"); v != "" {
		g.LogFormat = v
	}
	if v := getEnv("KELVINFS_HEALTH_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid KELVINFS_HEALTH_PORT %q: %w", v, err)
		}
		g.HealthPort = port
	}
	if v := getEnv("KELVINFS_IDLE_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid KELVINFS_IDLE_INTERVAL %q: %w", v, err)
		}
		g.IdleInterval = interval
	}
	return nil
}
