// Package config provides centralized configuration loading for lumenrig.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all lumenrig process configuration.
type Config struct {
	// Core
	RefreshHz float64
	ShowPath  string
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	// Control API auth
	JWTSecret string

	// Audit trail (optional — empty disables it)
	AuditPostgresURL string

	// Transport
	SACNTarget string // host:port for the simulated sACN/Art-Net UDP transport
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	refreshHz, err := strconv.ParseFloat(getenv("LUMENRIG_REFRESH_HZ", "40"), 64)
	if err != nil || refreshHz <= 0 {
		return nil, fmt.Errorf("LUMENRIG_REFRESH_HZ must be a positive number")
	}

	c := &Config{
		RefreshHz:        refreshHz,
		ShowPath:         getenv("LUMENRIG_SHOW_PATH", "show.json"),
		HTTPAddr:         getenv("LUMENRIG_HTTP_ADDR", ":8080"),
		LogLevel:         getenv("LUMENRIG_LOG_LEVEL", "info"),
		LogFormat:        getenv("LUMENRIG_LOG_FORMAT", "json"),
		JWTSecret:        os.Getenv("LUMENRIG_JWT_SECRET"),
		AuditPostgresURL: os.Getenv("LUMENRIG_AUDIT_POSTGRES_URL"),
		SACNTarget:       getenv("LUMENRIG_SACN_TARGET", "127.0.0.1:6454"),
	}

	if c.JWTSecret == "" {
		return nil, fmt.Errorf("LUMENRIG_JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 16 {
		return nil, fmt.Errorf("LUMENRIG_JWT_SECRET must be at least 16 characters")
	}

	return c, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
