// Package config loads the handful of environment settings scion
// recognizes. Process launch and env parsing are deliberately kept out of
// the domain packages, so the loader stays a plain struct with no
// third-party config framework behind it.
package config

import (
	"os"
)

// Config holds scion's runtime settings.
type Config struct {
	// Port is the HTTP listen port.
	Port string
	// Host is the bind address.
	Host string
	// LogLevel is the slog threshold name: debug, info, warn, error.
	LogLevel string
	// VaultPath is the absolute or CWD-relative root directory under
	// which every vault's directory lives.
	VaultPath string
}

// FromEnv reads Config from the process environment, applying the
// defaults a bare `scion serve` needs to be useful without any setup.
func FromEnv() Config {
	return Config{
		Port:      getenv("PORT", "8080"),
		Host:      getenv("HOST", "0.0.0.0"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		VaultPath: getenv("VAULT_PATH", "."),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return c.Host + ":" + c.Port
}
