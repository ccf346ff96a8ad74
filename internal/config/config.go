package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the runtime configuration for the server, loaded from the
// environment. cmd/server loads an optional .env file before calling Load.
type Config struct {
	// HTTP server
	Port string

	// Database
	DBPath string

	// Assets
	TemplateDir string
	StaticDir   string

	// Set the Secure flag on session cookies (enable behind TLS).
	SecureCookie bool
}

// Load reads configuration from the environment, falling back to defaults
// suitable for local development.
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		DBPath:       getEnv("DB_PATH", "kakeibo.db"),
		TemplateDir:  getEnv("TEMPLATE_DIR", "web/templates"),
		StaticDir:    getEnv("STATIC_DIR", "web/static"),
		SecureCookie: getEnvBool("SECURE_COOKIE", false),
	}
}

// Validate checks the configuration and returns an error listing every
// problem found.
func (c *Config) Validate() error {
	var errs []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port %q: must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.DBPath == "" {
		errs = append(errs, "database path cannot be empty")
	}
	if c.TemplateDir == "" {
		errs = append(errs, "template directory cannot be empty")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
