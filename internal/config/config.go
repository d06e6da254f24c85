// Package config holds process-level settings shared by every command.
// Per-run settings live in the workflow spec file instead.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	DataDir        string
	DBPath         string
	UserSpecDir    string
	ProjectSpecDir string
	MetricsFile    string
	LogLevel       slog.Level
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to find home directory: %w", err)
	}

	dataDir := getEnv("DIRECTOR_DATA_DIR", filepath.Join(homeDir, ".director"))

	level, err := ParseLevel(getEnv("DIRECTOR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	c := &Config{
		DataDir:        dataDir,
		DBPath:         filepath.Join(dataDir, "director.db"),
		UserSpecDir:    filepath.Join(dataDir, "specs"),
		ProjectSpecDir: filepath.Join(".director", "specs"),
		MetricsFile:    os.Getenv("DIRECTOR_METRICS_FILE"),
		LogLevel:       level,
	}

	return c, nil
}

func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(c.UserSpecDir, 0755); err != nil {
		return fmt.Errorf("failed to create spec directory: %w", err)
	}
	return nil
}

// SpecDirs lists where specs are looked up by name, project first.
func (c *Config) SpecDirs(root string) []string {
	return []string{filepath.Join(root, c.ProjectSpecDir), c.UserSpecDir}
}

// ParseLevel accepts debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}
