// Package config provides configuration loading and path utilities.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultConfigDir returns the default configuration directory (~/.kronos).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".kronos"), nil
}

// DefaultConfigPath returns the default configuration file path (~/.kronos/config.yaml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// DefaultStoragePath returns the default storage location for a driver:
// ~/.kronos/chat_sessions for "file", ~/.kronos/data.db for "sqlite".
func DefaultStoragePath(driver string) (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	if driver == "sqlite" {
		return filepath.Join(dir, "data.db"), nil
	}
	return filepath.Join(dir, "chat_sessions"), nil
}

// ExpandPath expands ~ prefix in path to user home directory.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home dir: %w", err)
		}
		return filepath.Join(home, path[2:]), nil
	}

	if path == "~" {
		return os.UserHomeDir()
	}

	return path, nil
}
