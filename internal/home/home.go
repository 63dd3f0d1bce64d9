package home

import (
	"os"
	"path/filepath"
)

// Resolve determines the data directory using precedence:
// 1. flagOverride (--home flag)
// 2. CASHMATE_HOME environment variable
// 3. ~/.cashmate
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if env := os.Getenv("CASHMATE_HOME"); env != "" {
		return env
	}
	dir, _ := os.UserHomeDir()
	return filepath.Join(dir, ".cashmate")
}

// DBPath returns the app-owned cashmate.db path.
func DBPath(dir string) string {
	return filepath.Join(dir, "cashmate.db")
}

// LogDir returns the log directory.
func LogDir(dir string) string {
	return filepath.Join(dir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dir string) string {
	return filepath.Join(LogDir(dir), "cashmated.log")
}

// ConfigPath returns the config file path.
func ConfigPath(dir string) string {
	return filepath.Join(dir, "config.toml")
}

// EnsureDir creates the data directory tree with proper permissions.
func EnsureDir(dir string) error {
	dirs := []string{
		dir,
		LogDir(dir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
