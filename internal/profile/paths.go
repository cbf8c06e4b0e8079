// Package profile resolves the on-disk layout for a local profile. Each
// profile owns its database, media cache, and logs so several accounts can
// coexist on one machine.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.syncbox.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".syncbox")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// LockPath returns the lock file path for a profile.
func LockPath(name string) string {
	return filepath.Join(Dir(name), "LOCK")
}

// DBPath returns the profile's database path.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "syncbox.db")
}

// MediaDir returns the media cache directory for a profile.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the engine log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "syncbox.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(name string) error {
	dirs := []string{
		Dir(name),
		MediaDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
