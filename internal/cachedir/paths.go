// Package cachedir defines the on-disk layout of a cache directory:
//
//	<dir>/cache.db      the SQLite database (plus -wal/-shm siblings)
//	<dir>/config.toml   tuning knobs
//	<dir>/LOCK          single-process guard
//	<dir>/logs/         daemon logs
package cachedir

import (
	"os"
	"path/filepath"
)

// Default returns ~/.chatcache, the directory used when none is given.
func Default() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatcache")
}

// Resolve picks the cache directory: the explicit override if non-empty,
// otherwise CHATCACHE_DIR from the environment, otherwise Default.
func Resolve(override string) string {
	if override != "" {
		return override
	}
	if env := os.Getenv("CHATCACHE_DIR"); env != "" {
		return env
	}
	return Default()
}

// DBPath returns the SQLite database path inside dir.
func DBPath(dir string) string {
	return filepath.Join(dir, "cache.db")
}

// ConfigPath returns the config file path inside dir.
func ConfigPath(dir string) string {
	return filepath.Join(dir, "config.toml")
}

// LogDir returns the log directory inside dir.
func LogDir(dir string) string {
	return filepath.Join(dir, "logs")
}

// LogPath returns the daemon log file path inside dir.
func LogPath(dir string) string {
	return filepath.Join(LogDir(dir), "chatcached.log")
}

// Ensure creates the cache directory tree with owner-only permissions.
func Ensure(dir string) error {
	for _, d := range []string{dir, LogDir(dir)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
