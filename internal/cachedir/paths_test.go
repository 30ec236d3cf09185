package cachedir

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Setenv("CHATCACHE_DIR", "")

	if got := Resolve("/explicit"); got != "/explicit" {
		t.Errorf("Resolve with override = %q, want /explicit", got)
	}

	t.Setenv("CHATCACHE_DIR", "/from-env")
	if got := Resolve(""); got != "/from-env" {
		t.Errorf("Resolve from env = %q, want /from-env", got)
	}
	// Override beats the environment.
	if got := Resolve("/explicit"); got != "/explicit" {
		t.Errorf("Resolve = %q, want override to win", got)
	}

	t.Setenv("CHATCACHE_DIR", "")
	if got := Resolve(""); got != Default() {
		t.Errorf("Resolve = %q, want default %q", got, Default())
	}
}

func TestLayout(t *testing.T) {
	dir := "/data/cache"
	if got := DBPath(dir); got != filepath.Join(dir, "cache.db") {
		t.Errorf("DBPath = %q", got)
	}
	if got := ConfigPath(dir); got != filepath.Join(dir, "config.toml") {
		t.Errorf("ConfigPath = %q", got)
	}
	if got := LogPath(dir); got != filepath.Join(dir, "logs", "chatcached.log") {
		t.Errorf("LogPath = %q", got)
	}
}

func TestEnsure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	if err := Ensure(dir); err != nil {
		t.Fatal(err)
	}

	for _, d := range []string{dir, LogDir(dir)} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("stat %s: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
		if perm := info.Mode().Perm(); perm != 0700 {
			t.Errorf("%s has mode %o, want 0700", d, perm)
		}
	}

	// Idempotent on an existing tree.
	if err := Ensure(dir); err != nil {
		t.Errorf("second Ensure: %v", err)
	}
}
