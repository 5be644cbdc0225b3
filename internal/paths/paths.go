// Package paths resolves the clawdis configuration directory and the
// well-known paths beneath it. It has no internal imports (only stdlib)
// to avoid import cycles; callers log results themselves.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirEnv is the override environment variable checked first.
const ConfigDirEnv = "WARELAY_CONFIG_DIR"

// configDir caches the resolved directory for the lifetime of the process.
var configDir string

// ResolveConfigDir picks the configuration directory using the search
// order: explicit env override, ~/.clawdis, ~/.warelay, ./clawdis,
// finally an OS-temp subdirectory. The first writable candidate wins;
// a candidate is writable if it exists (or can be created) and a probe
// file can be written into it.
func ResolveConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}

	home, _ := os.UserHomeDir()

	var candidates []string
	if override := os.Getenv(ConfigDirEnv); override != "" {
		candidates = append(candidates, override)
	}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".clawdis"))
		candidates = append(candidates, filepath.Join(home, ".warelay"))
	}
	candidates = append(candidates, "./clawdis")
	candidates = append(candidates, filepath.Join(os.TempDir(), "clawdis"))

	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		if isWritableDir(abs) {
			configDir = abs
			return configDir, nil
		}
	}

	return "", fmt.Errorf("no writable configuration directory found among candidates: %v", candidates)
}

// isWritableDir reports whether dir exists (or can be created) and a
// probe file can be written into it.
func isWritableDir(dir string) bool {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return false
	}
	probe := filepath.Join(dir, ".write-test")
	f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// SetConfigDirForTest overrides the cached resolution; test-only.
func SetConfigDirForTest(dir string) { configDir = dir }

// DataPath returns a path within the configuration directory.
func DataPath(subpath string) (string, error) {
	base, err := ResolveConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigFilePath returns the path to clawdis.json, falling back to the
// legacy warelay.json name if that's the one already on disk.
func ConfigFilePath() (string, error) {
	base, err := ResolveConfigDir()
	if err != nil {
		return "", err
	}
	primary := filepath.Join(base, "clawdis.json")
	if _, err := os.Stat(primary); err == nil {
		return primary, nil
	}
	legacy := filepath.Join(base, "warelay.json")
	if _, err := os.Stat(legacy); err == nil {
		return legacy, nil
	}
	return primary, nil
}

// CredentialsDir returns <cfg>/credentials (WA-Web auth state).
func CredentialsDir() (string, error) { return DataPath("credentials") }

// TelegramSessionPath returns <cfg>/telegram/session/session.string.
func TelegramSessionPath() (string, error) {
	return DataPath(filepath.Join("telegram", "session", "session.string"))
}

// TelegramTempDir returns <cfg>/telegram-temp.
func TelegramTempDir() (string, error) { return DataPath("telegram-temp") }

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// EnsureParentDir creates the parent directory of a file path if needed.
func EnsureParentDir(filePath string) error {
	return EnsureDir(filepath.Dir(filePath))
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[1:]), nil
}
