// Package state centralizes filesystem locations for notifybridge's runtime
// artifacts: its own logs and PID file, plus the drop-zone directories and
// configuration files the rest of the bridge resolves relative to a single
// root (§6.5).
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// StateDirEnv overrides the default runtime state root.
	StateDirEnv = "NOTIFYBRIDGE_STATE_DIR"

	xdgStateHomeEnv = "XDG_STATE_HOME"
	appName         = "notifybridge"
)

// RootDir returns the runtime state root for notifybridge.
// Resolution order:
//  1. NOTIFYBRIDGE_STATE_DIR (if set)
//  2. XDG_STATE_HOME/notifybridge (if XDG_STATE_HOME is set)
//  3. os.UserConfigDir()/notifybridge (cross-platform fallback)
func RootDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv(StateDirEnv)); override != "" {
		return normalizePath(override)
	}

	if xdg := strings.TrimSpace(os.Getenv(xdgStateHomeEnv)); xdg != "" {
		root, err := normalizePath(xdg)
		if err != nil {
			return "", err
		}
		return filepath.Join(root, appName), nil
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	root, err := normalizePath(configDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, appName), nil
}

// LogsDir returns the logs directory under RootDir.
func LogsDir() (string, error) {
	return InRoot("logs")
}

// DefaultLogFile returns the default structured log file path.
func DefaultLogFile() (string, error) {
	return InRoot("logs", "notifybridge.jsonl")
}

// CrashLogFile returns the panic crash log file path.
func CrashLogFile() (string, error) {
	return InRoot("logs", "crash.log")
}

// PIDFile returns the PID file path for the admin HTTP surface listening on
// the given port.
func PIDFile(port int) (string, error) {
	return InRoot("run", "notifybridge-"+strconv.Itoa(port)+".pid")
}

// DefaultEventsDir returns the default event drop-zone directory (§6.5),
// used when configuration doesn't override events-dir.
func DefaultEventsDir() (string, error) {
	return InRoot("events")
}

// DefaultResponsesDir returns the default response drop-zone directory
// (§6.5), used when configuration doesn't override responses-dir.
func DefaultResponsesDir() (string, error) {
	return InRoot("responses")
}

// SecurityConfigFile returns the security monitor's configured-pattern file
// path (§4.11's operator-supplied additions on top of the built-ins).
func SecurityConfigFile() (string, error) {
	return InRoot("security", "security.json")
}

// RedactionConfigFile returns the redaction engine's configured-pattern file
// path (C1's operator-supplied additions on top of the built-ins).
func RedactionConfigFile() (string, error) {
	return InRoot("security", "redaction.json")
}

// InRoot returns a path rooted under RootDir with additional path elements.
func InRoot(parts ...string) (string, error) {
	root, err := RootDir()
	if err != nil {
		return "", err
	}
	all := make([]string, 0, len(parts)+1)
	all = append(all, root)
	all = append(all, parts...)
	return filepath.Join(all...), nil
}

// normalizePath resolves path to a clean, absolute form, confining every
// state-root candidate to a single canonical representation regardless of
// how an operator supplied it (relative, with `..` segments, etc).
func normalizePath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot resolve path %q: %w", path, err)
	}
	return filepath.Clean(absPath), nil
}
