// Package paths resolves the platform directories used for persisted hub
// state. It follows the XDG base-directory convention, with a fallback to
// the legacy ~/.mcp-hub directory when one already exists so that
// installations created before the XDG switch keep their data.
package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appDirName = "mcp-hub"

// legacyDir returns ~/.mcp-hub if it exists, otherwise "".
func legacyDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, "."+appDirName)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return dir
	}
	return ""
}

// StateDir returns the directory for runtime state (workspace cache, logs).
func StateDir() string {
	if dir := legacyDir(); dir != "" {
		return dir
	}
	return filepath.Join(xdg.StateHome, appDirName)
}

// DataDir returns the directory for durable data (OAuth storage).
func DataDir() string {
	if dir := legacyDir(); dir != "" {
		return dir
	}
	return filepath.Join(xdg.DataHome, appDirName)
}

// CacheDir returns the directory reserved for cache data such as the
// marketplace catalog fetched by external tooling.
func CacheDir() string {
	if dir := legacyDir(); dir != "" {
		return filepath.Join(dir, "cache")
	}
	return filepath.Join(xdg.CacheHome, appDirName)
}

// WorkspaceFile returns the path of the cross-process workspace cache,
// creating its parent directory if needed.
func WorkspaceFile() (string, error) {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspaces.json"), nil
}

// LogFile returns the path of the hub log file, creating its parent
// directory if needed.
func LogFile() (string, error) {
	dir := filepath.Join(StateDir(), "logs")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(dir, "mcp-hub.log"), nil
}

// OAuthStorageFile returns the path of the OAuth token store, creating its
// parent directory if needed.
func OAuthStorageFile() (string, error) {
	dir := DataDir()
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return filepath.Join(dir, "oauth-storage.json"), nil
}
