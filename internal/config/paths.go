package config

import (
	"os"
	"path/filepath"
)

const appDir = "claude-ui"

// ConfigPath returns $XDG_CONFIG_HOME/claude-ui/config.json.
func ConfigPath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), appDir, "config.json")
}

// DataDir returns $XDG_DATA_HOME/claude-ui.
func DataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), appDir)
}

// DBPath returns the session index database under dataDir.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "sessions.db")
}

// MessagesDir returns the transcript directory under dataDir.
func MessagesDir(dataDir string) string {
	return filepath.Join(dataDir, "messages")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}
