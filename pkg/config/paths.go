package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "igcomments"

// DataDir returns the configured data directory, or the platform default
// when none is set. The directory is created if missing.
func (c *Config) DataDir() (string, error) {
	dir := c.Output.DataDirectory
	if dir == "" {
		var err error
		if dir, err = defaultDataDirectory(); err != nil {
			return "", err
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// SubDir returns a named directory under the data directory
func (c *Config) SubDir(name string) (string, error) {
	root, err := c.DataDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", name, err)
	}
	return dir, nil
}

func defaultDataDirectory() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		return filepath.Join(appData, appName), nil
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".local", "share", appName), nil
	}
}

// FilePath returns explicit when set, else the first existing config file
// in the search locations, else the per-user default location.
func FilePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	c := &Config{}
	if found := c.findConfigFile(); found != "" {
		return found
	}
	return filepath.Join(os.Getenv("HOME"), ".config", appName, "config.yaml")
}

// LoadFile reads path over the defaults without environment or flag
// overrides. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}
