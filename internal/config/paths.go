// Package config provides configuration management for qvmctl.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds platform-specific directory paths for qvmctl.
type Paths struct {
	// ConfigDir is the directory for configuration files.
	// macOS: ~/Library/Application Support/qvmctl
	// Linux: ~/.config/qvmctl (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir holds definitions, disks and run history.
	// All platforms: ~/.qvmctl
	DataDir string

	// ConfigFile is the path to the main config file.
	ConfigFile string
}

// GetPaths returns platform-aware paths for qvmctl.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{}

	// Data directory is always ~/.qvmctl
	p.DataDir = filepath.Join(home, ".qvmctl")

	// Config directory is platform-specific
	switch runtime.GOOS {
	case "darwin":
		p.ConfigDir = filepath.Join(home, "Library", "Application Support", "qvmctl")
	default: // Linux and others
		// Respect XDG_CONFIG_HOME if set
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "qvmctl")
		} else {
			p.ConfigDir = filepath.Join(home, ".config", "qvmctl")
		}
	}

	// Config file lives in data directory for simplicity
	p.ConfigFile = filepath.Join(p.DataDir, "config.yaml")

	return p, nil
}

// MachinesDir is the default definition store root.
func (p *Paths) MachinesDir() string {
	return filepath.Join(p.DataDir, "machines")
}

// DisksDir is the default location for new disk images.
func (p *Paths) DisksDir() string {
	return filepath.Join(p.DataDir, "disks")
}

// HistoryDir is the default location for run records.
func (p *Paths) HistoryDir() string {
	return filepath.Join(p.DataDir, "history")
}

// EnsureDirectories creates the config and data directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(p.DataDir, 0755); err != nil {
		return err
	}
	return nil
}
