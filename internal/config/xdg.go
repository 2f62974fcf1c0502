package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Dir returns the XDG-compliant config directory for veil.
// Typically ~/.config/veil/ on Linux.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, "veil")
}

// DescriptorPath returns the default path of the secret descriptor.
func DescriptorPath() string {
	return filepath.Join(Dir(), "secrets.json5")
}

// DataDir returns the XDG-compliant data directory for veil.
// Typically ~/.local/share/veil/ on Linux (keyring file fallback).
func DataDir() string {
	return filepath.Join(xdg.DataHome, "veil")
}
