package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/adrg/xdg"
)

// warningShown checks if the keyring-fallback warning has already been
// shown. Uses a marker file in the data directory to avoid repeating on
// every command.
func warningShown() bool {
	_, err := os.Stat(warningMarkerPath())
	return err == nil
}

func markWarningShown() {
	dir := filepath.Dir(warningMarkerPath())
	_ = os.MkdirAll(dir, 0700)
	_ = os.WriteFile(warningMarkerPath(), []byte("1"), 0600)
}

func warningMarkerPath() string {
	return filepath.Join(xdg.DataHome, "veil", ".keyring-warning-shown")
}

// quietMode returns true if the user has suppressed warnings via VEIL_QUIET.
func quietMode() bool {
	return os.Getenv("VEIL_QUIET") == "1" || os.Getenv("VEIL_QUIET") == "true"
}

// warnOnce prints a message to stderr, but only the first time.
// Subsequent invocations are suppressed via a marker file.
// Set VEIL_QUIET=1 to suppress entirely.
func warnOnce(msg string) {
	if quietMode() || warningShown() {
		return
	}
	fmt.Fprintln(os.Stderr, msg)
	markWarningShown()
}

// IsWSL returns true if running under Windows Subsystem for Linux.
func IsWSL() bool {
	if runtime.GOOS != "linux" {
		return false
	}

	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}

	version := strings.ToLower(string(data))
	return strings.Contains(version, "microsoft") || strings.Contains(version, "wsl")
}

// IsHeadless returns true if running in a headless environment (no display
// server). Only applicable on Linux; macOS and Windows are assumed to have
// a native credential store.
func IsHeadless() bool {
	if runtime.GOOS != "linux" {
		return false
	}

	// Check for X11 or Wayland display
	return os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == ""
}
