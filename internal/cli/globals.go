package cli

import (
	"os"
	"time"

	"golang.org/x/term"
)

// Globals holds global flags available to all commands
type Globals struct {
	Descriptor string        `help:"Path to the secret descriptor" type:"path" env:"VEIL_DESCRIPTOR"`
	Output     string        `help:"Output format" default:"auto" enum:"json,plain,rich,auto" short:"o" env:"VEIL_OUTPUT"`
	Timeout    time.Duration `help:"Per-operation timeout" default:"30s" env:"VEIL_TIMEOUT"`
	Quiet      bool          `help:"Suppress warnings" short:"q" env:"VEIL_QUIET"`
}

// ResolvedOutput returns the effective output mode
// "auto" detects TTY: if stdout is TTY -> rich, else -> plain
func (g *Globals) ResolvedOutput() string {
	if g.Output != "auto" {
		return g.Output
	}

	// Detect if stdout is a TTY
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return "rich"
	}

	return "plain"
}
