package cli

import (
	"fmt"

	"github.com/veilbox/veil/internal/config"
	"github.com/veilbox/veil/internal/output"
)

// ConfigCmd holds descriptor subcommands
type ConfigCmd struct {
	Path ConfigPathCmd `cmd:"" help:"Show the descriptor file path"`
	Init ConfigInitCmd `cmd:"" help:"Write a starter descriptor"`
}

// ConfigPathCmd prints the effective descriptor path.
type ConfigPathCmd struct{}

func (cmd *ConfigPathCmd) Run(g *Globals) error {
	path := g.Descriptor
	if path == "" {
		path = config.DescriptorPath()
	}
	fmt.Println(path)
	return nil
}

// ConfigInitCmd writes a commented starter descriptor.
type ConfigInitCmd struct{}

func (cmd *ConfigInitCmd) Run(g *Globals, fp *FormatterProvider) error {
	path := g.Descriptor
	if path == "" {
		path = config.DescriptorPath()
	}
	if err := config.WriteSample(path); err != nil {
		return output.NewCLIError(output.ExitConfigError, err.Error())
	}
	fp.Formatter.PrintHint("Wrote " + path)
	return nil
}
