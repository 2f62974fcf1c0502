package cli

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/veilbox/veil/internal/backend"
	"github.com/veilbox/veil/internal/output"
)

// GetCmd resolves one secret and writes the raw value to stdout. This
// is the single place a secret value crosses into CLI output, by
// explicit request; nothing else prints values.
type GetCmd struct {
	Name string `arg:"" help:"Secret name or alias from the descriptor"`
}

func (cmd *GetCmd) Run(p *Provider, g *Globals, fp *FormatterProvider) error {
	brk, err := p.Broker()
	if err != nil {
		return err
	}
	defer brk.Close()

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()

	value, err := brk.Resolve(ctx, cmd.Name)
	if err != nil {
		return output.FromBrokerError(err)
	}
	defer backend.Zero(value)

	if _, err := os.Stdout.Write(value); err != nil {
		return err
	}
	// Trailing newline only for humans; pipes get the exact bytes.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println()
	}
	return nil
}

// ListCmd prints the descriptor's bindings. No backend is contacted
// and no value is read.
type ListCmd struct{}

func (cmd *ListCmd) Run(p *Provider, fp *FormatterProvider) error {
	brk, err := p.Broker()
	if err != nil {
		return err
	}

	desc := brk.Descriptor()
	rows := make([]map[string]string, 0, len(desc.Secrets))
	for _, name := range desc.Names() {
		binding := desc.Secrets[name]
		rows = append(rows, map[string]string{
			"name":    name,
			"backend": binding.Backend,
			"locator": binding.Locator(name),
		})
	}

	columns := []output.Column{
		{Name: "NAME", Key: "name"},
		{Name: "BACKEND", Key: "backend"},
		{Name: "LOCATOR", Key: "locator", Width: 48},
	}
	return fp.Formatter.PrintRows(columns, rows)
}
