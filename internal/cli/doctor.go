package cli

import (
	"context"
	"sort"

	"github.com/veilbox/veil/internal/backend"
	"github.com/veilbox/veil/internal/output"
)

// DoctorCmd health-checks every backend the descriptor references.
type DoctorCmd struct{}

func (cmd *DoctorCmd) Run(p *Provider, g *Globals, fp *FormatterProvider) error {
	brk, err := p.Broker()
	if err != nil {
		return err
	}
	defer brk.Close()

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()

	health := brk.Health(ctx)

	kinds := make([]string, 0, len(health))
	for kind := range health {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	unhealthy := 0
	rows := make([]map[string]string, 0, len(kinds))
	for _, kind := range kinds {
		h := health[backend.Kind(kind)]
		if !h.Healthy() {
			unhealthy++
		}
		rows = append(rows, map[string]string{
			"backend": kind,
			"state":   string(h.State),
			"reason":  h.Reason,
		})
	}

	columns := []output.Column{
		{Name: "BACKEND", Key: "backend"},
		{Name: "STATE", Key: "state"},
		{Name: "REASON", Key: "reason", Width: 70},
	}
	if err := fp.Formatter.PrintRows(columns, rows); err != nil {
		return err
	}

	if unhealthy > 0 {
		return output.NewCLIError(output.ExitUnavailable, "one or more backends are unhealthy")
	}
	return nil
}
