package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/veilbox/veil/internal/backend"
	"github.com/veilbox/veil/internal/migrate"
	"github.com/veilbox/veil/internal/output"
)

// ImportCmd migrates a plaintext env file into one backend. Every pair
// is written and read back for verification; the report names each
// outcome. The source file is only deleted on request, and only when
// the report is clean.
type ImportCmd struct {
	File         string `arg:"" type:"existingfile" help:"Plaintext KEY=VALUE source file"`
	Backend      string `help:"Target backend" enum:"keychain,hardware,remote" default:"keychain"`
	DeleteSource bool   `name:"delete-source" help:"Delete the plaintext source after a fully verified import"`
}

func (cmd *ImportCmd) Run(p *Provider, g *Globals, fp *FormatterProvider) error {
	brk, err := p.Broker()
	if err != nil {
		return err
	}
	defer brk.Close()

	store, err := brk.Backend(backend.Kind(cmd.Backend))
	if err != nil {
		return output.FromBrokerError(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()

	engine := migrate.New(store)
	report, err := engine.ImportFrom(ctx, cmd.File)
	if err != nil {
		return output.NewCLIError(output.ExitGeneral, fmt.Sprintf("import %s: %v", cmd.File, err))
	}

	if err := printReport(fp, report); err != nil {
		return err
	}

	if !report.OK() {
		err := output.NewCLIError(output.ExitPartial,
			fmt.Sprintf("%d of %d entries failed", len(report.Failed()), len(report.Records)))
		if cmd.DeleteSource {
			err = err.WithHint("Source NOT deleted: fix the failures and re-run (re-imports are safe).")
		}
		return err
	}

	if cmd.DeleteSource {
		if err := os.Remove(cmd.File); err != nil {
			return output.NewCLIError(output.ExitGeneral,
				fmt.Sprintf("import verified but deleting source failed: %v", err))
		}
		fp.Formatter.PrintHint(fmt.Sprintf("Deleted plaintext source %s", cmd.File))
	} else {
		fp.Formatter.PrintHint(fmt.Sprintf(
			"All %d entries verified. Delete the plaintext source when ready: rm %s",
			report.Imported(), cmd.File))
	}
	return nil
}

func printReport(fp *FormatterProvider, report *migrate.Report) error {
	rows := make([]map[string]string, 0, len(report.Records))
	for _, rec := range report.Records {
		row := map[string]string{
			"name":   rec.Name,
			"line":   fmt.Sprintf("%d", rec.Line),
			"status": string(rec.Status),
		}
		if rec.Err != nil {
			row["detail"] = rec.Err.Error()
		}
		rows = append(rows, row)
	}

	columns := []output.Column{
		{Name: "NAME", Key: "name"},
		{Name: "LINE", Key: "line"},
		{Name: "STATUS", Key: "status"},
		{Name: "DETAIL", Key: "detail", Width: 60},
	}
	return fp.Formatter.PrintRows(columns, rows)
}
