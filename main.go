package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/veilbox/veil/internal/cli"
	"github.com/veilbox/veil/internal/output"
)

var (
	version = "dev"
)

func main() {
	// Parse CLI
	cliInstance := &cli.CLI{}
	ctx := kong.Parse(cliInstance,
		kong.Name("veil"),
		kong.Description("Credential broker: resolve named secrets from keychain, secure element, or remote vault"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)

	// Run command with bound dependencies
	err := ctx.Run()
	if err != nil {
		// Handle error with proper exit code
		if cliErr, ok := err.(*output.CLIError); ok {
			formatter := output.New(cliInstance.ResolvedOutput())
			formatter.PrintError(err)
			if cliErr.Hint != "" {
				formatter.PrintHint(cliErr.Hint)
			}
			os.Exit(cliErr.ExitCode)
		}
		// Unknown error
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(output.ExitGeneral)
	}
}
