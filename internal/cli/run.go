package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/veilbox/veil/internal/envproj"
	"github.com/veilbox/veil/internal/output"
)

// RunCmd resolves secrets, projects them into a copy of the current
// environment, and execs a child command with that environment. The
// veil process environment itself is never mutated.
type RunCmd struct {
	Secrets   []string `short:"s" name:"secret" help:"Secret name to project (repeatable)" required:""`
	Overwrite bool     `help:"Replace variables already present in the environment"`
	Argv      []string `arg:"" passthrough:"" help:"Command to run"`
}

func (cmd *RunCmd) Run(p *Provider, g *Globals) error {
	if len(cmd.Argv) == 0 {
		return output.NewCLIError(output.ExitUsage, "no command given")
	}

	brk, err := p.Broker()
	if err != nil {
		return err
	}
	defer brk.Close()

	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()

	env := envproj.NewMapEnviron(os.Environ())
	projector := envproj.New(brk, env)
	projector.Overwrite = cmd.Overwrite

	if err := projector.Project(ctx, cmd.Secrets); err != nil {
		var partial *envproj.PartialFailureError
		if errors.As(err, &partial) {
			return output.NewCLIError(output.ExitPartial, partial.Error()).
				WithHint("Check the failing names with: veil list")
		}
		return err
	}

	child := exec.Command(cmd.Argv[0], cmd.Argv[1:]...)
	child.Env = env.Environ()
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output.NewCLIError(exitErr.ExitCode(), fmt.Sprintf("%s exited with %d", cmd.Argv[0], exitErr.ExitCode()))
		}
		return output.NewCLIError(output.ExitGeneral, fmt.Sprintf("run %s: %v", cmd.Argv[0], err))
	}
	return nil
}
