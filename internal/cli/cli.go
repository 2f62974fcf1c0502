package cli

import (
	"sync"

	"github.com/alecthomas/kong"

	"github.com/veilbox/veil/internal/broker"
	"github.com/veilbox/veil/internal/config"
	"github.com/veilbox/veil/internal/output"
)

// FormatterProvider wraps the formatter interface for Kong binding
type FormatterProvider struct {
	Formatter output.Formatter
}

// CLI is the root command structure
type CLI struct {
	Globals

	Get     GetCmd     `cmd:"" help:"Resolve a secret and print its value to stdout"`
	List    ListCmd    `cmd:"" help:"List configured secrets and their backends"`
	Run     RunCmd     `cmd:"" help:"Run a command with secrets projected into its environment"`
	Import  ImportCmd  `cmd:"" help:"Import a plaintext env file into a backend"`
	Doctor  DoctorCmd  `cmd:"" help:"Check backend health"`
	Config  ConfigCmd  `cmd:"" help:"Descriptor management"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// BeforeApply hook runs before any command execution.
// It creates the formatter and binds shared dependencies.
func (c *CLI) BeforeApply(ctx *kong.Context) error {
	fp := &FormatterProvider{
		Formatter: output.New(c.ResolvedOutput()),
	}

	ctx.Bind(fp)
	ctx.Bind(&c.Globals)
	ctx.Bind(NewProvider(&c.Globals))

	return nil
}

// Provider lazily loads the descriptor and constructs the broker.
// Commands that never touch secrets (config path) skip the load.
type Provider struct {
	globals *Globals

	once sync.Once
	desc *config.Descriptor
	brk  *broker.Broker
	err  error
}

// NewProvider creates a Provider bound to the global flags.
func NewProvider(globals *Globals) *Provider {
	return &Provider{globals: globals}
}

// Broker returns the shared broker, loading the descriptor on first call.
func (p *Provider) Broker() (*broker.Broker, error) {
	p.once.Do(func() {
		desc, err := config.Load(p.globals.Descriptor)
		if err != nil {
			p.err = &output.CLIError{
				ExitCode: output.ExitConfigError,
				Message:  err.Error(),
			}
			return
		}
		p.desc = desc
		p.brk = broker.New(desc)
	})
	return p.brk, p.err
}

// VersionCmd shows version information
type VersionCmd struct{}

func (cmd *VersionCmd) Run(ctx *kong.Context) error {
	version := ctx.Model.Vars()["version"]
	println("veil version " + version)
	return nil
}
