package cli

// Version is stamped at build time via -ldflags.
var Version = "dev"

// VersionCmd prints the version.
type VersionCmd struct{}

// Run executes the version command.
func (c *VersionCmd) Run(cli *CLI) error {
	return cli.PrintOutf("shaperd %s\n", Version)
}
