package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-shaperman"
)

// CapsCmd shows a device's shaping capabilities.
type CapsCmd struct {
	OutputFlags
	Dev   string           `arg:"" help:"Interface name or ifindex."`
	Scope *shaperman.Scope `help:"Limit to one scope (netdev, queue or detached)."`
}

// Run executes the caps command.
func (c *CapsCmd) Run(cli *CLI) error {
	cl, err := cli.Client()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	ifindex, err := resolveDevice(c.Dev)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var caps []shaperman.ScopeCapabilities
	if c.Scope != nil {
		features, err := cl.Capabilities(ctx, ifindex, *c.Scope)
		if err != nil {
			return err
		}
		caps = []shaperman.ScopeCapabilities{{Scope: *c.Scope, Features: features}}
	} else {
		caps, err = cl.CapabilitiesDump(ctx, ifindex)
		if err != nil {
			return err
		}
	}

	if len(caps) == 0 {
		return cli.PrintOut("No shapeable scopes\n")
	}

	output, err := FormatScopeCaps(caps, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
