package cli

import (
	"context"
	"fmt"
)

// ListCmd lists a device's shaper nodes.
type ListCmd struct {
	OutputFlags
	Dev string `arg:"" help:"Interface name or ifindex."`
}

// Run executes the list command.
func (c *ListCmd) Run(cli *CLI) error {
	cl, err := cli.Client()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	ifindex, err := resolveDevice(c.Dev)
	if err != nil {
		return err
	}

	nodes, err := cl.List(context.Background(), ifindex)
	if err != nil {
		return err
	}

	if len(nodes) == 0 {
		return cli.PrintOut("No shapers configured\n")
	}

	output, err := FormatShaperList(nodes, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
