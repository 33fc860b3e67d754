package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-shaperman"
)

// GetCmd gets one shaper node.
type GetCmd struct {
	OutputFlags
	Dev    string           `arg:"" help:"Interface name or ifindex."`
	Handle shaperman.Handle `arg:"" help:"Shaper handle as scope:id (e.g. netdev:0, queue:3)."`
}

// Run executes the get command.
func (c *GetCmd) Run(cli *CLI) error {
	cl, err := cli.Client()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	ifindex, err := resolveDevice(c.Dev)
	if err != nil {
		return err
	}

	node, err := cl.Get(context.Background(), ifindex, c.Handle)
	if err != nil {
		return err
	}

	output, err := FormatShaperList([]shaperman.Shaper{node}, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
