package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-shaperman"
)

// GroupCmd groups shapers under one output node. The attribute flags
// apply to the output; inputs keep their current attributes and are
// re-parented under it.
type GroupCmd struct {
	AttrFlags
	Dev    string             `arg:"" help:"Interface name or ifindex."`
	Input  []shaperman.Handle `name:"input" required:"" help:"Input shaper handle (repeat per input)."`
	Output shaperman.Handle   `name:"output" default:"detached:unspec" help:"Output shaper handle. The default allocates a fresh detached node."`
}

// Run executes the group command.
func (c *GroupCmd) Run(cli *CLI) error {
	cl, err := cli.Client()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	ifindex, err := resolveDevice(c.Dev)
	if err != nil {
		return err
	}

	inputs := make([]shaperman.NodeSpec, 0, len(c.Input))
	for _, h := range c.Input {
		inputs = append(inputs, shaperman.NodeSpec{Handle: h})
	}

	handle, err := cl.Group(context.Background(), ifindex, inputs, shaperman.NodeSpec{
		Handle: c.Output,
		Attrs:  c.AttrFlags.Attrs(),
	})
	if err != nil {
		return err
	}
	return cli.PrintOutf("%s\n", handle)
}
