package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-shaperman"
)

// SetCmd creates or updates a shaper node.
type SetCmd struct {
	AttrFlags
	Dev    string           `arg:"" help:"Interface name or ifindex."`
	Handle shaperman.Handle `arg:"" help:"Shaper handle as scope:id (e.g. netdev:0, queue:3)."`
}

// Run executes the set command.
func (c *SetCmd) Run(cli *CLI) error {
	attrs := c.AttrFlags.Attrs()
	if attrs.Present == 0 {
		return fmt.Errorf("set needs at least one attribute flag (e.g. --bw-max)")
	}

	cl, err := cli.Client()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	ifindex, err := resolveDevice(c.Dev)
	if err != nil {
		return err
	}

	return cl.Set(context.Background(), ifindex, shaperman.NodeSpec{
		Handle: c.Handle,
		Attrs:  attrs,
	})
}
