package cli

import (
	"context"
	"fmt"

	"github.com/frobware/go-shaperman"
)

// DeleteCmd deletes a shaper node.
type DeleteCmd struct {
	Dev    string           `arg:"" help:"Interface name or ifindex."`
	Handle shaperman.Handle `arg:"" help:"Shaper handle as scope:id (e.g. netdev:0, queue:3)."`
}

// Run executes the delete command.
func (c *DeleteCmd) Run(cli *CLI) error {
	cl, err := cli.Client()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	ifindex, err := resolveDevice(c.Dev)
	if err != nil {
		return err
	}

	if err := cl.Delete(context.Background(), ifindex, c.Handle); err != nil {
		return err
	}
	return cli.PrintOutf("Deleted %s\n", c.Handle)
}
