package cli

import (
	"context"
	"fmt"
)

// DevicesCmd lists the devices registered with the daemon.
type DevicesCmd struct {
	OutputFlags
}

// Run executes the devices command.
func (c *DevicesCmd) Run(cli *CLI) error {
	cl, err := cli.Client()
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer cl.Close()

	devices, err := cl.Devices(context.Background())
	if err != nil {
		return err
	}

	if len(devices) == 0 {
		return cli.PrintOut("No devices registered\n")
	}

	output, err := FormatDevices(devices, &c.OutputFlags)
	if err != nil {
		return err
	}
	return cli.PrintOut(output)
}
