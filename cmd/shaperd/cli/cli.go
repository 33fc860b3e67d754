// Package cli implements the shaperd command line: the serve daemon
// plus client commands speaking to it over the control socket.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-shaperman/client"
	"github.com/frobware/go-shaperman/config"
	"github.com/frobware/go-shaperman/logging"
)

// CLI is the root command structure for shaperd.
type CLI struct {
	Config string `name:"config" help:"Config file path." default:"${default_config_path}"`
	Log    string `name:"log" help:"Log spec (e.g., 'info,manager=debug')." env:"SHAPERD_LOG"`
	Socket string `name:"socket" short:"s" help:"Control socket path. Overrides the config file." env:"SHAPERD_SOCKET"`

	Serve   ServeCmd   `cmd:"" help:"Run the shaperd daemon."`
	Get     GetCmd     `cmd:"" help:"Get one shaper node."`
	List    ListCmd    `cmd:"" help:"List a device's shaper nodes."`
	Set     SetCmd     `cmd:"" help:"Create or update a shaper node."`
	Delete  DeleteCmd  `cmd:"" help:"Delete a shaper node."`
	Group   GroupCmd   `cmd:"" help:"Group shapers under one output node."`
	Caps    CapsCmd    `cmd:"" help:"Show a device's shaping capabilities."`
	Devices DevicesCmd `cmd:"" help:"List the devices registered with the daemon."`
	Version VersionCmd `cmd:"" help:"Print the version."`

	// Out is where command output goes. Defaults to os.Stdout; tests
	// substitute their own writer.
	Out io.Writer `kong:"-"`
}

// KongOptions returns the Kong configuration options for the CLI.
func KongOptions() []kong.Option {
	return []kong.Option{
		kong.Name("shaperd"),
		kong.Description("Per-device transmit shaping manager."),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"default_config_path": config.DefaultConfigPath,
		},
	}
}

// LoadConfig loads the configuration from the config file path.
func (c *CLI) LoadConfig() (config.Config, error) {
	return config.Load(c.Config)
}

// SocketPath returns the effective control socket path: the --socket
// flag when given, otherwise the config file's.
func (c *CLI) SocketPath() (string, error) {
	if c.Socket != "" {
		return c.Socket, nil
	}
	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Runtime.SocketPath(), nil
}

// Logger creates a logger for CLI commands.
// CLI commands default to WARN level for quieter output.
// Use LoggerFromConfig for long-running services like serve.
func (c *CLI) Logger() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	// CLI commands default to warn unless --log is specified
	spec := c.Log
	if spec == "" {
		spec = "warn"
	}

	return logging.New(logging.Options{
		CLISpec:    spec,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stderr,
	})
}

// LoggerFromConfig creates a logger using config file settings.
// Used by long-running services (serve) where INFO level is appropriate.
// Output goes to stdout for daemon/container log collection.
func (c *CLI) LoggerFromConfig() (*slog.Logger, error) {
	cfg, err := c.LoadConfig()
	if err != nil {
		return nil, err
	}

	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	return logging.New(logging.Options{
		CLISpec:    c.Log,
		ConfigSpec: cfg.Logging.ToSpec(),
		Format:     format,
		Output:     os.Stdout,
	})
}

// Client connects to the daemon on the effective socket. The returned
// client must be closed when no longer needed.
func (c *CLI) Client() (*client.Client, error) {
	logger, err := c.Logger()
	if err != nil {
		return nil, err
	}
	socket, err := c.SocketPath()
	if err != nil {
		return nil, err
	}
	return client.Dial(socket, client.WithLogger(logger))
}

func (c *CLI) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

// WriteOut writes p to the output writer, treating a short write as
// an error so truncated output never passes silently.
func (c *CLI) WriteOut(p []byte) error {
	n, err := c.out().Write(p)
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// PrintOut writes s to the output writer.
func (c *CLI) PrintOut(s string) error {
	return c.WriteOut([]byte(s))
}

// PrintOutf formats and writes to the output writer.
func (c *CLI) PrintOutf(format string, args ...any) error {
	return c.WriteOut([]byte(fmt.Sprintf(format, args...)))
}

// resolveDevice turns a device argument into an ifindex. A number is
// used as the ifindex directly; anything else is resolved as an
// interface name.
func resolveDevice(dev string) (int, error) {
	if ifindex, err := strconv.Atoi(dev); err == nil {
		if ifindex <= 0 {
			return 0, fmt.Errorf("ifindex must be positive, got %d", ifindex)
		}
		return ifindex, nil
	}
	iface, err := net.InterfaceByName(dev)
	if err != nil {
		return 0, fmt.Errorf("resolve device %q: %w", dev, err)
	}
	return iface.Index, nil
}
