// Package client speaks the shaperd wire protocol over a unix socket.
//
// Use Dial to connect to a running shaperd daemon:
//
//	c, err := client.Dial(client.DefaultSocketPath())
//	if err != nil { ... }
//	defer c.Close()
//
//	node, err := c.Get(ctx, ifindex, handle)
//
// Methods mirror the manager's semantics one to one; errors carry the
// daemon's error code and reason.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/frobware/go-shaperman"
	"github.com/frobware/go-shaperman/config"
	"github.com/frobware/go-shaperman/wire"
)

// DefaultSocketPath returns the default unix socket path for
// connecting to a shaperd daemon.
func DefaultSocketPath() string {
	return config.DefaultRuntimeDirs().SocketPath()
}

// Option configures client behaviour.
type Option func(*Client)

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is a connection to one daemon. Exchanges are serialised, so
// a Client is safe for concurrent use.
type Client struct {
	logger *slog.Logger

	mu   sync.Mutex
	conn net.Conn
	seq  uint32
}

// Dial connects to the daemon listening on socketPath.
func Dial(socketPath string, opts ...Option) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	c := &Client{
		logger: slog.Default(),
		conn:   conn,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// exchange sends one request and collects its reply frames: a single
// body for plain replies, every streamed body up to the DONE frame
// for dumps. Error frames decode back into the daemon's error.
func (c *Client) exchange(ctx context.Context, cmd wire.Command, flags uint16, payload []byte, dump bool) ([][]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.conn.SetDeadline(time.Time{})
	}

	c.seq++
	seq := c.seq
	c.logger.DebugContext(ctx, "request", "cmd", cmd.String(), "seq", seq)
	if err := wire.WriteFrame(c.conn, wire.Header{
		Seq:     seq,
		Cmd:     cmd,
		Version: wire.Version,
		Flags:   flags,
	}, payload); err != nil {
		return nil, fmt.Errorf("send %s: %w", cmd, err)
	}

	var bodies [][]byte
	for {
		hdr, body, err := wire.ReadFrame(c.conn)
		if err != nil {
			return nil, fmt.Errorf("receive %s reply: %w", cmd, err)
		}
		if hdr.Seq != seq {
			return nil, fmt.Errorf("%s reply out of sequence: got %d, want %d", cmd, hdr.Seq, seq)
		}
		if hdr.Flags&wire.FlagError != 0 {
			return nil, wire.DecodeError(body)
		}
		if !dump {
			return [][]byte{body}, nil
		}
		if hdr.Flags&wire.FlagDone != 0 {
			return bodies, nil
		}
		bodies = append(bodies, body)
	}
}

// Get returns the committed node for handle on device ifindex.
func (c *Client) Get(ctx context.Context, ifindex int, handle shaperman.Handle) (shaperman.Shaper, error) {
	payload, err := wire.EncodeGetRequest(ifindex, handle)
	if err != nil {
		return shaperman.Shaper{}, err
	}
	bodies, err := c.exchange(ctx, wire.CmdGet, 0, payload, false)
	if err != nil {
		return shaperman.Shaper{}, err
	}
	_, node, err := wire.DecodeShaper(bodies[0])
	return node, err
}

// List returns every committed node on device ifindex in ascending
// handle order.
func (c *Client) List(ctx context.Context, ifindex int) ([]shaperman.Shaper, error) {
	payload, err := wire.EncodeListRequest(ifindex)
	if err != nil {
		return nil, err
	}
	bodies, err := c.exchange(ctx, wire.CmdGet, wire.FlagDump, payload, true)
	if err != nil {
		return nil, err
	}
	nodes := make([]shaperman.Shaper, 0, len(bodies))
	for _, body := range bodies {
		_, node, err := wire.DecodeShaper(body)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Set creates or updates a single shaper node. The attributes are a
// patch against the node's current state.
func (c *Client) Set(ctx context.Context, ifindex int, node shaperman.NodeSpec) error {
	payload, err := wire.EncodeSetRequest(ifindex, node)
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, wire.CmdSet, 0, payload, false)
	return err
}

// Delete removes a single shaper node.
func (c *Client) Delete(ctx context.Context, ifindex int, handle shaperman.Handle) error {
	payload, err := wire.EncodeDeleteRequest(ifindex, handle)
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, wire.CmdDelete, 0, payload, false)
	return err
}

// Group nests the inputs under the output as one transaction and
// returns the output's effective handle, which matters when a
// detached output was created with the unspec id.
func (c *Client) Group(ctx context.Context, ifindex int, inputs []shaperman.NodeSpec, output shaperman.NodeSpec) (shaperman.Handle, error) {
	payload, err := wire.EncodeGroupRequest(ifindex, inputs, output)
	if err != nil {
		return 0, err
	}
	bodies, err := c.exchange(ctx, wire.CmdGroup, 0, payload, false)
	if err != nil {
		return 0, err
	}
	_, handle, err := wire.DecodeHandleReply(bodies[0])
	return handle, err
}

// Capabilities reports the features device ifindex supports for one
// scope.
func (c *Client) Capabilities(ctx context.Context, ifindex int, scope shaperman.Scope) (shaperman.FeatureSet, error) {
	payload, err := wire.EncodeCapGetRequest(ifindex, scope)
	if err != nil {
		return 0, err
	}
	bodies, err := c.exchange(ctx, wire.CmdCapGet, 0, payload, false)
	if err != nil {
		return 0, err
	}
	caps, err := wire.DecodeScopeCaps(bodies[0])
	if err != nil {
		return 0, err
	}
	return caps.Features, nil
}

// CapabilitiesDump reports the features for every scope the device
// supports.
func (c *Client) CapabilitiesDump(ctx context.Context, ifindex int) ([]shaperman.ScopeCapabilities, error) {
	payload, err := wire.EncodeCapDumpRequest(ifindex)
	if err != nil {
		return nil, err
	}
	bodies, err := c.exchange(ctx, wire.CmdCapDump, 0, payload, true)
	if err != nil {
		return nil, err
	}
	out := make([]shaperman.ScopeCapabilities, 0, len(bodies))
	for _, body := range bodies {
		caps, err := wire.DecodeScopeCaps(body)
		if err != nil {
			return nil, err
		}
		out = append(out, caps)
	}
	return out, nil
}

// Devices lists the devices registered with the daemon.
func (c *Client) Devices(ctx context.Context) ([]wire.DeviceInfo, error) {
	bodies, err := c.exchange(ctx, wire.CmdDevices, 0, nil, true)
	if err != nil {
		return nil, err
	}
	out := make([]wire.DeviceInfo, 0, len(bodies))
	for _, body := range bodies {
		dev, err := wire.DecodeDevice(body)
		if err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, nil
}
