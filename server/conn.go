package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-shaperman"
	"github.com/frobware/go-shaperman/manager"
	"github.com/frobware/go-shaperman/wire"
)

// peerCred reads the connecting process's credentials off the socket.
func peerCred(conn net.Conn) (*unix.Ucred, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("connection is not a unix socket")
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, err
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, err
	}
	return cred, credErr
}

// authorize admits root and any configured uid. Mutations are not
// gated per command; holding a connection is the privilege.
func (s *Server) authorize(conn net.Conn) error {
	cred, err := peerCred(conn)
	if err != nil {
		return fmt.Errorf("peer credentials: %w", err)
	}
	if cred.Uid == 0 {
		return nil
	}
	for _, uid := range s.allowUIDs {
		if cred.Uid == uid {
			return nil
		}
	}
	return fmt.Errorf("uid %d not permitted", cred.Uid)
}

// handleConn reads and answers frames until the peer hangs up or the
// server shuts down. Requests on one connection run sequentially.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	for {
		hdr, payload, err := wire.ReadFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}
		opID := s.opCounter.Add(1)
		rctx := manager.ContextWithOpID(ctx, opID)
		if err := s.dispatch(rctx, conn, hdr, payload); err != nil {
			if ctx.Err() == nil {
				s.logger.WarnContext(rctx, "connection write failed", "error", err)
			}
			return
		}
	}
}

// dispatch answers one request. Request-level failures become error
// frames; only a failure to write the reply is returned, and it
// closes the connection.
func (s *Server) dispatch(ctx context.Context, conn net.Conn, hdr wire.Header, payload []byte) error {
	reply := func(flags uint16, body []byte) error {
		return wire.WriteFrame(conn, wire.Header{
			Seq:     hdr.Seq,
			Cmd:     hdr.Cmd,
			Version: wire.Version,
			Flags:   flags,
		}, body)
	}
	fail := func(cause error) error {
		s.logger.ErrorContext(ctx, "request failed",
			"cmd", hdr.Cmd.String(), "seq", hdr.Seq, "error", cause)
		body, err := wire.EncodeError(cause)
		if err != nil {
			return fmt.Errorf("encode error reply: %w", err)
		}
		return reply(wire.FlagError, body)
	}

	if hdr.Version != wire.Version {
		return fail(shaperman.InvalidRequestf("unsupported protocol version %d", hdr.Version))
	}

	s.logger.DebugContext(ctx, "request",
		"cmd", hdr.Cmd.String(), "seq", hdr.Seq, "bytes", len(payload))

	switch hdr.Cmd {
	case wire.CmdGet:
		if hdr.Flags&wire.FlagDump != 0 {
			ifindex, err := wire.DecodeListRequest(payload)
			if err != nil {
				return fail(err)
			}
			nodes, err := s.mgr.List(ctx, ifindex)
			if err != nil {
				return fail(err)
			}
			for _, node := range nodes {
				body, err := wire.EncodeShaper(ifindex, node)
				if err != nil {
					return fail(err)
				}
				if err := reply(wire.FlagDump, body); err != nil {
					return err
				}
			}
			return reply(wire.FlagDone, nil)
		}
		ifindex, handle, err := wire.DecodeGetRequest(payload)
		if err != nil {
			return fail(err)
		}
		node, err := s.mgr.Get(ctx, ifindex, handle)
		if err != nil {
			return fail(err)
		}
		body, err := wire.EncodeShaper(ifindex, node)
		if err != nil {
			return fail(err)
		}
		return reply(0, body)

	case wire.CmdSet:
		ifindex, node, err := wire.DecodeSetRequest(payload)
		if err != nil {
			return fail(err)
		}
		if _, err := s.mgr.Set(ctx, ifindex, node); err != nil {
			return fail(err)
		}
		return reply(0, nil)

	case wire.CmdDelete:
		ifindex, handle, err := wire.DecodeDeleteRequest(payload)
		if err != nil {
			return fail(err)
		}
		if err := s.mgr.Delete(ctx, ifindex, handle); err != nil {
			return fail(err)
		}
		return reply(0, nil)

	case wire.CmdGroup:
		ifindex, inputs, output, err := wire.DecodeGroupRequest(payload)
		if err != nil {
			return fail(err)
		}
		committed, err := s.mgr.Group(ctx, ifindex, inputs, output)
		if err != nil {
			return fail(err)
		}
		body, err := wire.EncodeHandleReply(ifindex, committed.Handle)
		if err != nil {
			return fail(err)
		}
		return reply(0, body)

	case wire.CmdCapGet:
		ifindex, scope, err := wire.DecodeCapGetRequest(payload)
		if err != nil {
			return fail(err)
		}
		features, err := s.mgr.Capabilities(ctx, ifindex, scope)
		if err != nil {
			return fail(err)
		}
		body, err := wire.EncodeScopeCaps(ifindex, shaperman.ScopeCapabilities{
			Scope:    scope,
			Features: features,
		})
		if err != nil {
			return fail(err)
		}
		return reply(0, body)

	case wire.CmdCapDump:
		ifindex, err := wire.DecodeCapDumpRequest(payload)
		if err != nil {
			return fail(err)
		}
		caps, err := s.mgr.CapabilitiesDump(ctx, ifindex)
		if err != nil {
			return fail(err)
		}
		for _, sc := range caps {
			body, err := wire.EncodeScopeCaps(ifindex, sc)
			if err != nil {
				return fail(err)
			}
			if err := reply(wire.FlagDump, body); err != nil {
				return err
			}
		}
		return reply(wire.FlagDone, nil)

	case wire.CmdDevices:
		for _, dev := range s.mgr.Devices().List() {
			body, err := wire.EncodeDevice(wire.DeviceInfo{
				Ifindex:  dev.Ifindex(),
				Name:     dev.Name(),
				Backend:  dev.Backend(),
				TxQueues: uint32(dev.TxQueues()),
			})
			if err != nil {
				return fail(err)
			}
			if err := reply(wire.FlagDump, body); err != nil {
				return err
			}
		}
		return reply(wire.FlagDone, nil)

	default:
		return fail(shaperman.InvalidRequestf("unknown command %d", hdr.Cmd))
	}
}
