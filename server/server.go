// Package server implements the shaperd daemon: a framed
// netlink-attribute protocol served over a unix socket, dispatching
// to the manager.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/frobware/go-shaperman/config"
	"github.com/frobware/go-shaperman/device"
	"github.com/frobware/go-shaperman/lock"
	"github.com/frobware/go-shaperman/logging"
	"github.com/frobware/go-shaperman/manager"
)

// NetIfaceResolver resolves network interfaces by name.
// This interface enables testing without real network interfaces.
type NetIfaceResolver interface {
	InterfaceByName(name string) (*net.Interface, error)
}

// DefaultNetIfaceResolver uses the standard library net package.
type DefaultNetIfaceResolver struct{}

func (DefaultNetIfaceResolver) InterfaceByName(name string) (*net.Interface, error) {
	return net.InterfaceByName(name)
}

// RunConfig configures the server daemon.
type RunConfig struct {
	Config   config.Config
	Logger   *slog.Logger
	NetIface NetIfaceResolver
}

// Run starts the shaperd daemon with the given configuration.
// This is the main entry point for the serve command.
// The context is used for cancellation - when cancelled, the server
// shuts down gracefully.
func Run(ctx context.Context, cfg RunConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	// Wrap with context-aware handler to extract op_id from context.
	// This must happen at the server level since op_id is generated here.
	logger = manager.WithOpIDHandler(logger)

	if err := cfg.Config.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	dirs := config.NewRuntimeDirs(cfg.Config.Runtime.Dir)
	if err := dirs.EnsureDirectories(); err != nil {
		return fmt.Errorf("runtime directory setup failed: %w", err)
	}

	resolver := cfg.NetIface
	if resolver == nil {
		resolver = DefaultNetIfaceResolver{}
	}

	// Only one daemon may own the runtime dir and its socket.
	return lock.Run(ctx, dirs.LockPath(), func(ctx context.Context, _ lock.Scope) error {
		bk := newBackends(logger, cfg.Config.Runtime.BpffsDir)
		defer bk.Close()

		registry, err := buildRegistry(cfg.Config.Devices, bk, resolver, logger)
		if err != nil {
			return err
		}

		mgr := manager.New(registry, logger)
		srv := New(mgr, cfg.Config.Runtime.AllowedUIDs, logger)
		return srv.Serve(ctx, cfg.Config.Runtime.SocketPath())
	})
}

// buildRegistry turns the configured device stanzas into registered
// devices, resolving names to interface indexes and discovering queue
// counts where the config leaves them out.
func buildRegistry(devices []config.DeviceConfig, bk *backends, resolver NetIfaceResolver, logger *slog.Logger) (*device.Registry, error) {
	registry := device.NewRegistry(logger)
	for _, dc := range devices {
		ifindex := dc.Ifindex
		if ifindex == 0 {
			iface, err := resolver.InterfaceByName(dc.Name)
			if err != nil {
				return nil, fmt.Errorf("device %s: %w", dc.Label(), err)
			}
			ifindex = iface.Index
		}
		txQueues := dc.TxQueues
		if txQueues == 0 && dc.Name != "" {
			txQueues = discoverTxQueues(dc.Name)
		}
		drv, err := bk.get(dc.Backend)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", dc.Label(), err)
		}
		dev := device.New(device.Config{
			Ifindex:  ifindex,
			Name:     dc.Name,
			Backend:  dc.Backend,
			TxQueues: txQueues,
			Driver:   drv,
		}, logger)
		if err := registry.Add(dev); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// discoverTxQueues counts the device's transmit queues via sysfs.
// Zero means unknown, which disables queue-id validation.
func discoverTxQueues(name string) int {
	entries, err := os.ReadDir(filepath.Join("/sys/class/net", name, "queues"))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "tx-") {
			n++
		}
	}
	return n
}

// Server accepts connections and dispatches decoded requests to the
// manager.
type Server struct {
	mgr       *manager.Manager
	allowUIDs []uint32
	logger    *slog.Logger
	opCounter atomic.Uint64

	mu     sync.Mutex
	closed bool
	conns  map[net.Conn]struct{}
}

// New creates a server with the provided dependencies. The logger
// should already be wrapped with WithOpIDHandler by the caller.
func New(mgr *manager.Manager, allowedUIDs []uint32, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mgr:       mgr,
		allowUIDs: allowedUIDs,
		logger:    logger.With("component", "server"),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Serve listens on the unix socket until the context is cancelled,
// then drains open connections before returning.
func (s *Server) Serve(ctx context.Context, socketPath string) error {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", socketPath, err)
	}
	defer listener.Close()
	if err := os.Chmod(socketPath, 0o660); err != nil {
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "shaperd listening", "socket", socketPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		listener.Close()
		s.closeConns()
		return nil
	})
	g.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			if err := s.authorize(conn); err != nil {
				s.logger.Warn("rejected connection", "error", err)
				conn.Close()
				continue
			}
			if !s.track(conn) {
				conn.Close()
				continue
			}
			g.Go(func() error {
				s.handleConn(gctx, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
}
