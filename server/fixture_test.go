package server_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/frobware/go-shaperman/client"
	"github.com/frobware/go-shaperman/device"
	"github.com/frobware/go-shaperman/driver/sim"
	"github.com/frobware/go-shaperman/manager"
	"github.com/frobware/go-shaperman/server"
)

// testLogger returns a logger for tests. By default it discards all
// output. Set SHAPERD_TEST_LOG=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("SHAPERD_TEST_LOG") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testFixture runs a server on a throwaway socket with sim-backed
// devices and a connected client. Two devices are registered: eth0
// (ifindex 2, 4 tx queues) and eth1 (ifindex 3, unknown queue count).
type testFixture struct {
	Client *client.Client
	Sim    *sim.Driver

	t      *testing.T
	socket string
}

const (
	eth0Ifindex = 2
	eth1Ifindex = 3
)

// newTestFixture starts a server and dials it. The sim options let a
// test restrict the driver's advertised capabilities or inject
// faults. Everything is torn down through t.Cleanup.
func newTestFixture(t *testing.T, simOpts ...sim.Option) *testFixture {
	t.Helper()

	drv := sim.New(testLogger(), simOpts...)
	registry := device.NewRegistry(testLogger())
	require.NoError(t, registry.Add(device.New(device.Config{
		Ifindex:  eth0Ifindex,
		Name:     "eth0",
		Backend:  "sim",
		TxQueues: 4,
		Driver:   drv,
	}, testLogger())))
	require.NoError(t, registry.Add(device.New(device.Config{
		Ifindex: eth1Ifindex,
		Name:    "eth1",
		Backend: "sim",
		Driver:  drv,
	}, testLogger())))

	mgr := manager.New(registry, testLogger())
	srv := server.New(mgr, []uint32{uint32(os.Getuid())}, testLogger())

	socket := filepath.Join(t.TempDir(), "shaperd.sock")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, socket) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err, "server did not shut down cleanly")
		case <-time.After(5 * time.Second):
			t.Error("server did not stop within 5s of cancellation")
		}
	})

	waitForSocket(t, socket)
	c, err := client.Dial(socket, client.WithLogger(testLogger()))
	require.NoError(t, err, "dialing test server")
	t.Cleanup(func() { c.Close() })

	return &testFixture{
		Client: c,
		Sim:    drv,
		t:      t,
		socket: socket,
	}
}

// waitForSocket blocks until the server's listener exists.
func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

// dialRaw opens a plain connection for tests that speak the framing
// by hand.
func (f *testFixture) dialRaw() net.Conn {
	f.t.Helper()
	conn, err := net.Dial("unix", f.socket)
	require.NoError(f.t, err, "raw dial")
	f.t.Cleanup(func() { conn.Close() })
	return conn
}
