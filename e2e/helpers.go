//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"

	"github.com/frobware/go-shaperman/client"
	"github.com/frobware/go-shaperman/config"
	"github.com/frobware/go-shaperman/logging"
	"github.com/frobware/go-shaperman/server"
)

// vethSeq numbers the veth pairs created by this process, keeping
// link names unique across parallel tests.
var vethSeq atomic.Uint32

// TestEnv runs one shaperd daemon against one dedicated veth pair.
// Each test gets its own runtime directory, socket and device, so
// every test can t.Parallel().
type TestEnv struct {
	T       *testing.T
	Veth    string
	Ifindex int
	Client  *client.Client
}

// NewTestEnv creates an isolated daemon for one e2e test:
//
//   - a veth pair with four tx queues, both ends up
//   - a runtime dir in /tmp/shaperd-e2e-<pid>-<testname>/
//   - a daemon shaping the veth through the htb backend
//   - a client connected over the daemon's socket
//
// Everything is torn down via t.Cleanup.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	RequireRoot(t)

	seq := vethSeq.Add(1)
	veth := fmt.Sprintf("she2e%d", seq)
	peer := veth + "p"

	la := netlink.NewLinkAttrs()
	la.Name = veth
	la.NumTxQueues = 4
	la.NumRxQueues = 4
	vl := &netlink.Veth{LinkAttrs: la, PeerName: peer}
	require.NoError(t, netlink.LinkAdd(vl), "create veth pair")
	t.Cleanup(func() {
		if link, err := netlink.LinkByName(veth); err == nil {
			if err := netlink.LinkDel(link); err != nil {
				t.Logf("warning: failed to delete %s: %v", veth, err)
			}
		}
	})

	link, err := netlink.LinkByName(veth)
	require.NoError(t, err)
	require.NoError(t, netlink.LinkSetUp(link))
	peerLink, err := netlink.LinkByName(peer)
	require.NoError(t, err)
	require.NoError(t, netlink.LinkSetUp(peerLink))

	baseDir := filepath.Join(os.TempDir(),
		fmt.Sprintf("shaperd-e2e-%d-%s", os.Getpid(), sanitizeTestName(t.Name())))

	logger := testLogger(t)

	cfg := config.DefaultConfig()
	cfg.Runtime.Dir = baseDir
	cfg.Runtime.Socket = ""
	cfg.Devices = []config.DeviceConfig{{Name: veth, Backend: "htb"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Run(ctx, server.RunConfig{Config: cfg, Logger: logger})
	}()

	socket := cfg.Runtime.SocketPath()
	waitForSocket(t, socket)

	c, err := client.Dial(socket, client.WithLogger(logger))
	require.NoError(t, err, "connect to daemon")

	t.Cleanup(func() {
		c.Close()
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err, "daemon exit")
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop within 5s")
		}
		if err := os.RemoveAll(baseDir); err != nil {
			t.Logf("warning: failed to remove %s: %v", baseDir, err)
		}
	})

	return &TestEnv{
		T:       t,
		Veth:    veth,
		Ifindex: link.Attrs().Index,
		Client:  c,
	}
}

// testLogger builds the daemon logger from SHAPERD_LOG, matching the
// daemon's own spec syntax:
//
//	SHAPERD_LOG=debug              - all components at debug
//	SHAPERD_LOG=info,driver=trace  - default info, driver at trace
//
// Without the variable only errors are reported.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	if envSpec := os.Getenv(logging.EnvSpecVar); envSpec != "" {
		logger, err := logging.New(logging.Options{
			EnvSpec: envSpec,
			Format:  logging.FormatText,
			Output:  os.Stderr,
		})
		if err != nil {
			t.Fatalf("invalid %s spec: %v", logging.EnvSpecVar, err)
		}
		return logger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// RequireRoot fails the test if not running as root.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Fatal("test requires root privileges")
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s did not appear within 5s", path)
}

// htbRootQdisc returns the HTB qdisc installed at the device root, or
// nil when the device carries no HTB root.
func htbRootQdisc(t *testing.T, ifindex int) *netlink.Htb {
	t.Helper()
	link, err := netlink.LinkByIndex(ifindex)
	require.NoError(t, err)
	qdiscs, err := netlink.QdiscList(link)
	require.NoError(t, err)
	for _, q := range qdiscs {
		if htb, ok := q.(*netlink.Htb); ok && htb.Attrs().Parent == netlink.HANDLE_ROOT {
			return htb
		}
	}
	return nil
}

// htbClasses returns the device's HTB classes keyed by class handle
// (netlink.MakeHandle form).
func htbClasses(t *testing.T, ifindex int) map[uint32]*netlink.HtbClass {
	t.Helper()
	link, err := netlink.LinkByIndex(ifindex)
	require.NoError(t, err)
	classes, err := netlink.ClassList(link, netlink.MakeHandle(1, 0))
	require.NoError(t, err)
	out := make(map[uint32]*netlink.HtbClass, len(classes))
	for _, c := range classes {
		if htb, ok := c.(*netlink.HtbClass); ok {
			out[htb.Attrs().Handle] = htb
		}
	}
	return out
}

// sanitizeTestName converts a test name to a safe directory name.
func sanitizeTestName(name string) string {
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, " ", "_")
	if len(name) > 50 {
		name = name[:50]
	}
	return name
}

// cleanupStaleTestDirs removes runtime directories left behind by
// crashed runs, skipping those whose owning process is still alive.
func cleanupStaleTestDirs() {
	pattern := filepath.Join(os.TempDir(), "shaperd-e2e-*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}

	for _, path := range matches {
		parts := strings.Split(filepath.Base(path), "-")
		if len(parts) >= 3 {
			if pid, err := strconv.Atoi(parts[2]); err == nil {
				if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err == nil {
					continue
				}
			}
		}
		os.RemoveAll(path)
	}
}

// cleanupStaleLinks deletes veth pairs left behind by crashed runs.
// Deleting one end removes its peer too.
func cleanupStaleLinks() {
	links, err := netlink.LinkList()
	if err != nil {
		return
	}
	for _, link := range links {
		name := link.Attrs().Name
		if strings.HasPrefix(name, "she2e") && !strings.HasSuffix(name, "p") {
			netlink.LinkDel(link)
		}
	}
}
