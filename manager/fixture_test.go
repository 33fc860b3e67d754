package manager_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-shaperman"
	"github.com/frobware/go-shaperman/device"
	"github.com/frobware/go-shaperman/manager"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set SHAPERD_TEST_LOG=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("SHAPERD_TEST_LOG") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testIfindex  = 1
	testTxQueues = 4
)

// allFeatures is what the fake driver advertises per scope unless a
// test restricts it.
const allFeatures = shaperman.FeatureMetricBPS |
	shaperman.FeatureMetricPPS |
	shaperman.FeatureNesting |
	shaperman.FeatureBwMin |
	shaperman.FeatureBwMax |
	shaperman.FeatureBurst |
	shaperman.FeaturePriority |
	shaperman.FeatureWeight

// driverOp records one call the manager made into the fake driver.
type driverOp struct {
	Op     string
	Handle shaperman.Handle
	Err    error
}

type hwKey struct {
	ifindex int
	handle  shaperman.Handle
}

// fakeDriver implements shaperman.Driver for testing. It keeps its
// own view of programmed hardware state so tests can verify the cache
// and the device never disagree after a sequence of operations.
type fakeDriver struct {
	mu      sync.Mutex
	shapers map[hwKey]shaperman.Shaper
	ops     []driverOp
	caps    map[shaperman.Scope]shaperman.FeatureSet

	failSet    error
	failGroup  error
	failDelete map[shaperman.Handle]error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		shapers: make(map[hwKey]shaperman.Shaper),
		caps: map[shaperman.Scope]shaperman.FeatureSet{
			shaperman.ScopeNetdev:   allFeatures,
			shaperman.ScopeQueue:    allFeatures,
			shaperman.ScopeDetached: allFeatures,
		},
		failDelete: make(map[shaperman.Handle]error),
	}
}

func (f *fakeDriver) record(op string, h shaperman.Handle, err error) {
	f.ops = append(f.ops, driverOp{Op: op, Handle: h, Err: err})
}

func (f *fakeDriver) Set(_ context.Context, ifindex int, s shaperman.Shaper) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet != nil {
		f.record("set", s.Handle, f.failSet)
		return f.failSet
	}
	f.shapers[hwKey{ifindex, s.Handle}] = s
	f.record("set", s.Handle, nil)
	return nil
}

func (f *fakeDriver) Delete(_ context.Context, ifindex int, h shaperman.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failDelete[h]; err != nil {
		f.record("delete", h, err)
		return err
	}
	delete(f.shapers, hwKey{ifindex, h})
	f.record("delete", h, nil)
	return nil
}

func (f *fakeDriver) Group(_ context.Context, ifindex int, inputs []shaperman.Shaper, output shaperman.Shaper) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGroup != nil {
		f.record("group", output.Handle, f.failGroup)
		return f.failGroup
	}
	f.shapers[hwKey{ifindex, output.Handle}] = output
	for _, in := range inputs {
		f.shapers[hwKey{ifindex, in.Handle}] = in
	}
	f.record("group", output.Handle, nil)
	return nil
}

func (f *fakeDriver) Capabilities(_ context.Context, _ int, scope shaperman.Scope) (shaperman.FeatureSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	caps, ok := f.caps[scope]
	if !ok {
		return 0, shaperman.Unsupportedf("scope %s not supported", scope)
	}
	return caps, nil
}

// SetCaps replaces the advertised feature set for one scope. A zero
// set with ok=false semantics is expressed by DropScope.
func (f *fakeDriver) SetCaps(scope shaperman.Scope, features shaperman.FeatureSet) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caps[scope] = features
}

// DropScope makes the driver report the scope as unsupported.
func (f *fakeDriver) DropScope(scope shaperman.Scope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.caps, scope)
}

// FailSet makes every Set call fail with err until reset with nil.
func (f *fakeDriver) FailSet(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSet = err
}

// FailGroup makes every Group call fail with err until reset with nil.
func (f *fakeDriver) FailGroup(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGroup = err
}

// FailDeleteOf makes Delete of one specific handle fail with err.
func (f *fakeDriver) FailDeleteOf(h shaperman.Handle, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDelete[h] = err
}

// ShaperCount returns the number of shapers programmed on ifindex.
func (f *fakeDriver) ShaperCount(ifindex int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.shapers {
		if k.ifindex == ifindex {
			n++
		}
	}
	return n
}

// Programmed returns the hardware-side view of one shaper.
func (f *fakeDriver) Programmed(ifindex int, h shaperman.Handle) (shaperman.Shaper, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.shapers[hwKey{ifindex, h}]
	return s, ok
}

// Operations returns a copy of the recorded driver calls.
func (f *fakeDriver) Operations() []driverOp {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]driverOp, len(f.ops))
	copy(out, f.ops)
	return out
}

// ResetOps clears the recorded driver calls.
func (f *fakeDriver) ResetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

// managerFixture provides access to all components for verification.
type managerFixture struct {
	Manager *manager.Manager
	Devices *device.Registry
	Driver  *fakeDriver
	t       *testing.T
}

// newManagerFixture creates a manager wired to a single fake-driven
// device: ifindex 1, four tx queues, every feature advertised.
func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	drv := newFakeDriver()
	reg := device.NewRegistry(testLogger())
	dev := device.New(device.Config{
		Ifindex:  testIfindex,
		Name:     "eth0",
		Backend:  "fake",
		TxQueues: testTxQueues,
		Driver:   drv,
	}, testLogger())
	require.NoError(t, reg.Add(dev), "failed to register device")
	mgr := manager.New(reg, testLogger())
	return &managerFixture{
		Manager: mgr,
		Devices: reg,
		Driver:  drv,
		t:       t,
	}
}

// Device returns the fixture's registered device.
func (f *managerFixture) Device() *device.Device {
	f.t.Helper()
	dev, err := f.Devices.Get(testIfindex)
	require.NoError(f.t, err, "device lookup failed")
	return dev
}

// AssertCacheLen verifies the number of committed shapers on the device.
func (f *managerFixture) AssertCacheLen(want int) {
	f.t.Helper()
	c := f.Device().Cache()
	if c == nil {
		assert.Zero(f.t, want, "no cache exists yet")
		return
	}
	assert.Equal(f.t, want, c.Len(), "cached shaper count mismatch")
}

// AssertHardwareCount verifies the number of shapers the driver holds.
func (f *managerFixture) AssertHardwareCount(want int) {
	f.t.Helper()
	assert.Equal(f.t, want, f.Driver.ShaperCount(testIfindex), "hardware shaper count mismatch")
}

// AssertDriverOps verifies the sequence of driver operations.
func (f *managerFixture) AssertDriverOps(expected []string) {
	f.t.Helper()
	ops := f.Driver.Operations()
	actual := make([]string, len(ops))
	for i, op := range ops {
		if op.Err != nil {
			actual[i] = fmt.Sprintf("%s:%s:error", op.Op, op.Handle)
		} else {
			actual[i] = fmt.Sprintf("%s:%s:ok", op.Op, op.Handle)
		}
	}
	assert.Equal(f.t, expected, actual, "driver operations mismatch")
}

// AssertErrorCode verifies err carries the given taxonomy code.
func (f *managerFixture) AssertErrorCode(err error, code shaperman.ErrorCode) {
	f.t.Helper()
	require.Error(f.t, err)
	assert.Equal(f.t, code, shaperman.CodeOf(err), "error code mismatch: %v", err)
}
