// Package sim implements an in-memory driver backend. It behaves like
// ideal hardware: every operation is atomic, all scopes short of the
// port root are shapeable, and programmed state can be inspected. It
// exists for development, for exercising the daemon without privilege,
// and for failure-path testing via fault injection.
package sim

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/frobware/go-shaperman"
)

// FaultFunc lets tests and demos inject failures. It runs before the
// operation applies; a non-nil return aborts the operation with that
// error and leaves programmed state untouched.
type FaultFunc func(op string, ifindex int, handle shaperman.Handle) error

// Option configures a Driver.
type Option func(*Driver)

// WithCapabilities overrides the advertised features for one scope.
// A zero feature set removes the scope entirely.
func WithCapabilities(scope shaperman.Scope, features shaperman.FeatureSet) Option {
	return func(d *Driver) {
		if features == 0 {
			delete(d.caps, scope)
			return
		}
		d.caps[scope] = features
	}
}

// WithFault installs a fault hook.
func WithFault(fn FaultFunc) Option {
	return func(d *Driver) { d.fault = fn }
}

// allFeatures is what the simulator advertises by default.
const allFeatures = shaperman.FeatureMetricBPS | shaperman.FeatureMetricPPS |
	shaperman.FeatureNesting | shaperman.FeatureBwMin | shaperman.FeatureBwMax |
	shaperman.FeatureBurst | shaperman.FeaturePriority | shaperman.FeatureWeight

// Driver is the in-memory backend. Safe for concurrent use.
type Driver struct {
	logger *slog.Logger
	fault  FaultFunc

	mu      sync.Mutex
	caps    map[shaperman.Scope]shaperman.FeatureSet
	devices map[int]map[shaperman.Handle]shaperman.Shaper
}

// New creates a simulator. By default the netdev, queue and detached
// scopes advertise every feature; the port scope none.
func New(logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		logger: logger.With("component", "driver", "backend", "sim"),
		caps: map[shaperman.Scope]shaperman.FeatureSet{
			shaperman.ScopeNetdev:   allFeatures,
			shaperman.ScopeQueue:    allFeatures,
			shaperman.ScopeDetached: allFeatures,
		},
		devices: make(map[int]map[shaperman.Handle]shaperman.Shaper),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) checkFault(op string, ifindex int, handle shaperman.Handle) error {
	if d.fault == nil {
		return nil
	}
	return d.fault(op, ifindex, handle)
}

func (d *Driver) checkScope(handle shaperman.Handle) (shaperman.FeatureSet, error) {
	features, ok := d.caps[handle.Scope()]
	if !ok {
		return 0, shaperman.Unsupportedf("sim: scope %s not shapeable", handle.Scope())
	}
	return features, nil
}

func (d *Driver) tree(ifindex int) map[shaperman.Handle]shaperman.Shaper {
	t, ok := d.devices[ifindex]
	if !ok {
		t = make(map[shaperman.Handle]shaperman.Shaper)
		d.devices[ifindex] = t
	}
	return t
}

// Set programs one node.
func (d *Driver) Set(ctx context.Context, ifindex int, shaper shaperman.Shaper) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	features, err := d.checkScope(shaper.Handle)
	if err != nil {
		return err
	}
	if !features.SupportsMetric(shaper.Metric) {
		return shaperman.Unsupportedf("sim: metric %s not supported for scope %s", shaper.Metric, shaper.Handle.Scope())
	}
	if err := d.checkFault("set", ifindex, shaper.Handle); err != nil {
		return err
	}

	d.tree(ifindex)[shaper.Handle] = shaper
	d.logger.Debug("programmed shaper", "ifindex", ifindex, "handle", shaper.Handle)
	return nil
}

// Delete removes one node.
func (d *Driver) Delete(ctx context.Context, ifindex int, handle shaperman.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.checkScope(handle); err != nil {
		return err
	}
	if err := d.checkFault("delete", ifindex, handle); err != nil {
		return err
	}

	tree := d.tree(ifindex)
	if _, ok := tree[handle]; !ok {
		return shaperman.InvalidRequestf("sim: shaper %s not programmed", handle)
	}
	delete(tree, handle)
	d.logger.Debug("removed shaper", "ifindex", ifindex, "handle", handle)
	return nil
}

// Group programs the output and re-parents the inputs as one atomic
// change. The fault hook fires once, keyed by the output handle.
func (d *Driver) Group(ctx context.Context, ifindex int, inputs []shaperman.Shaper, output shaperman.Shaper) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	features, err := d.checkScope(output.Handle)
	if err != nil {
		return err
	}
	if !features.Has(shaperman.FeatureNesting) {
		return shaperman.Unsupportedf("sim: scope %s does not support nesting", output.Handle.Scope())
	}
	for _, in := range inputs {
		if _, err := d.checkScope(in.Handle); err != nil {
			return err
		}
	}
	if err := d.checkFault("group", ifindex, output.Handle); err != nil {
		return err
	}

	tree := d.tree(ifindex)
	tree[output.Handle] = output
	for _, in := range inputs {
		tree[in.Handle] = in
	}
	d.logger.Debug("programmed group", "ifindex", ifindex, "output", output.Handle, "inputs", len(inputs))
	return nil
}

// Capabilities reports the configured feature set for scope.
func (d *Driver) Capabilities(ctx context.Context, ifindex int, scope shaperman.Scope) (shaperman.FeatureSet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	features, ok := d.caps[scope]
	if !ok {
		return 0, shaperman.Unsupportedf("sim: scope %s not supported", scope)
	}
	return features, nil
}

// Snapshot returns the programmed nodes of a device in handle order.
func (d *Driver) Snapshot(ifindex int) []shaperman.Shaper {
	d.mu.Lock()
	defer d.mu.Unlock()

	tree := d.devices[ifindex]
	out := make([]shaperman.Shaper, 0, len(tree))
	for _, s := range tree {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}
