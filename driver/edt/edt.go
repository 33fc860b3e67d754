// Package edt implements the driver contract by programming a pinned
// BPF hash map consumed by an EDT (earliest departure time) datapath,
// in the style of kernel bandwidth managers that pace packets with
// timestamps instead of queueing disciplines.
//
// The backend is deliberately flat: it caps egress bandwidth per
// device and per queue, nothing more. Nesting, grouping and the
// remaining shaping attributes are reported unsupported so callers
// fall back or fail fast. The map outlives the daemon in bpffs; a
// restart re-attaches to it.
package edt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cilium/ebpf"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-shaperman"
)

const (
	// MapName is the pinned object's name in bpffs.
	MapName = "shaperd_throttle"

	// DefaultPinDir is where the throttle map is pinned unless the
	// runtime config says otherwise.
	DefaultPinDir = "/sys/fs/bpf/shaperd"

	maxEntries = 16384

	keySize   = 8
	valueSize = 32

	// defaultDropHorizon is how far into the future the datapath may
	// schedule a departure before dropping instead.
	defaultDropHorizon = 2 * time.Second

	// aggregateQueue marks a per-device entry. Real queue ids fit in
	// 26 bits, so the sentinel can never collide.
	aggregateQueue = ^uint32(0)
)

// ThrottleID keys one rate limit: a device plus either a concrete
// queue or the aggregate sentinel. Layout is shared with the datapath
// object; do not reorder.
type ThrottleID struct {
	Ifindex uint32
	Queue   uint32
}

// ThrottleInfo is the limit the datapath enforces. TimeLast is owned
// by the datapath and always written as zero from here.
type ThrottleInfo struct {
	Bps         uint64
	TimeLast    uint64
	HorizonDrop uint64
	Prio        uint32
	Pad         uint32
}

// ThrottleMap is the subset of *ebpf.Map the driver uses; tests
// inject a fake.
type ThrottleMap interface {
	Put(key, value any) error
	Delete(key any) error
	Close() error
}

// Option configures a Driver.
type Option func(*Driver)

// WithPinDir overrides the bpffs directory the map is pinned in.
func WithPinDir(dir string) Option {
	return func(d *Driver) { d.pinDir = dir }
}

// WithMap injects the throttle map, skipping bpffs entirely.
func WithMap(m ThrottleMap) Option {
	return func(d *Driver) { d.throttle = m }
}

// Driver programs per-device and per-queue bandwidth caps into the
// throttle map. Map updates are atomic, so there is no compensation
// machinery here.
type Driver struct {
	logger   *slog.Logger
	pinDir   string
	throttle ThrottleMap
}

// New opens the pinned throttle map, creating and pinning it on first
// use.
func New(logger *slog.Logger, opts ...Option) (*Driver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		logger: logger.With("component", "driver", "backend", "edt"),
		pinDir: DefaultPinDir,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.throttle == nil {
		m, err := openThrottleMap(d.pinDir)
		if err != nil {
			return nil, err
		}
		d.throttle = m
	}
	return d, nil
}

func openThrottleMap(pinDir string) (*ebpf.Map, error) {
	path := filepath.Join(pinDir, MapName)
	m, err := ebpf.LoadPinnedMap(path, nil)
	if err == nil {
		if m.Type() != ebpf.Hash || m.KeySize() != keySize || m.ValueSize() != valueSize {
			m.Close()
			return nil, fmt.Errorf("pinned map %s has a foreign layout: remove it and restart", path)
		}
		return m, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load pinned map %s: %w", path, err)
	}

	if err := os.MkdirAll(pinDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pin directory %s: %w", pinDir, err)
	}
	m, err = ebpf.NewMap(&ebpf.MapSpec{
		Name:       MapName,
		Type:       ebpf.Hash,
		KeySize:    keySize,
		ValueSize:  valueSize,
		MaxEntries: maxEntries,
		Flags:      unix.BPF_F_NO_PREALLOC,
	})
	if err != nil {
		return nil, fmt.Errorf("create throttle map: %w", err)
	}
	if err := m.Pin(path); err != nil {
		m.Close()
		return nil, fmt.Errorf("pin throttle map at %s: %w", path, err)
	}
	return m, nil
}

// Close releases the map handle. The pin stays in bpffs.
func (d *Driver) Close() error {
	return d.throttle.Close()
}

func throttleKey(ifindex int, h shaperman.Handle) (ThrottleID, error) {
	switch h.Scope() {
	case shaperman.ScopeNetdev:
		return ThrottleID{Ifindex: uint32(ifindex), Queue: aggregateQueue}, nil
	case shaperman.ScopeQueue:
		return ThrottleID{Ifindex: uint32(ifindex), Queue: h.ID()}, nil
	default:
		return ThrottleID{}, shaperman.Unsupportedf("edt: scope %s not shapeable", h.Scope())
	}
}

// Set programs one cap. A shaper without a bw-max limit has no entry,
// so setting one back to unlimited removes the entry instead.
func (d *Driver) Set(ctx context.Context, ifindex int, shaper shaperman.Shaper) error {
	key, err := throttleKey(ifindex, shaper.Handle)
	if err != nil {
		return err
	}
	if shaper.Metric != shaperman.MetricBPS {
		return shaperman.Unsupportedf("edt: metric %s not supported", shaper.Metric)
	}

	if shaper.BwMax == 0 {
		if err := d.throttle.Delete(&key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
			return shaperman.HardwareError("edt: clear throttle entry", err)
		}
		d.logger.Debug("cleared throttle entry", "ifindex", ifindex, "handle", shaper.Handle)
		return nil
	}

	info := ThrottleInfo{
		Bps:         shaper.BwMax,
		HorizonDrop: uint64(defaultDropHorizon.Nanoseconds()),
		Prio:        shaper.Priority,
	}
	if err := d.throttle.Put(&key, &info); err != nil {
		return shaperman.HardwareError("edt: update throttle entry", err)
	}
	d.logger.Debug("programmed throttle entry",
		"ifindex", ifindex, "handle", shaper.Handle, "bps", shaper.BwMax)
	return nil
}

// Delete removes one cap. A missing entry is fine: the node may have
// carried no bw-max limit.
func (d *Driver) Delete(ctx context.Context, ifindex int, handle shaperman.Handle) error {
	key, err := throttleKey(ifindex, handle)
	if err != nil {
		return err
	}
	if err := d.throttle.Delete(&key); err != nil && !errors.Is(err, ebpf.ErrKeyNotExist) {
		return shaperman.HardwareError("edt: remove throttle entry", err)
	}
	d.logger.Debug("removed throttle entry", "ifindex", ifindex, "handle", handle)
	return nil
}

// Group always fails: the map has no notion of hierarchy.
func (d *Driver) Group(ctx context.Context, ifindex int, inputs []shaperman.Shaper, output shaperman.Shaper) error {
	return shaperman.Unsupportedf("edt: grouping not supported")
}

// Capabilities reports the flat feature set: bandwidth ceilings, in
// bytes per second, on devices and queues.
func (d *Driver) Capabilities(ctx context.Context, ifindex int, scope shaperman.Scope) (shaperman.FeatureSet, error) {
	switch scope {
	case shaperman.ScopeNetdev, shaperman.ScopeQueue:
		return shaperman.FeatureMetricBPS | shaperman.FeatureBwMax, nil
	default:
		return 0, shaperman.Unsupportedf("edt: scope %s not supported", scope)
	}
}
