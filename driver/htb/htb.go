// Package htb implements the driver contract on the Linux HTB
// queueing discipline via rtnetlink.
//
// The device's root qdisc is replaced with HTB (handle 1:0) the first
// time a shaper is programmed, and removed again when the last one is
// deleted. Shaper handles map onto class minors: the netdev node is
// class 1:1, queue nodes occupy 1:0x8000 and up, detached nodes
// 1:0x4000 and up. Class 1:1 always exists while the qdisc does, so
// queue and detached nodes have an anchor to borrow from even before
// any netdev limit is configured; it stays unlimited until a netdev
// shaper is set.
//
// HTB cannot move a class to a new parent in place, so re-parenting
// is delete-plus-add for childless nodes and unsupported for nodes
// that already anchor children.
package htb

import (
	"context"
	"log/slog"
	"math"
	"sync"

	"github.com/vishvananda/netlink"

	"github.com/frobware/go-shaperman"
)

const (
	anchorMinor       = 1
	detachedMinorBase = 0x4000
	queueMinorBase    = 0x8000

	maxDetachedID = queueMinorBase - detachedMinorBase
	maxQueueID    = 0x10000 - queueMinorBase

	// quantumUnit converts the dimensionless shaper weight into the
	// DRR quantum HTB distributes excess bandwidth by.
	quantumUnit = 1500

	// prioBands is HTB's fixed number of priority levels.
	prioBands = 8

	// unlimitedRate stands in where a class needs a rate but the
	// shaper has no limit configured. HTB rejects a zero rate.
	unlimitedRate = uint64(1) << 40 // bytes per second
)

// TC is the rtnetlink surface the driver programs. The default
// implementation calls the package-level vishvananda/netlink
// functions; tests inject a fake.
type TC interface {
	QdiscReplace(netlink.Qdisc) error
	QdiscDel(netlink.Qdisc) error
	ClassAdd(netlink.Class) error
	ClassChange(netlink.Class) error
	ClassDel(netlink.Class) error
}

type rtnlTC struct{}

func (rtnlTC) QdiscReplace(q netlink.Qdisc) error { return netlink.QdiscReplace(q) }
func (rtnlTC) QdiscDel(q netlink.Qdisc) error     { return netlink.QdiscDel(q) }
func (rtnlTC) ClassAdd(c netlink.Class) error     { return netlink.ClassAdd(c) }
func (rtnlTC) ClassChange(c netlink.Class) error  { return netlink.ClassChange(c) }
func (rtnlTC) ClassDel(c netlink.Class) error     { return netlink.ClassDel(c) }

// Option configures a Driver.
type Option func(*Driver)

// WithTC overrides the rtnetlink surface.
func WithTC(tc TC) Option {
	return func(d *Driver) { d.tc = tc }
}

// devState mirrors what the driver has programmed into one device.
// The netdev node, when configured, lives in classes like any other;
// the anchor class itself is implied by the device entry existing.
type devState struct {
	classes map[shaperman.Handle]shaperman.Shaper
}

func (st *devState) childCount(h shaperman.Handle) int {
	n := 0
	for _, s := range st.classes {
		if s.Parent == h {
			n++
		}
	}
	return n
}

// Driver programs shapers as HTB classes. Safe for concurrent use;
// rtnetlink calls are serialised.
type Driver struct {
	logger *slog.Logger
	tc     TC

	mu      sync.Mutex
	devices map[int]*devState
}

// New creates an HTB driver.
func New(logger *slog.Logger, opts ...Option) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Driver{
		logger:  logger.With("component", "driver", "backend", "htb"),
		tc:      rtnlTC{},
		devices: make(map[int]*devState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func classMinor(h shaperman.Handle) (uint16, error) {
	switch h.Scope() {
	case shaperman.ScopeNetdev:
		return anchorMinor, nil
	case shaperman.ScopeQueue:
		if h.ID() >= maxQueueID {
			return 0, shaperman.Unsupportedf("htb: queue id %d exceeds the class minor space", h.ID())
		}
		return uint16(queueMinorBase + h.ID()), nil
	case shaperman.ScopeDetached:
		if h.ID() >= maxDetachedID {
			return 0, shaperman.Unsupportedf("htb: detached id %d exceeds the class minor space", h.ID())
		}
		return uint16(detachedMinorBase + h.ID()), nil
	default:
		return 0, shaperman.Unsupportedf("htb: scope %s not shapeable", h.Scope())
	}
}

// tcParent maps a shaper's parent handle onto the TC parent the class
// attaches under. The zero handle and the port scope both mean the
// HTB root itself.
func tcParent(parent shaperman.Handle) (uint32, error) {
	if parent == 0 || parent.Scope() == shaperman.ScopePort {
		return netlink.MakeHandle(1, 0), nil
	}
	minor, err := classMinor(parent)
	if err != nil {
		return 0, err
	}
	if parent.Scope() == shaperman.ScopeQueue {
		return 0, shaperman.Unsupportedf("htb: queue shapers can't nest children")
	}
	return netlink.MakeHandle(1, minor), nil
}

// clampRate keeps rates inside the range the bits-per-second
// conversion and the kernel are comfortable with.
func clampRate(bytesPerSec uint64) uint64 {
	if bytesPerSec == 0 || bytesPerSec > unlimitedRate {
		return unlimitedRate
	}
	return bytesPerSec
}

func bits(bytesPerSec uint64) uint64 { return bytesPerSec * 8 }

// classFor translates a merged shaper into the HTB class programming
// it. Rates fall back so HTB always gets the non-zero rate and ceil
// it insists on: rate prefers BwMin over BwMax over unlimited, ceil
// prefers BwMax over unlimited, and ceil never drops below rate.
func classFor(ifindex int, s shaperman.Shaper) (*netlink.HtbClass, error) {
	minor, err := classMinor(s.Handle)
	if err != nil {
		return nil, err
	}
	parent, err := tcParent(s.Parent)
	if err != nil {
		return nil, err
	}

	rate := s.BwMin
	if rate == 0 {
		rate = s.BwMax
	}
	rate = clampRate(rate)
	ceil := clampRate(s.BwMax)
	if ceil < rate {
		ceil = rate
	}

	burst := s.Burst
	if burst > math.MaxUint32 {
		burst = math.MaxUint32
	}
	quantum := uint64(s.Weight) * quantumUnit
	if quantum > math.MaxUint32 {
		quantum = math.MaxUint32
	}
	prio := s.Priority
	if prio >= prioBands {
		prio = prioBands - 1
	}

	return netlink.NewHtbClass(
		netlink.ClassAttrs{
			LinkIndex: ifindex,
			Handle:    netlink.MakeHandle(1, minor),
			Parent:    parent,
		},
		netlink.HtbClassAttrs{
			Rate:    bits(rate),
			Ceil:    bits(ceil),
			Buffer:  uint32(burst),
			Quantum: uint32(quantum),
			Prio:    prio,
		},
	), nil
}

// anchorClass is class 1:1 with no limits configured.
func anchorClass(ifindex int) *netlink.HtbClass {
	return netlink.NewHtbClass(
		netlink.ClassAttrs{
			LinkIndex: ifindex,
			Handle:    netlink.MakeHandle(1, anchorMinor),
			Parent:    netlink.MakeHandle(1, 0),
		},
		netlink.HtbClassAttrs{
			Rate: bits(unlimitedRate),
			Ceil: bits(unlimitedRate),
		},
	)
}

func rootQdisc(ifindex int) netlink.Qdisc {
	return netlink.NewHtb(netlink.QdiscAttrs{
		LinkIndex: ifindex,
		Handle:    netlink.MakeHandle(1, 0),
		Parent:    netlink.HANDLE_ROOT,
	})
}

func checkMetric(s shaperman.Shaper) error {
	if s.Metric != shaperman.MetricBPS {
		return shaperman.Unsupportedf("htb: metric %s not supported", s.Metric)
	}
	return nil
}

// ensureDevice installs the HTB root and the anchor class on first
// use. fresh reports whether this call did the install, so a failing
// operation can tear it back down.
func (d *Driver) ensureDevice(ifindex int) (st *devState, fresh bool, err error) {
	if st, ok := d.devices[ifindex]; ok {
		return st, false, nil
	}
	if err := d.tc.QdiscReplace(rootQdisc(ifindex)); err != nil {
		return nil, false, shaperman.HardwareError("htb: install root qdisc", err)
	}
	if err := d.tc.ClassAdd(anchorClass(ifindex)); err != nil {
		if delErr := d.tc.QdiscDel(rootQdisc(ifindex)); delErr != nil {
			d.logger.Warn("orphaned htb root after failed anchor install",
				"ifindex", ifindex, "error", delErr)
		}
		return nil, false, shaperman.HardwareError("htb: install anchor class", err)
	}
	st = &devState{classes: make(map[shaperman.Handle]shaperman.Shaper)}
	d.devices[ifindex] = st
	d.logger.Debug("installed htb root", "ifindex", ifindex)
	return st, true, nil
}

// teardown removes the HTB root, restoring the device's default
// qdisc, and forgets the device.
func (d *Driver) teardown(ifindex int) error {
	delete(d.devices, ifindex)
	if err := d.tc.QdiscDel(rootQdisc(ifindex)); err != nil {
		return shaperman.HardwareError("htb: remove root qdisc", err)
	}
	d.logger.Debug("removed htb root", "ifindex", ifindex)
	return nil
}

// applyNode programs one merged shaper and appends the inverse
// operation to undo. The shadow state is only read here; the caller
// commits it after every node of the operation lands.
func (d *Driver) applyNode(st *devState, ifindex int, s shaperman.Shaper, undo *[]func() error) error {
	cls, err := classFor(ifindex, s)
	if err != nil {
		return err
	}

	// Class 1:1 exists from the moment the qdisc does, so the netdev
	// node is always a change, reverting to the prior limits or back
	// to the unlimited anchor.
	if s.Handle.Scope() == shaperman.ScopeNetdev {
		if err := d.tc.ClassChange(cls); err != nil {
			return shaperman.HardwareError("htb: change netdev class", err)
		}
		revert := anchorClass(ifindex)
		if prior, ok := st.classes[s.Handle]; ok {
			if revert, err = classFor(ifindex, prior); err != nil {
				return err
			}
		}
		*undo = append(*undo, func() error { return d.tc.ClassChange(revert) })
		return nil
	}

	prior, exists := st.classes[s.Handle]
	switch {
	case !exists:
		if err := d.tc.ClassAdd(cls); err != nil {
			return shaperman.HardwareError("htb: add class", err)
		}
		*undo = append(*undo, func() error { return d.tc.ClassDel(cls) })

	case prior.Parent == s.Parent:
		if err := d.tc.ClassChange(cls); err != nil {
			return shaperman.HardwareError("htb: change class", err)
		}
		priorCls, err := classFor(ifindex, prior)
		if err != nil {
			return err
		}
		*undo = append(*undo, func() error { return d.tc.ClassChange(priorCls) })

	default:
		// Re-parent. HTB can't move a class, so replace it, provided
		// nothing is attached beneath it.
		if st.childCount(s.Handle) > 0 {
			return shaperman.Unsupportedf("htb: can't re-parent %s while it anchors children", s.Handle)
		}
		priorCls, err := classFor(ifindex, prior)
		if err != nil {
			return err
		}
		if err := d.tc.ClassDel(priorCls); err != nil {
			return shaperman.HardwareError("htb: remove class for re-parent", err)
		}
		*undo = append(*undo, func() error { return d.tc.ClassAdd(priorCls) })
		if err := d.tc.ClassAdd(cls); err != nil {
			return shaperman.HardwareError("htb: re-add class under new parent", err)
		}
		*undo = append(*undo, func() error { return d.tc.ClassDel(cls) })
	}
	return nil
}

// compensate runs the undo list in reverse. Failures are logged, not
// returned; the original error stays the caller's answer.
func (d *Driver) compensate(ifindex int, undo []func() error) {
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i](); err != nil {
			d.logger.Error("htb compensation failed; device and cache may disagree",
				"ifindex", ifindex, "error", err)
		}
	}
}

func (st *devState) commit(nodes ...shaperman.Shaper) {
	for _, s := range nodes {
		st.classes[s.Handle] = s
	}
}

// Set programs one node.
func (d *Driver) Set(ctx context.Context, ifindex int, shaper shaperman.Shaper) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := checkMetric(shaper); err != nil {
		return err
	}
	if _, err := classFor(ifindex, shaper); err != nil {
		return err
	}

	st, fresh, err := d.ensureDevice(ifindex)
	if err != nil {
		return err
	}
	var undo []func() error
	if err := d.applyNode(st, ifindex, shaper, &undo); err != nil {
		if fresh {
			if tdErr := d.teardown(ifindex); tdErr != nil {
				d.logger.Warn("htb teardown after failed set", "ifindex", ifindex, "error", tdErr)
			}
		}
		return err
	}
	st.commit(shaper)
	d.logger.Debug("programmed class", "ifindex", ifindex, "handle", shaper.Handle)
	return nil
}

// Delete removes one node. Deleting the netdev node while other
// shapers remain resets class 1:1 to unlimited instead of removing
// it; deleting the last node removes the HTB root entirely.
func (d *Driver) Delete(ctx context.Context, ifindex int, handle shaperman.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.devices[ifindex]
	if !ok {
		return shaperman.InvalidRequestf("htb: no shapers programmed on device %d", ifindex)
	}
	s, ok := st.classes[handle]
	if !ok {
		return shaperman.InvalidRequestf("htb: shaper %s not programmed", handle)
	}

	if handle.Scope() == shaperman.ScopeNetdev && len(st.classes) > 1 {
		if err := d.tc.ClassChange(anchorClass(ifindex)); err != nil {
			return shaperman.HardwareError("htb: reset netdev class", err)
		}
		delete(st.classes, handle)
		d.logger.Debug("reset netdev class to unlimited", "ifindex", ifindex)
		return nil
	}

	if handle.Scope() != shaperman.ScopeNetdev {
		cls, err := classFor(ifindex, s)
		if err != nil {
			return err
		}
		if err := d.tc.ClassDel(cls); err != nil {
			return shaperman.HardwareError("htb: remove class", err)
		}
		delete(st.classes, handle)
		d.logger.Debug("removed class", "ifindex", ifindex, "handle", handle)
	} else {
		delete(st.classes, handle)
	}

	if len(st.classes) == 0 {
		// Last shaper gone; give the device its default qdisc back.
		if err := d.teardown(ifindex); err != nil {
			d.logger.Warn("htb root left behind after last delete", "ifindex", ifindex, "error", err)
		}
	}
	return nil
}

// Group applies the output and every input as one transaction,
// undoing already-applied nodes if a later one fails.
func (d *Driver) Group(ctx context.Context, ifindex int, inputs []shaperman.Shaper, output shaperman.Shaper) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := checkMetric(output); err != nil {
		return err
	}
	if _, err := classFor(ifindex, output); err != nil {
		return err
	}
	for _, in := range inputs {
		if err := checkMetric(in); err != nil {
			return err
		}
		if _, err := classFor(ifindex, in); err != nil {
			return err
		}
	}

	st, fresh, err := d.ensureDevice(ifindex)
	if err != nil {
		return err
	}
	var undo []func() error
	fail := func(cause error) error {
		d.compensate(ifindex, undo)
		if fresh {
			if tdErr := d.teardown(ifindex); tdErr != nil {
				d.logger.Warn("htb teardown after failed group", "ifindex", ifindex, "error", tdErr)
			}
		}
		return cause
	}

	// Validate every re-parent before touching any class.
	for _, in := range inputs {
		prior, exists := st.classes[in.Handle]
		if exists && prior.Parent != in.Parent && st.childCount(in.Handle) > 0 {
			return fail(shaperman.Unsupportedf("htb: can't re-parent %s while it anchors children", in.Handle))
		}
	}

	if err := d.applyNode(st, ifindex, output, &undo); err != nil {
		return fail(err)
	}
	for _, in := range inputs {
		if err := d.applyNode(st, ifindex, in, &undo); err != nil {
			return fail(err)
		}
	}

	st.commit(output)
	st.commit(inputs...)
	d.logger.Debug("programmed group", "ifindex", ifindex, "output", output.Handle, "inputs", len(inputs))
	return nil
}

// Capabilities reports what HTB can express for one scope. The
// answer is static; no device state is consulted.
func (d *Driver) Capabilities(ctx context.Context, ifindex int, scope shaperman.Scope) (shaperman.FeatureSet, error) {
	common := shaperman.FeatureMetricBPS | shaperman.FeatureBwMin | shaperman.FeatureBwMax |
		shaperman.FeatureBurst | shaperman.FeaturePriority | shaperman.FeatureWeight
	switch scope {
	case shaperman.ScopeNetdev, shaperman.ScopeDetached:
		return common | shaperman.FeatureNesting, nil
	case shaperman.ScopeQueue:
		return common, nil
	default:
		return 0, shaperman.Unsupportedf("htb: scope %s not supported", scope)
	}
}
