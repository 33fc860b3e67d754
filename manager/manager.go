// Package manager orchestrates shaper operations as transactions.
//
// Every mutating operation follows the same shape: validate, stage
// the change on the device's cache, program the device through its
// driver, then commit or roll back. The device lock covers staging
// plus validation and the final commit/rollback step, never the
// driver call, so two operations on one device may interleave their
// driver round-trips but never their cache mutations.
//
// There is no partial success: either the driver confirmed the change
// and the staged nodes committed, or the cache is exactly as it was
// before the request. The Delete cascade is the one exception - steps
// the driver already confirmed stay deleted when a later step fails,
// which is forward progress, not a torn state.
package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frobware/go-shaperman"
	"github.com/frobware/go-shaperman/device"
)

// Manager orchestrates shaper operations against registered devices.
// The registry is injected; the manager never reaches for devices
// through globals.
type Manager struct {
	devices *device.Registry
	logger  *slog.Logger
}

// New creates a new Manager.
func New(devices *device.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		devices: devices,
		logger:  logger.With("component", "manager"),
	}
}

// Devices returns the injected device registry.
func (m *Manager) Devices() *device.Registry { return m.devices }

// bind resolves ifindex for an operation that will touch the device,
// requiring a driver backend.
func (m *Manager) bind(ifindex int) (*device.Device, shaperman.Driver, error) {
	dev, err := m.devices.Get(ifindex)
	if err != nil {
		return nil, nil, err
	}
	drv := dev.Driver()
	if drv == nil {
		return nil, nil, shaperman.Unsupportedf("device %d does not support shaping", ifindex)
	}
	return dev, drv, nil
}

// checkCaps queries the device's capabilities for scope and verifies
// every attribute the request carries is supported.
func (m *Manager) checkCaps(ctx context.Context, drv shaperman.Driver, ifindex int, scope shaperman.Scope, attrs shaperman.Attrs) error {
	caps, err := drv.Capabilities(ctx, ifindex, scope)
	if err != nil {
		if shaperman.CodeOf(err) != 0 {
			return err
		}
		return &shaperman.Error{
			Code:   shaperman.CodeUnsupported,
			Reason: fmt.Sprintf("scope %s not supported by device %d", scope, ifindex),
			Err:    err,
		}
	}
	return attrs.CheckSupported(scope, caps)
}

// checkQueueID bounds queue-scope handles against the device's
// transmit queue count, when known.
func checkQueueID(dev *device.Device, h shaperman.Handle) error {
	if h.Scope() != shaperman.ScopeQueue {
		return nil
	}
	if n := dev.TxQueues(); n > 0 && h.ID() >= uint32(n) {
		return shaperman.InvalidRequestf("shaper %s: device %d has %d tx queues", h, dev.Ifindex(), n)
	}
	return nil
}

// driverError passes taxonomy errors from a driver through untouched
// and wraps anything else as a hardware failure.
func driverError(op string, h shaperman.Handle, err error) error {
	if shaperman.CodeOf(err) != 0 {
		return err
	}
	return shaperman.HardwareError(fmt.Sprintf("%s of shaper %s failed", op, h), err)
}
