package manager

import (
	"context"

	"github.com/frobware/go-shaperman"
)

// Get returns the committed node for handle on device ifindex.
func (m *Manager) Get(ctx context.Context, ifindex int, handle shaperman.Handle) (shaperman.Shaper, error) {
	dev, err := m.devices.Get(ifindex)
	if err != nil {
		return shaperman.Shaper{}, err
	}
	if err := shaperman.CheckHandle(handle); err != nil {
		return shaperman.Shaper{}, err
	}
	c := dev.Cache()
	if c == nil {
		return shaperman.Shaper{}, shaperman.InvalidRequestf("shaper %s not found on device %d", handle, ifindex)
	}
	node, ok := c.Lookup(handle)
	if !ok {
		return shaperman.Shaper{}, shaperman.InvalidRequestf("shaper %s not found on device %d", handle, ifindex)
	}
	return node, nil
}

// List returns every committed node on device ifindex in ascending
// handle order. A device nothing was ever staged on lists empty.
func (m *Manager) List(ctx context.Context, ifindex int) ([]shaperman.Shaper, error) {
	dev, err := m.devices.Get(ifindex)
	if err != nil {
		return nil, err
	}
	c := dev.Cache()
	if c == nil {
		return nil, nil
	}
	return c.Snapshot(), nil
}
