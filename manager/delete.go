package manager

import (
	"context"

	"github.com/frobware/go-shaperman"
)

// Delete removes a shaper node. When the node's parent is a Detached
// node whose child count drops to zero, the walk continues upward and
// deletes the now-empty parent too.
//
// Each step is its own driver call made without the device lock. A
// failing step stops the walk with the error; nodes confirmed deleted
// by earlier steps stay deleted.
func (m *Manager) Delete(ctx context.Context, ifindex int, handle shaperman.Handle) error {
	dev, drv, err := m.bind(ifindex)
	if err != nil {
		return err
	}
	if err := shaperman.CheckHandle(handle); err != nil {
		return err
	}

	dev.Lock()
	c := dev.EnsureCache()
	node, ok := c.Lookup(handle)
	if !ok {
		dev.Unlock()
		return shaperman.InvalidRequestf("shaper %s not found on device %d", handle, ifindex)
	}
	if node.Handle.Scope() == shaperman.ScopeDetached && node.Children > 0 {
		dev.Unlock()
		return shaperman.InvalidRequestf("detached shaper %s has %d children", handle, node.Children)
	}

	for {
		// The walk re-reads everything it needs from the snapshot
		// before dropping the lock for the driver call.
		h := node.Handle
		parent := node.Parent
		dev.Unlock()

		m.logger.DebugContext(ctx, "deleting shaper",
			"ifindex", ifindex, "handle", h)

		if err := drv.Delete(ctx, ifindex, h); err != nil {
			return driverError("delete", h, err)
		}

		dev.Lock()
		c.Remove(h)
		m.logger.InfoContext(ctx, "deleted shaper", "ifindex", ifindex, "handle", h)

		if parent.Scope() != shaperman.ScopeDetached {
			break
		}
		parentNode, ok := c.Lookup(parent)
		if !ok {
			break
		}
		if c.AdjustChildren(parent, -1) > 0 {
			break
		}
		node = parentNode
	}
	dev.Unlock()
	return nil
}
