package manager

import (
	"context"

	"github.com/frobware/go-shaperman"
)

// Set creates or updates a single shaper node.
//
// The attributes are a patch: present fields overwrite the cached
// value, absent fields keep it. A node that was never cached starts
// from the zero value with the scope's implicit default parent.
// Detached nodes cannot be created here; Group is the only operation
// that creates them.
func (m *Manager) Set(ctx context.Context, ifindex int, spec shaperman.NodeSpec) (shaperman.Shaper, error) {
	dev, drv, err := m.bind(ifindex)
	if err != nil {
		return shaperman.Shaper{}, err
	}

	h := spec.Handle
	if err := shaperman.CheckSettable(h); err != nil {
		return shaperman.Shaper{}, err
	}
	if err := checkQueueID(dev, h); err != nil {
		return shaperman.Shaper{}, err
	}
	if spec.Attrs.Has(shaperman.AttrParent) {
		return shaperman.Shaper{}, shaperman.InvalidRequestf("shaper %s: parent can only be changed by group", h)
	}
	if err := m.checkCaps(ctx, drv, ifindex, h.Scope(), spec.Attrs); err != nil {
		return shaperman.Shaper{}, err
	}

	dev.Lock()
	c := dev.EnsureCache()
	prior, exists := c.Lookup(h)
	if h.Scope() == shaperman.ScopeDetached && !exists {
		dev.Unlock()
		return shaperman.Shaper{}, shaperman.InvalidRequestf("detached shaper %s not found: use group to create detached shapers", h)
	}
	base := prior
	if !exists {
		base = shaperman.Shaper{Handle: h, Parent: h.DefaultParent()}
	}
	merged := spec.Attrs.ApplyTo(base)
	tx := c.Begin()
	if _, err := tx.PrepareInsert(h); err != nil {
		dev.Unlock()
		return shaperman.Shaper{}, err
	}
	dev.Unlock()

	m.logger.DebugContext(ctx, "setting shaper",
		"ifindex", ifindex, "handle", h, "tx", tx.ID())

	if err := drv.Set(ctx, ifindex, merged); err != nil {
		dev.Lock()
		tx.Rollback()
		dev.Unlock()
		return shaperman.Shaper{}, driverError("set", h, err)
	}

	dev.Lock()
	tx.Commit(merged)
	dev.Unlock()

	m.logger.InfoContext(ctx, "set shaper", "ifindex", ifindex, "handle", h)

	if committed, ok := c.Lookup(h); ok {
		return committed, nil
	}
	return merged, nil
}
