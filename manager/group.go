package manager

import (
	"context"

	"github.com/frobware/go-shaperman"
)

// Group nests a set of input shapers under one output shaper as a
// single transaction. Inputs are Queue or Detached scope; the output
// is Detached or Netdev scope. A Detached output carrying the unspec
// id is created fresh, and the committed node returned to the caller
// carries the allocated handle. Detached inputs must already exist:
// Group re-parents them but never creates them.
//
// Grouping an input already parented under the output is a no-op for
// the output's child count, so re-issuing the same Group is
// idempotent.
func (m *Manager) Group(ctx context.Context, ifindex int, inputs []shaperman.NodeSpec, output shaperman.NodeSpec) (shaperman.Shaper, error) {
	dev, drv, err := m.bind(ifindex)
	if err != nil {
		return shaperman.Shaper{}, err
	}
	if len(inputs) == 0 {
		return shaperman.Shaper{}, shaperman.InvalidRequestf("group needs at least one input")
	}

	if err := shaperman.CheckGroupOutput(output.Handle); err != nil {
		return shaperman.Shaper{}, err
	}
	for _, in := range inputs {
		if err := shaperman.CheckGroupInput(in.Handle); err != nil {
			return shaperman.Shaper{}, err
		}
		if err := checkQueueID(dev, in.Handle); err != nil {
			return shaperman.Shaper{}, err
		}
		if in.Attrs.Has(shaperman.AttrParent) {
			return shaperman.Shaper{}, shaperman.InvalidRequestf("group input %s: inputs are parented under the output", in.Handle)
		}
	}

	if err := m.checkCaps(ctx, drv, ifindex, output.Handle.Scope(), output.Attrs); err != nil {
		return shaperman.Shaper{}, err
	}
	checked := make(map[shaperman.Scope]bool)
	for _, in := range inputs {
		scope := in.Handle.Scope()
		if checked[scope] {
			continue
		}
		if err := m.checkCaps(ctx, drv, ifindex, scope, in.Attrs); err != nil {
			return shaperman.Shaper{}, err
		}
		checked[scope] = true
	}

	dev.Lock()
	c := dev.EnsureCache()
	tx := c.Begin()
	fail := func(err error) (shaperman.Shaper, error) {
		tx.Rollback()
		dev.Unlock()
		return shaperman.Shaper{}, err
	}

	outBase, cached := c.Lookup(output.Handle)
	if !cached {
		if output.Handle.Scope() == shaperman.ScopeDetached && !output.Handle.IsUnspecID() {
			return fail(shaperman.InvalidRequestf("detached shaper %s not found", output.Handle))
		}
		outBase = shaperman.Shaper{Handle: output.Handle, Parent: output.Handle.DefaultParent()}
	}
	merged := output.Attrs.ApplyTo(outBase)
	if err := shaperman.CheckGroupParent(merged.Parent); err != nil {
		return fail(err)
	}
	if merged.Parent.Scope() == shaperman.ScopeDetached {
		if _, ok := c.Lookup(merged.Parent); !ok {
			return fail(shaperman.InvalidRequestf("group output parent %s not found", merged.Parent))
		}
	}

	effHandle, err := tx.PrepareInsert(output.Handle)
	if err != nil {
		return fail(err)
	}
	merged.Handle = effHandle
	if merged.Parent == effHandle {
		return fail(shaperman.InvalidRequestf("shaper %s can't be its own parent", effHandle))
	}

	mergedInputs := make([]shaperman.Shaper, 0, len(inputs))
	for _, in := range inputs {
		base, ok := c.Lookup(in.Handle)
		if !ok {
			if in.Handle.Scope() == shaperman.ScopeDetached {
				return fail(shaperman.InvalidRequestf("detached input %s not found: group never creates inputs", in.Handle))
			}
			base = shaperman.Shaper{Handle: in.Handle, Parent: in.Handle.DefaultParent()}
		}
		if _, err := tx.PrepareInsert(in.Handle); err != nil {
			return fail(err)
		}
		mi := in.Attrs.ApplyTo(base)
		mi.Parent = effHandle
		mergedInputs = append(mergedInputs, mi)
	}
	dev.Unlock()

	m.logger.DebugContext(ctx, "grouping shapers",
		"ifindex", ifindex, "output", effHandle, "inputs", len(mergedInputs), "tx", tx.ID())

	if err := drv.Group(ctx, ifindex, mergedInputs, merged); err != nil {
		dev.Lock()
		tx.Rollback()
		dev.Unlock()
		return shaperman.Shaper{}, driverError("group", effHandle, err)
	}

	dev.Lock()
	// The output commits first so the inputs' re-parenting lands its
	// child count on the cached node.
	tx.Commit(merged)
	tx.Commit(mergedInputs...)
	dev.Unlock()

	m.logger.InfoContext(ctx, "grouped shapers",
		"ifindex", ifindex, "output", effHandle, "inputs", len(mergedInputs))

	if committed, ok := c.Lookup(effHandle); ok {
		return committed, nil
	}
	return merged, nil
}
