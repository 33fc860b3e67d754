package manager_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-shaperman"
)

// groupUnder is shorthand for grouping queue inputs under a fresh
// detached output.
func groupUnder(t *testing.T, fix *managerFixture, queueIDs ...uint32) shaperman.Shaper {
	t.Helper()
	inputs := make([]shaperman.NodeSpec, 0, len(queueIDs))
	for _, id := range queueIDs {
		inputs = append(inputs, shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, id)})
	}
	out, err := fix.Manager.Group(context.Background(), testIfindex, inputs,
		shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec)})
	require.NoError(t, err, "Group should succeed")
	return out
}

// TestGroup_CreatesDetachedOutput verifies that:
//
//	Given an empty device,
//	When I group two queues under an anonymous detached output,
//	Then a fresh detached id is allocated and returned,
//	And both inputs are re-parented under it.
func TestGroup_CreatesDetachedOutput(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	out, err := fix.Manager.Group(ctx, testIfindex,
		[]shaperman.NodeSpec{
			{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0)},
			{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 1), Attrs: shaperman.Attrs{Present: shaperman.AttrWeight, Weight: 2}},
		},
		shaperman.NodeSpec{
			Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec),
			Attrs:  shaperman.Attrs{Present: shaperman.AttrBwMax, BwMax: 10_000},
		},
	)
	require.NoError(t, err)

	assert.Equal(t, shaperman.MakeHandle(shaperman.ScopeDetached, 0), out.Handle, "first detached id should be zero")
	assert.Equal(t, uint32(2), out.Children)
	assert.Equal(t, uint64(10_000), out.BwMax)
	assert.Equal(t, shaperman.MakeHandle(shaperman.ScopeNetdev, 0), out.Parent, "default parent for detached scope is netdev:0")

	q1, err := fix.Manager.Get(ctx, testIfindex, shaperman.MakeHandle(shaperman.ScopeQueue, 1))
	require.NoError(t, err)
	assert.Equal(t, out.Handle, q1.Parent)
	assert.Equal(t, uint32(2), q1.Weight)

	fix.AssertDriverOps([]string{"group:detached:0:ok"})
	fix.AssertCacheLen(3)
	fix.AssertHardwareCount(3)
}

// TestGroup_NetdevOutput verifies that:
//
//	Given an empty device,
//	When I group a queue under the netdev root,
//	Then the input re-parents to the netdev handle.
func TestGroup_NetdevOutput(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	root := shaperman.MakeHandle(shaperman.ScopeNetdev, 0)
	out, err := fix.Manager.Group(ctx, testIfindex,
		[]shaperman.NodeSpec{{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0)}},
		shaperman.NodeSpec{Handle: root, Attrs: shaperman.Attrs{Present: shaperman.AttrBwMax, BwMax: 500}},
	)
	require.NoError(t, err)
	assert.Equal(t, root, out.Handle)

	q, err := fix.Manager.Get(ctx, testIfindex, shaperman.MakeHandle(shaperman.ScopeQueue, 0))
	require.NoError(t, err)
	assert.Equal(t, root, q.Parent)
	fix.AssertCacheLen(2)
}

// TestGroup_IdempotentRegroup verifies that:
//
//	Given a queue already grouped under a detached shaper,
//	When I group it under the same output again,
//	Then the child count does not change.
func TestGroup_IdempotentRegroup(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	out := groupUnder(t, fix, 0)
	require.Equal(t, uint32(1), out.Children)

	again, err := fix.Manager.Group(ctx, testIfindex,
		[]shaperman.NodeSpec{{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0)}},
		shaperman.NodeSpec{Handle: out.Handle},
	)
	require.NoError(t, err)
	assert.Equal(t, out.Handle, again.Handle)
	assert.Equal(t, uint32(1), again.Children, "regrouping the same input must not inflate the count")
	fix.AssertCacheLen(2)
}

// TestGroup_MovesInputBetweenDetachedParents verifies that:
//
//	Given two queues grouped under one detached shaper,
//	When I group one queue under a new detached output,
//	Then the old parent's child count drops and the new one's rises.
func TestGroup_MovesInputBetweenDetachedParents(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	oldOut := groupUnder(t, fix, 0, 1)
	require.Equal(t, uint32(2), oldOut.Children)

	newOut := groupUnder(t, fix, 1)
	assert.Equal(t, uint32(1), newOut.Children)

	old, err := fix.Manager.Get(ctx, testIfindex, oldOut.Handle)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), old.Children, "moved input must release the old parent")

	q1, err := fix.Manager.Get(ctx, testIfindex, shaperman.MakeHandle(shaperman.ScopeQueue, 1))
	require.NoError(t, err)
	assert.Equal(t, newOut.Handle, q1.Parent)
}

// TestGroup_ReparentsExistingOutput verifies that:
//
//	Given two detached shapers each holding one queue,
//	When I re-group the first under the second,
//	Then the second counts it as a child,
//	And deleting the queues later unwinds the whole tree.
func TestGroup_ReparentsExistingOutput(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	a := groupUnder(t, fix, 0)
	b := groupUnder(t, fix, 1)

	moved, err := fix.Manager.Group(ctx, testIfindex,
		[]shaperman.NodeSpec{{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0)}},
		shaperman.NodeSpec{
			Handle: a.Handle,
			Attrs:  shaperman.Attrs{Present: shaperman.AttrParent, Parent: b.Handle},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, b.Handle, moved.Parent)
	assert.Equal(t, uint32(1), moved.Children)

	bNode, err := fix.Manager.Get(ctx, testIfindex, b.Handle)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), bNode.Children, "queue one plus the re-parented output")

	// Unwind: removing both queues should cascade away both
	// detached nodes.
	require.NoError(t, fix.Manager.Delete(ctx, testIfindex, shaperman.MakeHandle(shaperman.ScopeQueue, 1)))
	require.NoError(t, fix.Manager.Delete(ctx, testIfindex, shaperman.MakeHandle(shaperman.ScopeQueue, 0)))
	fix.AssertCacheLen(0)
	fix.AssertHardwareCount(0)
}

// TestGroup_RejectsSelfParent verifies that:
//
//	Given an existing detached shaper,
//	When I re-group it with itself as parent,
//	Then the request is rejected.
func TestGroup_RejectsSelfParent(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	a := groupUnder(t, fix, 0)

	_, err := fix.Manager.Group(ctx, testIfindex,
		[]shaperman.NodeSpec{{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0)}},
		shaperman.NodeSpec{
			Handle: a.Handle,
			Attrs:  shaperman.Attrs{Present: shaperman.AttrParent, Parent: a.Handle},
		},
	)
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)
}

// TestGroup_RejectsBadScopes verifies that:
//
//	Given an empty device,
//	When I group with scopes outside the allowed tables,
//	Then each request is rejected before any driver call.
func TestGroup_RejectsBadScopes(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	queue := shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0)}
	detachedNew := shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec)}

	// Queue scope is not a valid output.
	_, err := fix.Manager.Group(ctx, testIfindex, []shaperman.NodeSpec{queue},
		shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 1)})
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)

	// Netdev scope is not a valid input.
	_, err = fix.Manager.Group(ctx, testIfindex,
		[]shaperman.NodeSpec{{Handle: shaperman.MakeHandle(shaperman.ScopeNetdev, 0)}}, detachedNew)
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)

	// Queue scope is not a valid output parent.
	_, err = fix.Manager.Group(ctx, testIfindex, []shaperman.NodeSpec{queue},
		shaperman.NodeSpec{
			Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec),
			Attrs:  shaperman.Attrs{Present: shaperman.AttrParent, Parent: shaperman.MakeHandle(shaperman.ScopeQueue, 2)},
		})
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)

	fix.AssertDriverOps(nil)
	fix.AssertCacheLen(0)
}

// TestGroup_RejectsMissingNodes verifies that:
//
//	Given an empty device,
//	When I reference detached nodes that were never created,
//	Then each request is rejected.
func TestGroup_RejectsMissingNodes(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	queue := shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0)}

	// Concrete detached output that does not exist.
	_, err := fix.Manager.Group(ctx, testIfindex, []shaperman.NodeSpec{queue},
		shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, 5)})
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)

	// Detached input that does not exist.
	_, err = fix.Manager.Group(ctx, testIfindex,
		[]shaperman.NodeSpec{{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, 0)}},
		shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec)})
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)

	// Detached output parent that does not exist.
	_, err = fix.Manager.Group(ctx, testIfindex, []shaperman.NodeSpec{queue},
		shaperman.NodeSpec{
			Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec),
			Attrs:  shaperman.Attrs{Present: shaperman.AttrParent, Parent: shaperman.MakeHandle(shaperman.ScopeDetached, 7)},
		})
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)

	fix.AssertDriverOps(nil)
}

// TestGroup_RejectsEmptyInputs verifies that:
//
//	Given an empty device,
//	When I group with no inputs,
//	Then the request is rejected.
func TestGroup_RejectsEmptyInputs(t *testing.T) {
	fix := newManagerFixture(t)

	_, err := fix.Manager.Group(context.Background(), testIfindex, nil,
		shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec)})
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)
}

// TestGroup_RejectsParentAttrOnInput verifies that:
//
//	Given an empty device,
//	When a group input carries its own parent attribute,
//	Then the request is rejected; inputs always nest under the output.
func TestGroup_RejectsParentAttrOnInput(t *testing.T) {
	fix := newManagerFixture(t)

	_, err := fix.Manager.Group(context.Background(), testIfindex,
		[]shaperman.NodeSpec{{
			Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0),
			Attrs:  shaperman.Attrs{Present: shaperman.AttrParent, Parent: shaperman.MakeHandle(shaperman.ScopeNetdev, 0)},
		}},
		shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec)})
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)
}

// TestGroup_DriverFailureRollsBack verifies that:
//
//	Given a driver that fails the group call,
//	When I group queues under a fresh detached output,
//	Then nothing commits and the allocated id is returned to the pool.
func TestGroup_DriverFailureRollsBack(t *testing.T) {
	fix := newManagerFixture(t)
	ctx := context.Background()

	fix.Driver.FailGroup(errors.New("no scheduler slots"))
	_, err := fix.Manager.Group(ctx, testIfindex,
		[]shaperman.NodeSpec{{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 0)}},
		shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec)})
	fix.AssertErrorCode(err, shaperman.CodeHardwareFailure)
	fix.AssertCacheLen(0)
	fix.AssertHardwareCount(0)

	fix.Driver.FailGroup(nil)
	out := groupUnder(t, fix, 0)
	assert.Equal(t, shaperman.MakeHandle(shaperman.ScopeDetached, 0), out.Handle,
		"rolled-back allocation must not leak the id")
}

// TestGroup_AllocatesLowestAvailableID verifies that:
//
//	Given consecutive anonymous detached outputs,
//	When I create three of them,
//	Then the allocator hands out ids zero, one, two.
func TestGroup_AllocatesLowestAvailableID(t *testing.T) {
	fix := newManagerFixture(t)

	a := groupUnder(t, fix, 0)
	b := groupUnder(t, fix, 1)
	c := groupUnder(t, fix, 2)

	assert.Equal(t, uint32(0), a.Handle.ID())
	assert.Equal(t, uint32(1), b.Handle.ID())
	assert.Equal(t, uint32(2), c.Handle.ID())
}

// TestGroup_QueueInputBoundsChecked verifies that:
//
//	Given a device with four tx queues,
//	When a group input names queue nine,
//	Then the request is rejected as invalid.
func TestGroup_QueueInputBoundsChecked(t *testing.T) {
	fix := newManagerFixture(t)

	_, err := fix.Manager.Group(context.Background(), testIfindex,
		[]shaperman.NodeSpec{{Handle: shaperman.MakeHandle(shaperman.ScopeQueue, 9)}},
		shaperman.NodeSpec{Handle: shaperman.MakeHandle(shaperman.ScopeDetached, shaperman.IDUnspec)})
	fix.AssertErrorCode(err, shaperman.CodeInvalidRequest)
}
