// Package cache implements the per-device shaper store: committed
// nodes keyed by handle, the detached id allocator, and the staged
// transactions that keep the store in lockstep with device state.
//
// The cache only ever contains state a driver has confirmed. Writers
// stage changes on a Tx, program the device, then commit or roll
// back; readers always observe the last committed snapshot. The owner
// (the device object) serialises whole mutation sequences; the lock
// in here only guards individual calls so lookups can run
// concurrently with each other.
package cache

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"

	"github.com/frobware/go-shaperman"
)

// Cache mirrors the shaper state one device has confirmed.
type Cache struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nodes  map[shaperman.Handle]*shaperman.Shaper
	ids    idPool
	closed bool
}

// New creates an empty cache.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		logger: logger.With("component", "cache"),
		nodes:  make(map[shaperman.Handle]*shaperman.Shaper),
	}
}

// Lookup returns a copy of the committed node for handle. Absence
// means not present; staged nodes are never visible here.
func (c *Cache) Lookup(h shaperman.Handle) (shaperman.Shaper, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.nodes[h]
	if !ok {
		return shaperman.Shaper{}, false
	}
	return *node, true
}

// Len returns the number of committed nodes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// Snapshot returns copies of every committed node in ascending handle
// order.
func (c *Cache) Snapshot() []shaperman.Shaper {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]shaperman.Shaper, 0, len(c.nodes))
	for _, node := range c.nodes {
		out = append(out, *node)
	}
	slices.SortFunc(out, func(a, b shaperman.Shaper) int {
		return cmp.Compare(a.Handle, b.Handle)
	})
	return out
}

// Remove erases a committed node, releasing its id when the scope is
// Detached. Children bookkeeping stays with the caller; pair Remove
// with AdjustChildren under the device lock.
func (c *Cache) Remove(h shaperman.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if _, ok := c.nodes[h]; !ok {
		return
	}
	delete(c.nodes, h)
	if h.Scope() == shaperman.ScopeDetached {
		c.ids.release(h.ID())
	}
}

// AdjustChildren adds delta to the children count of the node at h
// and returns the new count. Absent handles return zero; the count
// never wraps below zero.
func (c *Cache) AdjustChildren(h shaperman.Handle, delta int32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes[h]
	if !ok {
		return 0
	}
	node.Children = c.clampChildren(h, node.Children, delta)
	return node.Children
}

// FlushAll erases every node, destroys the allocator and poisons the
// cache. Only device teardown calls it; transactions racing the
// teardown observe the closed cache and fail fast.
func (c *Cache) FlushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = nil
	c.ids = idPool{}
	c.closed = true
}

// commitOne publishes one value, keeping children counts
// edge-accurate: when the commit changes the node's parent binding,
// the old and new parents (where cached and Detached) move in step.
// Callers hold c.mu and commit parents before children.
func (c *Cache) commitOne(s shaperman.Shaper) {
	prev, existed := c.nodes[s.Handle]
	if existed {
		s.Children = prev.Children
	} else {
		s.Children = 0
	}
	if !existed || prev.Parent != s.Parent {
		if existed {
			c.adjustLocked(prev.Parent, -1)
		}
		c.adjustLocked(s.Parent, 1)
	}
	node := s
	c.nodes[s.Handle] = &node
}

func (c *Cache) adjustLocked(h shaperman.Handle, delta int32) {
	if h.Scope() != shaperman.ScopeDetached {
		return
	}
	node, ok := c.nodes[h]
	if !ok {
		return
	}
	node.Children = c.clampChildren(h, node.Children, delta)
}

func (c *Cache) clampChildren(h shaperman.Handle, count uint32, delta int32) uint32 {
	n := int64(count) + int64(delta)
	if n < 0 {
		c.logger.Error("children count underflow",
			"handle", h, "count", count, "delta", delta)
		n = 0
	}
	return uint32(n)
}
