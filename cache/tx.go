package cache

import (
	"github.com/google/uuid"

	"github.com/frobware/go-shaperman"
)

// Tx stages the cache changes of one operation. Staged nodes are
// invisible to Lookup until Commit publishes them; Rollback discards
// the staged set and releases any ids allocated for it, touching
// nothing another transaction staged.
type Tx struct {
	c      *Cache
	id     string
	staged map[shaperman.Handle]stagedNode
}

type stagedNode struct {
	existed   bool // the handle named a committed node at prepare time
	allocated bool // prepare allocated the detached id
}

// Begin opens a transaction.
func (c *Cache) Begin() *Tx {
	return &Tx{
		c:      c,
		id:     uuid.New().String(),
		staged: make(map[shaperman.Handle]stagedNode),
	}
}

// ID returns the transaction id used to correlate log records.
func (t *Tx) ID() string { return t.id }

// PrepareInsert begins a tentative insert of handle and returns the
// effective handle. A handle naming a committed node is recorded as
// an in-place update target and returned unchanged. A Detached handle
// carrying the unspec id allocates a fresh id and the returned handle
// carries it; on allocation failure no allocator or cache state is
// changed. Re-preparing a handle this transaction already staged is a
// no-op, so a retry cannot double-allocate.
func (t *Tx) PrepareInsert(h shaperman.Handle) (shaperman.Handle, error) {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, shaperman.InvalidRequestf("shaper %s: device is being removed", h)
	}
	if h.Scope() == shaperman.ScopeDetached && h.IsUnspecID() {
		id, ok := c.ids.alloc()
		if !ok {
			return 0, shaperman.ResourceExhaustedf("no detached shaper ids left")
		}
		eff := shaperman.MakeHandle(shaperman.ScopeDetached, id)
		t.staged[eff] = stagedNode{allocated: true}
		return eff, nil
	}
	if _, ok := t.staged[h]; ok {
		return h, nil
	}
	_, existed := c.nodes[h]
	t.staged[h] = stagedNode{existed: existed}
	return h, nil
}

// Commit publishes values into the cache in argument order and clears
// them from the staged set; when a parent and its children commit in
// one transaction the parent must come first so the children's counts
// land on it. Committing a handle that was never prepared is a
// programming error: it is logged and skipped, never surfaced.
func (t *Tx) Commit(shapers ...shaperman.Shaper) {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		c.logger.Warn("commit dropped, cache is closed", "tx", t.id)
		clear(t.staged)
		return
	}
	for _, s := range shapers {
		_, staged := t.staged[s.Handle]
		_, committed := c.nodes[s.Handle]
		if !staged && !committed {
			c.logger.Error("commit of unprepared shaper dropped",
				"tx", t.id, "handle", s.Handle)
			continue
		}
		c.commitOne(s)
		delete(t.staged, s.Handle)
	}
}

// Rollback discards the staged set, releasing ids this transaction
// allocated. Committed nodes are untouched. Safe to call on an empty
// or already rolled-back transaction.
func (t *Tx) Rollback() {
	c := t.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		for h, st := range t.staged {
			if st.allocated {
				c.ids.release(h.ID())
			}
		}
	}
	clear(t.staged)
}
