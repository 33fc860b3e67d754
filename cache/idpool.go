package cache

import (
	"slices"

	"github.com/frobware/go-shaperman"
)

// idPool hands out detached-scope ids in [0, IDUnspec), lowest
// available first. Released ids are reused before the frontier
// advances, so id 0 is always the first allocation on a fresh device.
type idPool struct {
	next uint32   // lowest id never handed out
	free []uint32 // released ids below next, ascending
}

func (p *idPool) alloc() (uint32, bool) {
	if len(p.free) > 0 {
		id := p.free[0]
		p.free = p.free[1:]
		return id, true
	}
	if p.next >= shaperman.IDUnspec {
		return 0, false
	}
	id := p.next
	p.next++
	return id, true
}

func (p *idPool) release(id uint32) {
	if id >= p.next {
		return
	}
	i, found := slices.BinarySearch(p.free, id)
	if found {
		return
	}
	p.free = slices.Insert(p.free, i, id)
}
