// Package asid implements the bounded address-space-identifier pool the
// TLB manager uses to tag cached translations. When the pool is
// exhausted the least-recently-used ASID (acquired or touched) is stolen
// from its current owner, which must then flush its stale translations.
package asid

import "sync"

// ASID is a small integer tag attached to every hardware TLB entry so
// translations from different address spaces can coexist without a
// full flush on context switch.
type ASID int

// None means "no ASID assigned yet."
const None ASID = -1

// Holder is notified when its ASID is reassigned to another owner. The
// holder must treat this as "my next access needs a fresh ASID and a
// full local TLB refill"; it must not keep using the old value.
type Holder interface {
	OnASIDStolen()
}

// Pool hands out a bounded set of ASIDs [0, size). Acquire never fails:
// once the free list is exhausted it steals the least-recently-used
// ASID from its current holder.
type Pool struct {
	mu       sync.Mutex
	freeList []ASID
	holders  map[ASID]Holder
	lru      []ASID // index 0 is the least recently acquired or touched
}

// NewPool creates a pool of size distinct ASIDs.
func NewPool(size int) *Pool {
	if size <= 0 {
		panic("asid.NewPool: size must be positive")
	}
	p := &Pool{
		holders: make(map[ASID]Holder, size),
	}
	for i := size - 1; i >= 0; i-- {
		p.freeList = append(p.freeList, ASID(i))
	}
	return p
}

func removeASID(s []ASID, v ASID) []ASID {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Acquire assigns an ASID to h. If the pool is exhausted, the
// least-recently-used ASID (see Touch) is stolen from its current holder, which
// is notified via OnASIDStolen before Acquire returns.
func (p *Pool) Acquire(h Holder) ASID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.freeList); n > 0 {
		id := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		p.holders[id] = h
		p.lru = append(p.lru, id)
		return id
	}

	if len(p.lru) == 0 {
		panic("asid.Pool: no ASIDs and no holders to steal from")
	}
	victim := p.lru[0]
	p.lru = p.lru[1:]
	stolenFrom := p.holders[victim]
	p.holders[victim] = h
	p.lru = append(p.lru, victim)
	if stolenFrom != nil {
		stolenFrom.OnASIDStolen()
	}
	return victim
}

// Touch marks id as most recently used, protecting it from being the
// next steal victim.
func (p *Pool) Touch(id ASID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.holders[id]; !ok {
		return
	}
	p.lru = removeASID(p.lru, id)
	p.lru = append(p.lru, id)
}

// Release returns id to the free list.
func (p *Pool) Release(id ASID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.holders[id]; !ok {
		return
	}
	delete(p.holders, id)
	p.lru = removeASID(p.lru, id)
	p.freeList = append(p.freeList, id)
}
