// Package hashtable provides the address-keyed index the resource
// allocator uses to find a USED segment from its base address. Buckets
// are chained and individually locked for writers; readers traverse
// chains through atomic pointer loads and take no lock at all, which
// keeps the hot lookup path on the allocator's free side cheap.
package hashtable

import (
	"sync"
	"sync/atomic"
	"unsafe"
)

type elem struct {
	base uintptr
	val  interface{}
	next *elem
}

type bucket struct {
	sync.Mutex
	first *elem
}

// Table maps a base address to the value registered under it. The
// zero value is not usable; call New.
type Table struct {
	buckets []bucket
	count   int64
}

// New allocates a table with the given bucket count, rounded up to a
// power of two so the hash can mask instead of divide.
func New(buckets int) *Table {
	n := 1
	for n < buckets {
		n <<= 1
	}
	return &Table{buckets: make([]bucket, n)}
}

// fibonacci-multiplicative spread of the base address; bases handed out
// by the allocator are page-aligned, so the low bits alone would
// collide every chain into bucket 0.
func (t *Table) bucketFor(base uintptr) *bucket {
	h := uint64(base) * 0x9e3779b97f4a7c15
	return &t.buckets[int(h>>32)&(len(t.buckets)-1)]
}

// Get returns the value registered under base. Lock-free: safe to call
// concurrently with Set and Del.
func (t *Table) Get(base uintptr) (interface{}, bool) {
	b := t.bucketFor(base)
	for e := loadElem(&b.first); e != nil; e = loadElem(&e.next) {
		if e.base == base {
			return e.val, true
		}
	}
	return nil, false
}

// Set registers val under base. Reports false if base was already
// registered, in which case the existing value is left in place.
func (t *Table) Set(base uintptr, val interface{}) bool {
	b := t.bucketFor(base)
	b.Lock()
	defer b.Unlock()
	for e := b.first; e != nil; e = e.next {
		if e.base == base {
			return false
		}
	}
	storeElem(&b.first, &elem{base: base, val: val, next: b.first})
	atomic.AddInt64(&t.count, 1)
	return true
}

// Del removes the entry registered under base. Deleting a base that
// was never registered is an accounting violation and panics.
func (t *Table) Del(base uintptr) {
	b := t.bucketFor(base)
	b.Lock()
	defer b.Unlock()
	var prev *elem
	for e := b.first; e != nil; e = e.next {
		if e.base == base {
			if prev == nil {
				storeElem(&b.first, e.next)
			} else {
				storeElem(&prev.next, e.next)
			}
			atomic.AddInt64(&t.count, -1)
			return
		}
		prev = e
	}
	panic("hashtable: delete of unregistered base")
}

// Len reports the number of registered entries.
func (t *Table) Len() int {
	return int(atomic.LoadInt64(&t.count))
}

// Iter applies f to each entry until f returns true. Entries inserted
// or removed while iterating may or may not be visited.
func (t *Table) Iter(f func(base uintptr, val interface{}) bool) {
	for i := range t.buckets {
		for e := loadElem(&t.buckets[i].first); e != nil; e = loadElem(&e.next) {
			if f(e.base, e.val) {
				return
			}
		}
	}
}

// Chain pointers are published with atomic stores so the lock-free Get
// never observes a half-linked elem. Unlinked elems stay intact, so a
// reader mid-chain during a Del still terminates.
func loadElem(p **elem) *elem {
	return (*elem)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(p))))
}

func storeElem(p **elem, e *elem) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(p)), unsafe.Pointer(e))
}
