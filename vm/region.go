package vm

import (
	"sort"
	"sync"
)

// RegionPerms are the accesses a region permits. A region with Perms
// == 0 is a guard region: any access to it faults.
type RegionPerms uint

const (
	PermRead RegionPerms = 1 << iota
	PermWrite
	PermExec
)

// Allows reports whether the region's permissions cover the given
// access kind.
func (p RegionPerms) Allows(kind AccessKind) bool {
	switch kind {
	case Read:
		return p&PermRead != 0
	case Write:
		return p&PermWrite != 0
	case Execute:
		return p&PermExec != 0
	}
	return false
}

// Backend resolves a faulting address within a region to a physical
// frame, allocating one if needed. It is the seam to the memory-object
// system outside this package: anonymous memory, shared mappings, and
// any copy-on-write policy live behind it.
type Backend interface {
	Resolve(addr uintptr) (PTE, error)
}

// Region is a mapped address range [Start, Start+Len) inside an
// address space, along with the permissions it grants and the backend
// that supplies frames for it.
type Region struct {
	Start, Len uintptr
	Perms      RegionPerms
	Backend    Backend
}

func (r *Region) covers(v uintptr) bool {
	return v >= r.Start && v < r.Start+r.Len
}

// RegionTable is the per-address-space table of mapped regions that
// page-fault dispatch consults to decide segmentation fault vs.
// permission fault vs. resolve-and-map.
type RegionTable struct {
	mu      sync.Mutex
	regions []*Region
}

// NewRegionTable creates an empty region table.
func NewRegionTable() *RegionTable {
	return &RegionTable{}
}

// Insert adds a region. Overlapping regions are a caller error; the
// surrounding kernel's allocator (res.Arena) is responsible for
// reserving disjoint virtual ranges before calling Insert.
func (rt *RegionTable) Insert(r *Region) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.regions = append(rt.regions, r)
	sort.Slice(rt.regions, func(i, j int) bool {
		return rt.regions[i].Start < rt.regions[j].Start
	})
}

// Remove drops the region starting at start, if any.
func (rt *RegionTable) Remove(start uintptr) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i, r := range rt.regions {
		if r.Start == start {
			rt.regions = append(rt.regions[:i], rt.regions[i+1:]...)
			return
		}
	}
}

// Lookup returns the region covering v, if any.
func (rt *RegionTable) Lookup(v uintptr) (*Region, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, r := range rt.regions {
		if r.covers(v) {
			return r, true
		}
	}
	return nil, false
}

func (rt *RegionTable) list() []*Region {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]*Region, len(rt.regions))
	copy(out, rt.regions)
	return out
}
