// Package res implements the kernel's general-purpose extent allocator:
// arenas of spans of segments, used to hand out ranges of virtual
// addresses, I/O ports, or any other tagged integer resource.
package res

import (
	"math/bits"
	"sync"

	"nucleus/hashtable"
	"nucleus/kerr"
)

// None is the sentinel "no resource" value. Base address 0 is forbidden
// as a real resource because several address spaces use it as their own
// null sentinel; Allocate never returns it.
const None uintptr = 0

const maxOrder = bits.UintSize

type segment struct {
	base     uintptr
	used     bool
	sentinel bool

	segNext, segPrev   *segment
	freeNext, freePrev *segment
}

func (s *segment) size() uintptr {
	return s.segNext.base - s.base
}

// searchOrder is the smallest freelist order whose every member is
// large enough for a request of n bytes: ceil(log2(n)).
func searchOrder(n uintptr) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n - 1)))
}

// sizeOrder buckets a FREE segment of n bytes into the freelist holding
// sizes [2^k, 2^(k+1)): floor(log2(n)). Together with searchOrder this
// guarantees any segment found at or above the search order satisfies
// the request even after alignment slack.
func sizeOrder(n uintptr) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len(uint(n))) - 1
}

// alignUp rounds v up to the nearest multiple of align (a power of two).
func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// Span is a contiguous interval registered with an Arena, divided into
// alternating FREE and USED segments terminated by a zero-size sentinel.
type Span struct {
	base, size uintptr

	head      *segment // first real segment; segment list is base-ordered
	freelists [maxOrder + 1]*segment
	used      *hashtable.Table // base -> *segment, USED only
}

// NewSpan registers a span covering [base, base+size). base must not be
// zero.
func NewSpan(base, size uintptr) *Span {
	if base == None {
		panic("res.NewSpan: base must not be 0")
	}
	sp := &Span{base: base, size: size, used: hashtable.New(64)}
	first := &segment{base: base}
	sentinel := &segment{base: base + size, sentinel: true}
	first.segNext = sentinel
	sentinel.segPrev = first
	sp.head = first
	sp.freelistInsert(first)
	return sp
}

func (sp *Span) contains(base uintptr) bool {
	return base >= sp.base && base < sp.base+sp.size
}

func (sp *Span) freelistInsert(seg *segment) {
	o := sizeOrder(seg.size())
	head := sp.freelists[o]
	seg.freePrev = nil
	seg.freeNext = head
	if head != nil {
		head.freePrev = seg
	}
	sp.freelists[o] = seg
}

func (sp *Span) freelistRemove(seg *segment) {
	o := sizeOrder(seg.size())
	if seg.freePrev != nil {
		seg.freePrev.freeNext = seg.freeNext
	} else {
		sp.freelists[o] = seg.freeNext
	}
	if seg.freeNext != nil {
		seg.freeNext.freePrev = seg.freePrev
	}
	seg.freeNext, seg.freePrev = nil, nil
}

// trySplit attempts to carve [alignUp(seg.base, align), +size) out of seg,
// splitting off predecessor/successor FREE segments as needed. Reports
// false when alignment pushes the request past the segment's end, in
// which case the caller should try the next candidate.
func (sp *Span) trySplit(seg *segment, size, align uintptr) (uintptr, bool) {
	newbase := alignUp(seg.base, align)
	end := seg.segNext.base
	if newbase+size > end {
		return 0, false
	}

	sp.freelistRemove(seg)

	if newbase > seg.base {
		pred := &segment{base: seg.base, segPrev: seg.segPrev, segNext: seg}
		if seg.segPrev != nil {
			seg.segPrev.segNext = pred
		} else {
			sp.head = pred
		}
		seg.segPrev = pred
		seg.base = newbase
		sp.freelistInsert(pred)
	}

	if newbase+size < end {
		succ := &segment{base: newbase + size, segPrev: seg, segNext: seg.segNext}
		seg.segNext.segPrev = succ
		seg.segNext = succ
		sp.freelistInsert(succ)
	}

	seg.used = true
	sp.used.Set(seg.base, seg)
	return seg.base, true
}

// Arena is an ordered set of spans. Allocations walk spans first-fit;
// frees locate the span containing the released interval.
type Arena struct {
	mu    sync.Mutex
	spans []*Span
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// AddSpan registers a new span with the arena.
func (a *Arena) AddSpan(base, size uintptr) *Span {
	sp := NewSpan(base, size)
	a.mu.Lock()
	a.spans = append(a.spans, sp)
	a.mu.Unlock()
	return sp
}

// Allocate returns a base such that [base, base+size) is reserved and
// base is aligned to align (a power of two), or None if no span can
// satisfy the request.
func (a *Arena) Allocate(size, align uintptr) uintptr {
	if size == 0 {
		panic("res.Allocate: size must be nonzero")
	}
	// The alignment slack makes any segment of at least size+align-1
	// bytes satisfy the request no matter how its base is aligned.
	needed := size + align - 1
	start := searchOrder(needed)

	a.mu.Lock()
	defer a.mu.Unlock()

	for o := start; o <= maxOrder; o++ {
		for _, sp := range a.spans {
			if seg := sp.freelists[o]; seg != nil {
				if base, ok := sp.trySplit(seg, size, align); ok {
					return base
				}
			}
		}
	}
	return None
}

// SpanStat summarizes one span's occupancy, for diagnostic tooling
// (the diag package's pprof-style arena profile) rather than for
// allocation decisions.
type SpanStat struct {
	Base, Size uintptr
	UsedBytes  uintptr
}

// Snapshot reports per-span occupancy across the arena.
func (a *Arena) Snapshot() []SpanStat {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := make([]SpanStat, 0, len(a.spans))
	for _, sp := range a.spans {
		var used uintptr
		for seg := sp.head; seg != nil && !seg.sentinel; seg = seg.segNext {
			if seg.used {
				used += seg.size()
			}
		}
		stats = append(stats, SpanStat{Base: sp.base, Size: sp.size, UsedBytes: used})
	}
	return stats
}

// Free returns [base, base+size) to its span, coalescing with
// neighboring FREE segments. It is Fatal for base to be unknown to the
// arena or for size to disagree with the segment's recorded extent;
// these are invariant violations, not recoverable conditions.
func (a *Arena) Free(base, size uintptr) {
	if base == None {
		panic("res.Free: base must not be 0")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var sp *Span
	for _, cand := range a.spans {
		if cand.contains(base) {
			sp = cand
			break
		}
	}
	if sp == nil {
		kerr.FatalWith("free of address not owned by any span")
	}

	v, ok := sp.used.Get(base)
	if !ok {
		kerr.FatalWith("free of address not known to be used")
	}
	seg := v.(*segment)
	if seg.size() != size {
		kerr.FatalWith("free size does not match allocated size")
	}

	sp.used.Del(base)
	seg.used = false

	if prev := seg.segPrev; prev != nil && !prev.sentinel && !prev.used {
		sp.freelistRemove(prev)
		prev.segNext = seg.segNext
		seg.segNext.segPrev = prev
		seg = prev
	}
	if next := seg.segNext; !next.sentinel && !next.used {
		sp.freelistRemove(next)
		seg.segNext = next.segNext
		next.segNext.segPrev = seg
	}

	sp.freelistInsert(seg)
}
