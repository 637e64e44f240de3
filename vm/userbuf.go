package vm

import "nucleus/frame"
import "nucleus/kerr"

// userdmap8Locked returns a byte slice mapping va within as, faulting
// in the page if necessary: resolve via the region table, fault on
// demand, hand back a slice into the direct map. The caller must
// already hold the address space lock.
func (as *AddressSpace) userdmap8Locked(va uintptr, write bool) ([]byte, error) {
	as.Lockassert_pmap()

	voff := va & uintptr(frame.Size-1)

	pte, ok := as.pt.MapFind(va)
	needFault := true
	if ok && pte.Present() {
		if !write {
			needFault = false
		} else if pte.Flags()&PTEWrite != 0 {
			needFault = false
		}
	}

	if needFault {
		kind := Read
		if write {
			kind = Write
		}
		switch as.resolveFaultLocked(va, kind) {
		case Fault:
			return nil, kerr.PermissionDenied
		case Defer:
			return nil, kerr.Deferred
		}
		pte, ok = as.pt.MapFind(va)
		if !ok {
			return nil, kerr.OutOfMemory
		}
	}

	buf := frame.Dmap(pte.Frame())
	return buf[voff:], nil
}

// Userbuf assists reading and writing user memory a page at a time,
// so a copy can span multiple mappings while each individual access is
// atomic with respect to page faults.
type Userbuf struct {
	as     *AddressSpace
	userva uintptr
	len    int
	off    int
}

// NewUserbuf creates a buffer over [userva, userva+length) in as.
func NewUserbuf(as *AddressSpace, userva uintptr, length int) *Userbuf {
	if length < 0 {
		panic("vm.NewUserbuf: negative length")
	}
	return &Userbuf{as: as, userva: userva, len: length}
}

// Remain reports the number of bytes not yet transferred.
func (ub *Userbuf) Remain() int { return ub.len - ub.off }

// Read copies from user memory into dst, returning the number of bytes
// copied. A kerr.Deferred or kerr.PermissionDenied error means the
// caller must abort the copy at the returned byte count rather than
// retry in place.
func (ub *Userbuf) Read(dst []byte) (int, error) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(dst, false)
}

// Write copies src into user memory, returning the number of bytes
// copied.
func (ub *Userbuf) Write(src []byte) (int, error) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	return ub.tx(src, true)
}

func (ub *Userbuf) tx(buf []byte, write bool) (int, error) {
	ub.as.BeginUserCopy()
	defer ub.as.EndUserCopy()

	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.userva + uintptr(ub.off)
		page, err := ub.as.userdmap8Locked(va, write)
		if err != nil {
			return ret, err
		}
		if end := ub.off + len(page); end > ub.len {
			page = page[:ub.len-ub.off]
		}
		var c int
		if write {
			c = copy(page, buf)
		} else {
			c = copy(buf, page)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, nil
}
