// Package circbuf is a bounded byte ring backed by a single physical
// frame, used for kernel diagnostic text that must not grow without
// bound. The backing frame is allocated lazily on first write, so a
// kernel that never logs never spends the frame.
package circbuf

import (
	"io"

	"nucleus/defs"
	"nucleus/frame"
)

// Circbuf_t is a circular byte buffer. Not safe for concurrent use;
// callers serialize externally. head and tail grow monotonically and
// are reduced modulo the capacity only when indexing, so Full/Empty
// need no wrapped-flag bookkeeping.
type Circbuf_t struct {
	alloc frame.Allocator
	buf   []uint8
	bufsz int
	head  int // write position
	tail  int // read position
	pg    frame.PhysAddr
}

// Cb_init records the buffer size and allocator. The backing frame is
// not allocated until the first write; an allocation failure surfaces
// there, where the caller can actually handle it.
func (cb *Circbuf_t) Cb_init(sz int, a frame.Allocator) defs.Err_t {
	if sz <= 0 || sz > frame.Size {
		panic("circbuf: size must be in (0, frame.Size]")
	}
	cb.alloc = a
	cb.bufsz = sz
	cb.head, cb.tail = 0, 0
	return 0
}

// Cb_ensure allocates the backing frame if it is not already present.
func (cb *Circbuf_t) Cb_ensure() defs.Err_t {
	if cb.buf != nil {
		return 0
	}
	if cb.bufsz == 0 {
		panic("circbuf: not initialized")
	}
	pg, ok := cb.alloc.Alloc(0, frame.Zero)
	if !ok {
		return -defs.ENOMEM
	}
	cb.pg = pg
	cb.buf = frame.Dmap(pg)[:cb.bufsz]
	return 0
}

// Cb_release returns the backing frame and resets the ring. A later
// write reallocates via Cb_ensure.
func (cb *Circbuf_t) Cb_release() {
	if cb.buf == nil {
		return
	}
	cb.alloc.Free(cb.pg)
	cb.pg = frame.None
	cb.buf = nil
	cb.head, cb.tail = 0, 0
}

// Full reports whether the ring has no room left.
func (cb *Circbuf_t) Full() bool { return cb.head-cb.tail == cb.bufsz }

// Empty reports whether the ring holds no data.
func (cb *Circbuf_t) Empty() bool { return cb.head == cb.tail }

// Left reports the remaining capacity in bytes.
func (cb *Circbuf_t) Left() int { return cb.bufsz - (cb.head - cb.tail) }

// Used reports the bytes currently buffered.
func (cb *Circbuf_t) Used() int { return cb.head - cb.tail }

// Copyin fills the ring from src until the ring is full or src is
// drained, returning the bytes written. Data already buffered is never
// overwritten; a full ring drops the remainder of src.
func (cb *Circbuf_t) Copyin(src io.Reader) (int, defs.Err_t) {
	if err := cb.Cb_ensure(); err != 0 {
		return 0, err
	}
	c := 0
	for !cb.Full() {
		hi := cb.head % cb.bufsz
		ti := cb.tail % cb.bufsz
		// the writable stretch ends at the wrap point or at tail,
		// whichever comes first
		end := cb.bufsz
		if ti > hi {
			end = ti
		}
		n, err := src.Read(cb.buf[hi:end])
		cb.head += n
		c += n
		if err == io.EOF {
			return c, 0
		}
		if err != nil {
			return c, -defs.EIO
		}
		if n == 0 {
			return c, 0
		}
	}
	return c, 0
}

// Copyout drains the ring into dst, returning the bytes written.
func (cb *Circbuf_t) Copyout(dst io.Writer) (int, defs.Err_t) {
	if cb.buf == nil {
		return 0, 0
	}
	c := 0
	for !cb.Empty() {
		hi := cb.head % cb.bufsz
		ti := cb.tail % cb.bufsz
		end := cb.bufsz
		if hi > ti {
			end = hi
		}
		n, err := dst.Write(cb.buf[ti:end])
		cb.tail += n
		c += n
		if err != nil {
			return c, -defs.EIO
		}
	}
	return c, 0
}
