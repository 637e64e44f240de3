package asid

import "testing"

type fakeHolder struct {
	stolen bool
}

func (h *fakeHolder) OnASIDStolen() { h.stolen = true }

// TestPoolStealsLRUOnExhaustion realizes scenario S6: a pool sized to
// exactly 2 entries hands out A and B, then a third Acquire for C must
// steal A (the least recently touched) and notify it via
// OnASIDStolen, leaving B untouched.
func TestPoolStealsLRUOnExhaustion(t *testing.T) {
	p := NewPool(2)

	a := &fakeHolder{}
	b := &fakeHolder{}
	c := &fakeHolder{}

	idA := p.Acquire(a)
	idB := p.Acquire(b)
	if idA == idB {
		t.Fatalf("Acquire: a and b got the same id %v", idA)
	}

	idC := p.Acquire(c)
	if !a.stolen {
		t.Fatalf("expected a's ASID to be stolen")
	}
	if b.stolen {
		t.Fatalf("b's ASID should not have been touched")
	}
	if idC != idA {
		t.Fatalf("Acquire: c got %v, want a's old id %v", idC, idA)
	}
}

func TestPoolTouchProtectsFromSteal(t *testing.T) {
	p := NewPool(2)
	a := &fakeHolder{}
	b := &fakeHolder{}
	c := &fakeHolder{}

	idA := p.Acquire(a)
	p.Acquire(b)

	// Touching a makes b the least recently used instead.
	p.Touch(idA)
	idC := p.Acquire(c)

	if a.stolen {
		t.Fatalf("a was touched and should not have been stolen from")
	}
	if !b.stolen {
		t.Fatalf("expected b to be the steal victim after a was touched")
	}
	_ = idC
}

func TestPoolReleaseReturnsToFreeList(t *testing.T) {
	p := NewPool(1)
	a := &fakeHolder{}
	id := p.Acquire(a)
	p.Release(id)

	b := &fakeHolder{}
	idB := p.Acquire(b)
	if idB != id {
		t.Fatalf("Acquire after Release: got %v, want the released id %v", idB, id)
	}
	if a.stolen {
		t.Fatalf("a was released, not stolen from")
	}
}

func TestPoolAcquireNeverReturnsNone(t *testing.T) {
	p := NewPool(1)
	for i := 0; i < 5; i++ {
		h := &fakeHolder{}
		if id := p.Acquire(h); id == None {
			t.Fatalf("Acquire returned None on iteration %d", i)
		}
	}
}

func TestNewPoolRejectsNonPositiveSize(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic creating a pool of size 0")
		}
	}()
	NewPool(0)
}
