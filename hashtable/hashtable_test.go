package hashtable

import (
	"sync"
	"testing"
)

func TestSetGetDel(t *testing.T) {
	ht := New(64)

	if ok := ht.Set(0x10000000, "a"); !ok {
		t.Fatalf("Set: first insert reported a duplicate")
	}
	if ok := ht.Set(0x10000000, "b"); ok {
		t.Fatalf("Set: duplicate insert reported success")
	}

	v, ok := ht.Get(0x10000000)
	if !ok || v.(string) != "a" {
		t.Fatalf("Get: got (%v, %v), want (a, true)", v, ok)
	}

	ht.Del(0x10000000)
	if _, ok := ht.Get(0x10000000); ok {
		t.Fatalf("Get after Del: expected no entry")
	}
}

func TestDelUnregisteredPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic deleting an unregistered base")
		}
	}()
	New(8).Del(0x1000)
}

func TestPageAlignedBasesSpreadAcrossBuckets(t *testing.T) {
	ht := New(16)
	for i := uintptr(1); i <= 64; i++ {
		ht.Set(i*0x1000, i)
	}
	if ht.Len() != 64 {
		t.Fatalf("Len: got %d, want 64", ht.Len())
	}

	occupied := 0
	for i := range ht.buckets {
		if ht.buckets[i].first != nil {
			occupied++
		}
	}
	if occupied < len(ht.buckets)/2 {
		t.Fatalf("page-aligned keys landed in %d/%d buckets; hash is not spreading", occupied, len(ht.buckets))
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	ht := New(32)
	for i := uintptr(1); i <= 128; i++ {
		ht.Set(i*0x1000, i)
	}

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pass := 0; pass < 100; pass++ {
				for i := uintptr(1); i <= 128; i++ {
					if v, ok := ht.Get(i * 0x1000); ok && v.(uintptr) != i {
						t.Errorf("Get(%#x): got %v", i*0x1000, v)
						return
					}
				}
			}
		}()
	}
	for i := uintptr(1); i <= 128; i++ {
		ht.Del(i * 0x1000)
		ht.Set(i*0x1000, i)
	}
	wg.Wait()
}
