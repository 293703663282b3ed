package ids

import "testing"

func TestObjectIDRoundTrip(t *testing.T) {
	id := NewObjectID(42, 100)
	if id.Class() != 42 {
		t.Fatalf("Class() = %d, want 42", id.Class())
	}
	if id.Sequence() != 100 {
		t.Fatalf("Sequence() = %d, want 100", id.Sequence())
	}
	if ObjectID(0).IsNull() != true {
		t.Fatalf("zero ObjectID should be null")
	}
}

func TestSequenceAllocatorMonotonic(t *testing.T) {
	var a SequenceAllocator
	prev := uint64(0)
	for i := 0; i < 1000; i++ {
		n := a.Next()
		if n <= prev {
			t.Fatalf("sequence went backwards: %d after %d", n, prev)
		}
		prev = n
	}
}

func TestVersionCounterAdvance(t *testing.T) {
	var c VersionCounter
	if c.Committed() != 0 {
		t.Fatalf("fresh counter should read 0")
	}
	v1 := c.Advance()
	v2 := c.Advance()
	if v2 <= v1 {
		t.Fatalf("versions must strictly increase: %d then %d", v1, v2)
	}
	if c.Committed() != v2 {
		t.Fatalf("Committed() should reflect last Advance()")
	}
}

func TestStringTableInternAndRelease(t *testing.T) {
	st := NewStringTable(4)

	if h := st.Intern(0, ""); h != EmptyHandle {
		t.Fatalf("interning empty string should yield EmptyHandle, got %d", h)
	}

	h1 := st.Intern(0, "hello")
	h2 := st.Intern(0, "hello")
	if h1 != h2 {
		t.Fatalf("interning the same string twice on the same shard should share a handle")
	}
	if st.Refcount(h1) != 2 {
		t.Fatalf("refcount after two interns = %d, want 2", st.Refcount(h1))
	}

	val, ok := st.Value(h1)
	if !ok || val != "hello" {
		t.Fatalf("Value() = %q, %v; want hello, true", val, ok)
	}

	st.Release(h1)
	if st.Refcount(h1) != 1 {
		t.Fatalf("refcount after one release = %d, want 1", st.Refcount(h1))
	}
	st.Release(h2)
	if _, ok := st.Value(h1); ok {
		t.Fatalf("handle should be freed once refcount drops to zero")
	}

	// Slot should be reusable for a new string.
	h3 := st.Intern(0, "world")
	if val, ok := st.Value(h3); !ok || val != "world" {
		t.Fatalf("reused slot should hold the new value, got %q, %v", val, ok)
	}
}

func TestStringTableDistinctShards(t *testing.T) {
	st := NewStringTable(4)
	h1 := st.Intern(0, "same")
	h2 := st.Intern(1, "same")
	if h1 == h2 {
		t.Fatalf("same string on different shard hints should get distinct handles")
	}
	if st.Refcount(h1) != 1 || st.Refcount(h2) != 1 {
		t.Fatalf("each shard's copy should have an independent refcount of 1")
	}
}

func TestSlabAllocRoundsToClassAndReuses(t *testing.T) {
	heap := NewHeap(1 << 20)
	slab := NewSlab(heap, 4)

	buf := slab.Alloc(0, 10)
	if len(buf) != 16 {
		t.Fatalf("Alloc(10) should round up to the 16-byte class, got len %d", len(buf))
	}
	slab.Free(0, 10, buf)

	buf2 := slab.Alloc(0, 10)
	if len(buf2) != 16 {
		t.Fatalf("Alloc after Free should still serve the 16-byte class, got %d", len(buf2))
	}
}

func TestSlabFallsThroughToHeap(t *testing.T) {
	heap := NewHeap(1 << 20)
	slab := NewSlab(heap, 4)

	buf := slab.Alloc(0, MaxSlabSize+1)
	if len(buf) != MaxSlabSize+1 {
		t.Fatalf("oversize request should be served exactly by the heap, got len %d", len(buf))
	}
	slab.Free(0, MaxSlabSize+1, buf)

	buf2 := heap.Alloc(MaxSlabSize + 1)
	if buf2 == nil {
		t.Fatalf("heap should be able to reallocate after the coalesced free")
	}
}

func TestHeapCoalescesOnFree(t *testing.T) {
	heap := NewHeap(128)
	a := heap.Alloc(64)
	b := heap.Alloc(64)
	if a == nil || b == nil {
		t.Fatalf("expected both allocations to succeed")
	}
	heap.Free(a)
	heap.Free(b)

	// After freeing both adjacent blocks, the heap should be able to
	// serve a request spanning their combined size again.
	c := heap.Alloc(128)
	if c == nil {
		t.Fatalf("expected coalesced free blocks to satisfy a 128-byte request")
	}
}

func TestHeapExhaustion(t *testing.T) {
	heap := NewHeap(16)
	if b := heap.Alloc(32); b != nil {
		t.Fatalf("expected nil for a request larger than the arena")
	}
}
