package index

import (
	"testing"

	"github.com/heliumdb/helium/internal/ids"
)

func TestHashUniqueRejectsCollision(t *testing.T) {
	h := NewHash("by_isbn", true)
	o1 := ids.NewObjectID(1, 1)
	o2 := ids.NewObjectID(1, 2)

	if err := h.CheckUnique("978-1", o1, 1); err != nil {
		t.Fatalf("first insert should pass uniqueness check: %v", err)
	}
	h.Insert("978-1", o1, 1)

	if err := h.CheckUnique("978-1", o2, 2); err == nil {
		t.Fatalf("second object under the same unique key should fail")
	}

	// Once o1's binding is removed, the key should be free again.
	h.Remove("978-1", o1, 2)
	if err := h.CheckUnique("978-1", o2, 3); err != nil {
		t.Fatalf("key should be free after removal: %v", err)
	}
}

func TestHashLookupVisibility(t *testing.T) {
	h := NewHash("by_author", false)
	o1 := ids.NewObjectID(1, 1)
	h.Insert("Fitzgerald", o1, 5)

	if got := h.Lookup("Fitzgerald", 4); len(got) != 0 {
		t.Fatalf("should not be visible before insertion version")
	}
	if got := h.Lookup("Fitzgerald", 5); len(got) != 1 || got[0] != o1 {
		t.Fatalf("should be visible at the insertion version, got %v", got)
	}
}

func intLess(a, b interface{}) bool { return a.(int) < b.(int) }

func TestSortedRangeScanAndPhantomDetection(t *testing.T) {
	s := NewSorted("by_year", intLess)
	o1 := ids.NewObjectID(1, 1)
	o2 := ids.NewObjectID(1, 2)

	s.Insert(2000, o1, 1)
	s.Insert(2010, o2, 2)

	got := s.Scan(KeyRange{Lo: 1990, Hi: 2005}, 2)
	if len(got) != 1 || got[0] != o1 {
		t.Fatalf("Scan([1990,2005)) at v2 = %v, want [o1]", got)
	}

	if s.InsertedSince(KeyRange{Lo: 1990, Hi: 2005}, 1) {
		t.Fatalf("nothing was inserted into [1990,2005) after version 1")
	}
	if !s.InsertedSince(KeyRange{Lo: 2005, Hi: 2020}, 1) {
		t.Fatalf("o2's insert at version 2 falls within [2005,2020) and after version 1")
	}
}

func TestInverseReferenceBackEdges(t *testing.T) {
	inv := NewInverse(1, "Author", 2)
	author := ids.NewObjectID(2, 1)
	book1 := ids.NewObjectID(1, 1)
	book2 := ids.NewObjectID(1, 2)

	inv.AddBackEdge(author, book1, 1)
	inv.AddBackEdge(author, book2, 2)

	refs := inv.Referrers(author, 2)
	if len(refs) != 2 {
		t.Fatalf("expected 2 referrers at v2, got %d", len(refs))
	}

	inv.RemoveBackEdge(author, book1, 3)
	refs = inv.Referrers(author, 3)
	if len(refs) != 1 || refs[0] != book2 {
		t.Fatalf("expected only book2 to remain a referrer at v3, got %v", refs)
	}
	// Snapshot at v2 should still see both.
	refs = inv.Referrers(author, 2)
	if len(refs) != 2 {
		t.Fatalf("snapshot at v2 should still see book1, got %v", refs)
	}
}
