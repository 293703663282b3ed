package store

import (
	"testing"

	"github.com/heliumdb/helium/internal/ids"
)

func TestStoreHeadVisibleAt(t *testing.T) {
	s := NewStore()
	const class ids.ClassID = 1
	id := ids.NewObjectID(class, 1)

	if s.Head(class, id) != nil {
		t.Fatalf("fresh store should have no head")
	}

	v1 := &ObjectVersion{ObjectID: id, CommitVersion: 1}
	if !s.CASPublish(class, v1) {
		t.Fatalf("first publish (prev=nil) should succeed")
	}

	v2 := &ObjectVersion{ObjectID: id, CommitVersion: 2, Prev: v1}
	if !s.CASPublish(class, v2) {
		t.Fatalf("second publish should succeed against prev=v1")
	}

	if got := s.VisibleAt(class, id, 1); got != v1 {
		t.Fatalf("VisibleAt(1) should return v1")
	}
	if got := s.VisibleAt(class, id, 2); got != v2 {
		t.Fatalf("VisibleAt(2) should return v2")
	}
	if got := s.VisibleAt(class, id, 0); got != nil {
		t.Fatalf("VisibleAt(0) should see nothing")
	}
}

func TestStoreCASRejectsStalePrev(t *testing.T) {
	s := NewStore()
	const class ids.ClassID = 1
	id := ids.NewObjectID(class, 1)

	v1 := &ObjectVersion{ObjectID: id, CommitVersion: 1}
	s.CASPublish(class, v1)

	v2 := &ObjectVersion{ObjectID: id, CommitVersion: 2, Prev: v1}
	s.CASPublish(class, v2)

	// Attempt to publish a third version whose Prev is stale (v1, not v2).
	stale := &ObjectVersion{ObjectID: id, CommitVersion: 3, Prev: v1}
	if s.CASPublish(class, stale) {
		t.Fatalf("CAS should fail when Prev no longer matches the current head")
	}
	if s.Head(class, id) != v2 {
		t.Fatalf("head should remain v2 after the failed CAS")
	}
}

func TestGCSweepTrimsOldVersionsButKeepsHead(t *testing.T) {
	s := NewStore()
	const class ids.ClassID = 1
	id := ids.NewObjectID(class, 1)

	v1 := &ObjectVersion{ObjectID: id, CommitVersion: 1}
	v2 := &ObjectVersion{ObjectID: id, CommitVersion: 2, Prev: v1}
	v3 := &ObjectVersion{ObjectID: id, CommitVersion: 3, Prev: v2}
	s.CASPublish(class, v1)
	s.CASPublish(class, v2)
	s.CASPublish(class, v3)

	gc := NewGC(s, func() ids.Version { return 2 })
	stats := gc.Sweep()

	if stats.VersionsFreed != 1 {
		t.Fatalf("expected to free exactly v1 (below the v2 boundary), got %d", stats.VersionsFreed)
	}
	head := s.Head(class, id)
	if head != v3 {
		t.Fatalf("head must remain v3 after GC")
	}
	if head.Prev != v2 || head.Prev.Prev != nil {
		t.Fatalf("chain should now be v3 -> v2 -> nil")
	}
}

func TestGCSweepRemovesFullyTombstonedObject(t *testing.T) {
	s := NewStore()
	const class ids.ClassID = 1
	id := ids.NewObjectID(class, 1)

	v1 := &ObjectVersion{ObjectID: id, CommitVersion: 1}
	tomb := &ObjectVersion{ObjectID: id, CommitVersion: 2, Prev: v1, Tombstone: true}
	s.CASPublish(class, v1)
	s.CASPublish(class, tomb)

	gc := NewGC(s, func() ids.Version { return 10 })
	stats := gc.Sweep()

	if stats.ObjectsRemoved != 1 {
		t.Fatalf("expected the tombstoned object's entry to be removed, got %d", stats.ObjectsRemoved)
	}
	if s.Head(class, id) != nil {
		t.Fatalf("head should be gone after the object-id entry is removed")
	}
}
