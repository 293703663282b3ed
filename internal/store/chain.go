// Package store implements the MVCC object store: a per-class partitioned
// hash map from object id to the head of that object's version chain, plus
// the background garbage collector that reclaims obsolete versions.
// Grounded on the teacher's pkg/mvcc/version_store.go and
// pkg/database/document_store.go.
package store

import (
	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/ids"
)

// ObjectVersion is the immutable unit of the store (spec.md §3). The chain
// for a given object id is sorted strictly descending by CommitVersion,
// acyclic, and Prev is an exclusively-owned pointer to the previous
// version — only the chain itself holds a reference to it, so once a
// version is unlinked by the GC it becomes collectable by the Go garbage
// collector in turn.
type ObjectVersion struct {
	ObjectID      ids.ObjectID
	CommitVersion ids.Version
	Prev          *ObjectVersion
	Tombstone     bool
	Properties    []descriptor.PropValue // indexed the same as ClassDesc.Properties
}

// newerThan reports whether v is newer than other (nil is "no version", the
// oldest possible).
func (v *ObjectVersion) newerThan(other *ObjectVersion) bool {
	if v == nil {
		return false
	}
	if other == nil {
		return true
	}
	return v.CommitVersion > other.CommitVersion
}

// visibleAt walks the chain starting at head and returns the newest
// version with CommitVersion <= readVersion that is not itself required to
// be skipped because it's a tombstone (tombstones are returned to the
// caller, which decides whether "not found" or "deleted" is the right
// answer — Read in internal/txn treats a tombstone as absent).
func visibleAt(head *ObjectVersion, readVersion ids.Version) *ObjectVersion {
	for v := head; v != nil; v = v.Prev {
		if v.CommitVersion <= readVersion {
			return v
		}
	}
	return nil
}
