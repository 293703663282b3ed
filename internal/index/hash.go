package index

import (
	"fmt"
	"sync"

	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/ids"
)

// Hash is a hash secondary index keyed on an arbitrary comparable key
// (typically a PropValue's scalar rendered to a comparable Go value by the
// caller). If Unique is set, CheckUnique rejects a write that would
// introduce a second live entry for a key; Insert itself never fails.
type Hash struct {
	Name   string
	Unique bool

	mu      sync.RWMutex
	buckets map[interface{}]*versionedSet
}

// NewHash constructs an empty hash index.
func NewHash(name string, unique bool) *Hash {
	return &Hash{Name: name, Unique: unique, buckets: make(map[interface{}]*versionedSet)}
}

func (h *Hash) bucket(key interface{}) *versionedSet {
	h.mu.RLock()
	b, ok := h.buckets[key]
	h.mu.RUnlock()
	if ok {
		return b
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok = h.buckets[key]; ok {
		return b
	}
	b = &versionedSet{}
	h.buckets[key] = b
	return b
}

// CheckUnique validates, ahead of publish, that inserting id under key at
// commitVersion would not collide with another live entry. Call this
// during commit validation (spec.md §4.1 step 3 territory) before
// Insert actually publishes.
func (h *Hash) CheckUnique(key interface{}, id ids.ObjectID, commitVersion ids.Version) error {
	if !h.Unique {
		return nil
	}
	b := h.bucket(key)
	if b.hasLiveOtherThan(id, commitVersion) {
		return errs.New(errs.KindTransactionConflict, errs.SubUniqueIndexViolation,
			fmt.Sprintf("index %s: key already bound to another live object", h.Name))
	}
	return nil
}

// Insert binds key to id as of commitVersion.
func (h *Hash) Insert(key interface{}, id ids.ObjectID, commitVersion ids.Version) {
	h.bucket(key).insert(id, commitVersion)
}

// Remove unbinds key from id as of commitVersion (the entry is kept,
// marked removed, until compaction).
func (h *Hash) Remove(key interface{}, id ids.ObjectID, commitVersion ids.Version) {
	h.bucket(key).remove(id, commitVersion)
}

// Lookup returns every object id bound to key and visible at readVersion.
func (h *Hash) Lookup(key interface{}, readVersion ids.Version) []ids.ObjectID {
	return h.bucket(key).visibleIDs(readVersion)
}

// Compact drops entries no live transaction can still observe.
func (h *Hash) Compact(minReadVersion ids.Version) {
	h.mu.RLock()
	buckets := make([]*versionedSet, 0, len(h.buckets))
	for _, b := range h.buckets {
		buckets = append(buckets, b)
	}
	h.mu.RUnlock()
	for _, b := range buckets {
		b.compact(minReadVersion)
	}
}
