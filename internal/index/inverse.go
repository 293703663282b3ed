package index

import (
	"sync"

	"github.com/heliumdb/helium/internal/ids"
)

// Inverse is the inverse-reference index declared per
// (referring_class, reference_property, referenced_class): given a
// referenced object id, list every referrer as-of a read version. It's a
// first-class index (not a fallback chain walk) because "who points to X"
// is a common domain operation and the version-chain representation gives
// no cheap way to answer it otherwise (spec.md §4.3). Grounded on the
// teacher's pkg/index/composite_key.go composite-key idiom, applied here
// to (referring_class, property) identifying the index rather than to the
// key itself.
type Inverse struct {
	ReferringClass  ids.ClassID
	Property        string
	ReferencedClass ids.ClassID

	mu   sync.RWMutex
	back map[ids.ObjectID]*versionedSet // referenced id -> set of referrers
}

// NewInverse constructs an empty inverse-reference index.
func NewInverse(referringClass ids.ClassID, property string, referencedClass ids.ClassID) *Inverse {
	return &Inverse{
		ReferringClass:  referringClass,
		Property:        property,
		ReferencedClass: referencedClass,
		back:            make(map[ids.ObjectID]*versionedSet),
	}
}

func (inv *Inverse) bucket(referenced ids.ObjectID) *versionedSet {
	inv.mu.RLock()
	b, ok := inv.back[referenced]
	inv.mu.RUnlock()
	if ok {
		return b
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if b, ok = inv.back[referenced]; ok {
		return b
	}
	b = &versionedSet{}
	inv.back[referenced] = b
	return b
}

// AddBackEdge records that referrer now points at referenced, effective at
// commitVersion.
func (inv *Inverse) AddBackEdge(referenced, referrer ids.ObjectID, commitVersion ids.Version) {
	inv.bucket(referenced).insert(referrer, commitVersion)
}

// RemoveBackEdge records that referrer no longer points at referenced, as
// of commitVersion. Called alongside AddBackEdge whenever a write changes
// which object a reference property points to, so the old and new back-
// edges update atomically within the same commit (spec.md §4.3).
func (inv *Inverse) RemoveBackEdge(referenced, referrer ids.ObjectID, commitVersion ids.Version) {
	inv.bucket(referenced).remove(referrer, commitVersion)
}

// Referrers returns every object id that referenced `referenced` as of
// readVersion.
func (inv *Inverse) Referrers(referenced ids.ObjectID, readVersion ids.Version) []ids.ObjectID {
	return inv.bucket(referenced).visibleIDs(readVersion)
}

// Compact drops entries no live transaction can still observe.
func (inv *Inverse) Compact(minReadVersion ids.Version) {
	inv.mu.RLock()
	buckets := make([]*versionedSet, 0, len(inv.back))
	for _, b := range inv.back {
		buckets = append(buckets, b)
	}
	inv.mu.RUnlock()
	for _, b := range buckets {
		b.compact(minReadVersion)
	}
}
