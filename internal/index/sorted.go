package index

import (
	"sort"
	"sync"

	"github.com/heliumdb/helium/internal/ids"
)

// LessFunc orders two index keys the way the index's declared key
// extractor requires (spec.md §4.3's "key extractor over a class's
// properties"). Keys must be totally ordered by Less for range scans to be
// well defined.
type LessFunc func(a, b interface{}) bool

// keySlot is one distinct key's bucket, kept in the Sorted index's
// key-ordered slice.
type keySlot struct {
	key    interface{}
	bucket *versionedSet
}

// Sorted is a sorted secondary index supporting range scans with a cursor
// stable under the read snapshot: a Scan call takes a read-version
// snapshot of the matching keys' live entries up front, so a concurrent
// insert into the range after the scan started never appears mid-iteration
// (spec.md §4.3). Grounded on the teacher's pkg/index/btree.go range-scan
// shape, reimplemented here over a plain ordered slice plus binary search,
// which is sufficient at the scale an in-memory secondary index operates
// at and keeps the versioning logic (shared with Hash via versionedSet)
// in one place.
type Sorted struct {
	Name string
	Less LessFunc

	mu   sync.RWMutex
	keys []keySlot
}

// NewSorted constructs an empty sorted index ordered by less.
func NewSorted(name string, less LessFunc) *Sorted {
	return &Sorted{Name: name, Less: less}
}

func (s *Sorted) find(key interface{}) int {
	return sort.Search(len(s.keys), func(i int) bool {
		return !s.Less(s.keys[i].key, key)
	})
}

func (s *Sorted) bucket(key interface{}) *versionedSet {
	s.mu.RLock()
	i := s.find(key)
	if i < len(s.keys) && !s.Less(key, s.keys[i].key) && !s.Less(s.keys[i].key, key) {
		b := s.keys[i].bucket
		s.mu.RUnlock()
		return b
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	i = s.find(key)
	if i < len(s.keys) && !s.Less(key, s.keys[i].key) && !s.Less(s.keys[i].key, key) {
		return s.keys[i].bucket
	}
	b := &versionedSet{}
	s.keys = append(s.keys, keySlot{})
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = keySlot{key: key, bucket: b}
	return b
}

// Insert binds key to id as of commitVersion.
func (s *Sorted) Insert(key interface{}, id ids.ObjectID, commitVersion ids.Version) {
	s.bucket(key).insert(id, commitVersion)
}

// Remove unbinds key from id as of commitVersion.
func (s *Sorted) Remove(key interface{}, id ids.ObjectID, commitVersion ids.Version) {
	s.bucket(key).remove(id, commitVersion)
}

// KeyRange is a half-open [Lo, Hi) key range. A nil bound is unbounded on
// that side.
type KeyRange struct {
	Lo, Hi interface{}
}

func (r KeyRange) contains(less LessFunc, key interface{}) bool {
	if r.Lo != nil && less(key, r.Lo) {
		return false
	}
	if r.Hi != nil && !less(key, r.Hi) {
		return false
	}
	return true
}

// Scan returns the object id of every entry visible at readVersion within
// the range, as a snapshot slice — the "stable cursor" requirement is
// satisfied by materializing the result up front rather than iterating a
// live structure.
func (s *Sorted) Scan(r KeyRange, readVersion ids.Version) []ids.ObjectID {
	s.mu.RLock()
	var buckets []*versionedSet
	for _, ks := range s.keys {
		if r.contains(s.Less, ks.key) {
			buckets = append(buckets, ks.bucket)
		}
	}
	s.mu.RUnlock()

	var out []ids.ObjectID
	for _, b := range buckets {
		out = append(out, b.visibleIDs(readVersion)...)
	}
	return out
}

// InsertedSince reports whether any entry within the range was inserted
// at a commit version strictly greater than sinceVersion — the phantom
// check internal/txn runs against every (index, range) a committing
// transaction scanned (spec.md §4.1 step 2).
func (s *Sorted) InsertedSince(r KeyRange, sinceVersion ids.Version) bool {
	s.mu.RLock()
	var buckets []*versionedSet
	for _, ks := range s.keys {
		if r.contains(s.Less, ks.key) {
			buckets = append(buckets, ks.bucket)
		}
	}
	s.mu.RUnlock()

	for _, b := range buckets {
		b.mu.RLock()
		for _, e := range b.entries {
			if e.InsertedAt > sinceVersion {
				b.mu.RUnlock()
				return true
			}
		}
		b.mu.RUnlock()
	}
	return false
}

// Compact drops entries no live transaction can still observe.
func (s *Sorted) Compact(minReadVersion ids.Version) {
	s.mu.RLock()
	buckets := make([]*versionedSet, 0, len(s.keys))
	for _, ks := range s.keys {
		buckets = append(buckets, ks.bucket)
	}
	s.mu.RUnlock()
	for _, b := range buckets {
		b.compact(minReadVersion)
	}
}
