// Package index implements the engine's secondary index engines: a hash
// index (with optional UNIQUE enforcement), a sorted index with stable
// range cursors, and the inverse-reference index. All three are
// versioned so a read transaction sees index state as of its snapshot,
// per spec.md §3 and §4.3. Grounded on the teacher's pkg/index/btree.go,
// index.go, and composite_key.go.
package index

import (
	"sync"

	"github.com/heliumdb/helium/internal/ids"
)

// Entry binds one key occurrence to an object id, with the commit-version
// window during which it was visible. RemovedAt is zero while still live.
type Entry struct {
	ObjectID  ids.ObjectID
	InsertedAt ids.Version
	RemovedAt  ids.Version // 0 means "still present"
}

func (e Entry) visibleAt(readVersion ids.Version) bool {
	if e.InsertedAt > readVersion {
		return false
	}
	if e.RemovedAt != 0 && e.RemovedAt <= readVersion {
		return false
	}
	return true
}

// versionedSet is the per-key bucket of Entry values shared by the hash
// and inverse-reference indexes. Old (removed) entries accumulate until a
// GC-style compaction drops them once no live transaction could still
// observe them; compaction is driven by the same minReadVersion the object
// store's GC uses.
type versionedSet struct {
	mu      sync.RWMutex
	entries []Entry
}

func (s *versionedSet) insert(id ids.ObjectID, at ids.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Entry{ObjectID: id, InsertedAt: at})
}

// remove marks the newest live entry for id as removed at `at`, rather
// than deleting it outright, so a transaction whose snapshot predates `at`
// still sees it.
func (s *versionedSet) remove(id ids.ObjectID, at ids.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].ObjectID == id && s.entries[i].RemovedAt == 0 {
			s.entries[i].RemovedAt = at
			return
		}
	}
}

func (s *versionedSet) visibleIDs(readVersion ids.Version) []ids.ObjectID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ids.ObjectID
	for _, e := range s.entries {
		if e.visibleAt(readVersion) {
			out = append(out, e.ObjectID)
		}
	}
	return out
}

// hasLiveOtherThan reports whether any entry other than `except` is live
// at `at`. Used by UNIQUE hash-index enforcement.
func (s *versionedSet) hasLiveOtherThan(except ids.ObjectID, at ids.Version) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.ObjectID == except {
			continue
		}
		if e.visibleAt(at) {
			return true
		}
	}
	return false
}

// compact drops entries removed at or before minReadVersion, the
// index-engine equivalent of internal/store's GC sweep.
func (s *versionedSet) compact(minReadVersion ids.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.RemovedAt != 0 && e.RemovedAt <= minReadVersion {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
}
