package store

import (
	"sync"
	"sync/atomic"

	"github.com/heliumdb/helium/internal/ids"
)

// classPartition owns one class's object map. The map's structure (adding
// a brand-new object id) is guarded by mu; once an entry exists, readers
// and writers coordinate purely through the entry's atomic head pointer,
// so readers never block on mu for the common case of reading an existing
// object's current head.
type classPartition struct {
	mu     sync.RWMutex
	chains map[ids.ObjectID]*atomic.Pointer[ObjectVersion]
}

func newClassPartition() *classPartition {
	return &classPartition{chains: make(map[ids.ObjectID]*atomic.Pointer[ObjectVersion])}
}

func (p *classPartition) chainFor(id ids.ObjectID) *atomic.Pointer[ObjectVersion] {
	p.mu.RLock()
	ch, ok := p.chains[id]
	p.mu.RUnlock()
	if ok {
		return ch
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok = p.chains[id]; ok {
		return ch
	}
	ch = &atomic.Pointer[ObjectVersion]{}
	p.chains[id] = ch
	return ch
}

func (p *classPartition) existingChain(id ids.ObjectID) (*atomic.Pointer[ObjectVersion], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, ok := p.chains[id]
	return ch, ok
}

// Store is the engine's object store: one classPartition per class.
type Store struct {
	mu         sync.RWMutex
	partitions map[ids.ClassID]*classPartition
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{partitions: make(map[ids.ClassID]*classPartition)}
}

func (s *Store) partition(class ids.ClassID) *classPartition {
	s.mu.RLock()
	p, ok := s.partitions[class]
	s.mu.RUnlock()
	if ok {
		return p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok = s.partitions[class]; ok {
		return p
	}
	p = newClassPartition()
	s.partitions[class] = p
	return p
}

// Head returns the current head version for (class, id), or nil if the
// object has never been written.
func (s *Store) Head(class ids.ClassID, id ids.ObjectID) *ObjectVersion {
	p := s.partition(class)
	ch, ok := p.existingChain(id)
	if !ok {
		return nil
	}
	return ch.Load()
}

// VisibleAt returns the newest version of (class, id) visible at
// readVersion, or nil if none exists (object not yet created, or created
// only after readVersion).
func (s *Store) VisibleAt(class ids.ClassID, id ids.ObjectID, readVersion ids.Version) *ObjectVersion {
	return visibleAt(s.Head(class, id), readVersion)
}

// CASPublish installs newVersion as the new head of (class, id)'s chain,
// provided the chain's current head still equals expectedHead. This is
// the "new versions are prepended with a compare-and-swap" step of
// spec.md §4.2: concurrent readers either see the old head or the new
// head, never a half-built intermediate, because newVersion.Prev was set
// to expectedHead before the publish attempt. The only later mutation of
// an ObjectVersion is the GC clearing Prev on a version at or below the
// minimum live read version.
func (s *Store) CASPublish(class ids.ClassID, newVersion *ObjectVersion) bool {
	p := s.partition(class)
	ch := p.chainFor(newVersion.ObjectID)
	expected := newVersion.Prev
	return ch.CompareAndSwap(expected, newVersion)
}

// ForEachChain calls fn once per (class, objectID, head) triple currently
// in the store. Used by snapshotting; the GC sweep walks partitions itself. fn must not
// retain head beyond the call if it intends to free anything; the GC calls
// CASPublish-equivalent unlink operations separately.
func (s *Store) ForEachChain(fn func(class ids.ClassID, id ids.ObjectID, head *atomic.Pointer[ObjectVersion])) {
	s.mu.RLock()
	classes := make([]ids.ClassID, 0, len(s.partitions))
	parts := make([]*classPartition, 0, len(s.partitions))
	for c, p := range s.partitions {
		classes = append(classes, c)
		parts = append(parts, p)
	}
	s.mu.RUnlock()

	for i, p := range parts {
		p.mu.RLock()
		entries := make([]*atomic.Pointer[ObjectVersion], 0, len(p.chains))
		objIDs := make([]ids.ObjectID, 0, len(p.chains))
		for id, ch := range p.chains {
			entries = append(entries, ch)
			objIDs = append(objIDs, id)
		}
		p.mu.RUnlock()

		for j, ch := range entries {
			fn(classes[i], objIDs[j], ch)
		}
	}
}

// Classes returns the set of classes the store currently has any data for.
func (s *Store) Classes() []ids.ClassID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ids.ClassID, 0, len(s.partitions))
	for c := range s.partitions {
		out = append(out, c)
	}
	return out
}
