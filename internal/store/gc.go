package store

import (
	"sync/atomic"

	"github.com/heliumdb/helium/internal/ids"
)

// MinVersionFunc reports the minimum read-version among currently live
// transactions, as tracked by internal/txn.Manager. The GC depends on it
// through an interface rather than importing internal/txn directly, since
// txn already imports store.
type MinVersionFunc func() ids.Version

// GC performs cooperative, class-partitioned sweeps that never block
// transactions: each sweep only ever replaces a chain's head with a CAS
// against the value it just observed, so a concurrent commit's CAS simply
// loses or wins the race the same way two concurrent commits would.
// Grounded on pkg/mvcc/transaction.go's maybeGarbageCollect, generalized
// from one global sweep to per-class sweeps bounding pause time
// (spec.md §4.2).
type GC struct {
	store      *Store
	minVersion MinVersionFunc

	swept   uint64
	freed   uint64
}

// NewGC constructs a GC bound to store, using minVersion to learn the
// oldest version any live transaction might still need to see.
func NewGC(s *Store, minVersion MinVersionFunc) *GC {
	return &GC{store: s, minVersion: minVersion}
}

// SweepStats summarizes the outcome of one Sweep call.
type SweepStats struct {
	ChainsVisited int
	VersionsFreed int
	ObjectsRemoved int
}

// Sweep walks every chain in the store once, for each one dropping every
// version older than the newest version at or below minReadVersion
// (spec.md §4.2), and removing the object-id entry entirely if the
// resulting chain is empty (an all-tombstone chain with no live
// predecessor).
func (g *GC) Sweep() SweepStats {
	minReadVersion := g.minVersion()
	var stats SweepStats

	g.store.mu.RLock()
	parts := make(map[ids.ClassID]*classPartition, len(g.store.partitions))
	for c, p := range g.store.partitions {
		parts[c] = p
	}
	g.store.mu.RUnlock()

	for class, p := range parts {
		g.sweepPartition(class, p, minReadVersion, &stats)
	}
	return stats
}

func (g *GC) sweepPartition(class ids.ClassID, p *classPartition, minReadVersion ids.Version, stats *SweepStats) {
	p.mu.RLock()
	entries := make(map[ids.ObjectID]*atomic.Pointer[ObjectVersion], len(p.chains))
	for id, ch := range p.chains {
		entries[id] = ch
	}
	p.mu.RUnlock()

	var emptyIDs []ids.ObjectID
	for id, ch := range entries {
		stats.ChainsVisited++
		head := ch.Load()
		trimmed, freed := trimChain(head, minReadVersion)
		if freed > 0 {
			// CAS so a concurrent publish that raced us simply wins;
			// we never overwrite a head newer than what we observed.
			ch.CompareAndSwap(head, trimmed)
			stats.VersionsFreed += freed
		}
		if trimmed == nil {
			emptyIDs = append(emptyIDs, id)
		}
	}

	if len(emptyIDs) == 0 {
		return
	}
	p.mu.Lock()
	for _, id := range emptyIDs {
		if ch, ok := p.chains[id]; ok && ch.Load() == nil {
			delete(p.chains, id)
			stats.ObjectsRemoved++
		}
	}
	p.mu.Unlock()
}

// trimChain returns the chain starting at head with every version below
// the newest version <= minReadVersion dropped, plus how many were
// dropped. If the newest surviving version is itself a tombstone with no
// versions above minReadVersion depending on it, the whole chain collapses
// to nil.
func trimChain(head *ObjectVersion, minReadVersion ids.Version) (*ObjectVersion, int) {
	if head == nil {
		return nil, 0
	}

	// Find the newest version at or below minReadVersion: everything
	// older than it is dead to every live transaction's snapshot.
	var boundary *ObjectVersion
	for v := head; v != nil; v = v.Prev {
		if v.CommitVersion <= minReadVersion {
			boundary = v
			break
		}
	}
	if boundary == nil {
		// Every version is newer than minReadVersion; nothing is
		// collectable yet.
		return head, 0
	}

	freed := 0
	for v := boundary.Prev; v != nil; v = v.Prev {
		freed++
	}
	boundary.Prev = nil

	if boundary.Tombstone && boundary == head {
		return nil, freed + 1
	}
	return head, freed
}
