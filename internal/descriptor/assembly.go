package descriptor

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// AssemblyBundle is the installed business-logic bundle: a content hash
// per named assembly plus the active Registry it produced. The dynamic
// loader/verifier that turns bytecode into this bundle is out of scope
// (spec.md §1); the engine only ever consumes an already-built bundle.
type AssemblyBundle struct {
	Hashes     map[string][32]byte
	Registry   *Registry
	VersionGUID uuid.UUID
}

// AssemblyManager owns the currently-installed AssemblyBundle and performs
// atomic, idempotent updates. Old bundles remain valid (readable via the
// pointer an in-flight transaction already captured) until no transaction
// references them; Go's garbage collector does that bookkeeping for us, so
// the manager only needs to atomically swap the "current" pointer.
type AssemblyManager struct {
	mu      sync.Mutex
	current atomic.Pointer[AssemblyBundle]
}

// NewAssemblyManager constructs a manager with an empty initial bundle.
func NewAssemblyManager() *AssemblyManager {
	m := &AssemblyManager{}
	initial := &AssemblyBundle{
		Hashes:      make(map[string][32]byte),
		Registry:    NewRegistry(),
		VersionGUID: uuid.New(),
	}
	m.current.Store(initial)
	return m
}

// Current returns the active bundle. Safe to call concurrently with
// Update; callers should capture this once per transaction and use that
// single snapshot for the transaction's lifetime.
func (m *AssemblyManager) Current() *AssemblyBundle {
	return m.current.Load()
}

// UpdateResult reports whether Update actually changed anything.
type UpdateResult struct {
	Changed     bool
	VersionGUID uuid.UUID
}

// Update installs newAssemblies (name -> raw bytes) atop the current
// registry, producing nextRegistry as the result of applying them (the
// caller — the out-of-scope dynamic loader — has already validated
// framework-version bounds and IL safety and handed us the resulting
// typed-model descriptor; see spec.md §1, §4.9).
//
// If every hash in newAssemblies matches the currently-installed hash for
// that name, this is a no-op: the bundle, registry pointer, and version
// GUID are all left untouched (spec.md §8 round-trip property:
// "UpdateAssemblies(current) with zero diff is a no-op").
func (m *AssemblyManager) Update(newAssemblies map[string][]byte, nextRegistry *Registry) UpdateResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.current.Load()
	newHashes := make(map[string][32]byte, len(newAssemblies))
	changed := len(newAssemblies) != len(cur.Hashes)
	for name, raw := range newAssemblies {
		h := sha256.Sum256(raw)
		newHashes[name] = h
		if existing, ok := cur.Hashes[name]; !ok || existing != h {
			changed = true
		}
	}

	if !changed {
		return UpdateResult{Changed: false, VersionGUID: cur.VersionGUID}
	}

	next := &AssemblyBundle{
		Hashes:      newHashes,
		Registry:    nextRegistry,
		VersionGUID: uuid.New(),
	}
	m.current.Store(next)
	return UpdateResult{Changed: true, VersionGUID: next.VersionGUID}
}
