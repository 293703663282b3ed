package txn

import (
	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/ids"
	"github.com/heliumdb/helium/internal/store"
)

// Recover republishes a single already-committed write, bypassing OCC
// validation and durability (the write already survived both, in a prior
// process). Used only at startup, while replaying a loaded snapshot and
// the log records that committed after it (spec.md §4.6's recovery
// sequence): "load latest snapshot, replay log records with
// commit_version > snapshot version, advance committed_version".
//
// Unlike Commit, callers provide commitVersion directly rather than
// having one allocated, and there is no class-striping: recovery runs
// single-threaded against the engine before any client connection is
// accepted.
func (m *Manager) Recover(registry *descriptor.Registry, change ObjectChange, commitVersion ids.Version) error {
	prev := m.store.Head(change.Class, change.ObjectID)
	nv := &store.ObjectVersion{
		ObjectID:      change.ObjectID,
		CommitVersion: commitVersion,
		Prev:          prev,
		Tombstone:     change.Op == OpDelete,
		Properties:    change.Properties,
	}
	if !m.store.CASPublish(change.Class, nv) {
		return errs.New(errs.KindCritical, errs.SubInvariantBroken, "recovery CAS publish raced with a concurrent writer")
	}
	m.publishIndexChanges(registry, &change, prev, commitVersion)
	m.versions.AdvanceTo(commitVersion)
	return nil
}
