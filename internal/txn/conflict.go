package txn

import (
	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/ids"
	"github.com/heliumdb/helium/internal/store"
)

// propertyAt returns the value of the named property out of a write's
// packed Properties slice, which is laid out in the same order as the
// class descriptor's Properties.
func propertyAt(desc *descriptor.ClassDesc, name string, values []descriptor.PropValue) (descriptor.PropValue, bool) {
	for i, p := range desc.Properties {
		if p.Name == name && i < len(values) {
			return values[i], true
		}
	}
	return descriptor.PropValue{}, false
}

// checkUniqueConstraints runs CheckUnique against every UNIQUE hash index
// touched by writeSet, before any index mutation is published, so a
// uniqueness violation aborts the whole commit without partial index
// updates (spec.md §4.1 step 3 / §4.3).
func (m *Manager) checkUniqueConstraints(registry *descriptor.Registry, writeSet []*ObjectChange) error {
	for _, c := range writeSet {
		if c.Op == OpDelete {
			continue
		}
		desc, err := registry.Class(c.Class)
		if err != nil {
			return err
		}
		m.indexes.EnsureDeclared(desc)
		for _, idxDesc := range desc.Indexes {
			if idxDesc.Kind != descriptor.IndexHash || !idxDesc.Unique {
				continue
			}
			prop, ok := desc.PropertyByName(idxDesc.Property)
			if !ok {
				continue
			}
			val, ok := propertyAt(desc, idxDesc.Property, c.Properties)
			if !ok {
				continue
			}
			key := extractKey(prop, val)
			h, ok := m.indexes.Hash(c.Class, idxDesc.Name)
			if !ok {
				continue
			}
			if err := h.CheckUnique(key, c.ObjectID, m.versions.Committed()); err != nil {
				return err
			}
		}
	}
	return nil
}

// publishIndexChanges updates every declared index for class c.Class to
// reflect the write, given the object's previous head (nil if this is an
// insert) and the newly allocated commit version. Called once per write
// inside the commit's striped critical section, after the version chain
// itself has been published, so index state and chain state advance
// together (spec.md §4.3: "index updates are part of the same atomic
// publish step as the version chain append").
func (m *Manager) publishIndexChanges(registry *descriptor.Registry, c *ObjectChange, prev *store.ObjectVersion, commitVersion ids.Version) {
	desc, err := registry.Class(c.Class)
	if err != nil {
		return
	}
	m.indexes.EnsureDeclared(desc)

	oldLive := prev != nil && !prev.Tombstone
	newLive := c.Op != OpDelete

	for _, idxDesc := range desc.Indexes {
		prop, ok := desc.PropertyByName(idxDesc.Property)
		if !ok {
			continue
		}

		switch idxDesc.Kind {
		case descriptor.IndexHash:
			h, ok := m.indexes.Hash(c.Class, idxDesc.Name)
			if !ok {
				continue
			}
			if oldLive {
				if oldVal, ok := propertyAt(desc, idxDesc.Property, prev.Properties); ok {
					h.Remove(extractKey(prop, oldVal), c.ObjectID, commitVersion)
				}
			}
			if newLive {
				if newVal, ok := propertyAt(desc, idxDesc.Property, c.Properties); ok {
					h.Insert(extractKey(prop, newVal), c.ObjectID, commitVersion)
				}
			}

		case descriptor.IndexSorted:
			s, ok := m.indexes.Sorted(c.Class, idxDesc.Name)
			if !ok {
				continue
			}
			if oldLive {
				if oldVal, ok := propertyAt(desc, idxDesc.Property, prev.Properties); ok {
					s.Remove(extractKey(prop, oldVal), c.ObjectID, commitVersion)
				}
			}
			if newLive {
				if newVal, ok := propertyAt(desc, idxDesc.Property, c.Properties); ok {
					s.Insert(extractKey(prop, newVal), c.ObjectID, commitVersion)
				}
			}

		case descriptor.IndexInverseReference:
			inv, ok := m.indexes.Inverse(c.Class, idxDesc.Name)
			if !ok {
				continue
			}
			if oldLive {
				if oldVal, ok := propertyAt(desc, idxDesc.Property, prev.Properties); ok {
					inv.RemoveBackEdge(oldVal.Ref, c.ObjectID, commitVersion)
				}
			}
			if newLive {
				if newVal, ok := propertyAt(desc, idxDesc.Property, c.Properties); ok {
					inv.AddBackEdge(newVal.Ref, c.ObjectID, commitVersion)
				}
			}
		}
	}
}
