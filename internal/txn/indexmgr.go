package txn

import (
	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/ids"
	"github.com/heliumdb/helium/internal/index"
	"github.com/shopspring/decimal"
)

// IndexManager owns the live index engine instances for every declared
// index, keyed by (class, index name) so the same name can be reused
// across unrelated classes. It is the bridge between descriptor.IndexDesc
// (the declaration) and the actual index.Hash/index.Sorted/index.Inverse
// engine the transaction manager reads and publishes through.
type IndexManager struct {
	hash    map[indexKey]*index.Hash
	sorted  map[indexKey]*index.Sorted
	inverse map[indexKey]*index.Inverse
}

type indexKey struct {
	class ids.ClassID
	name  string
}

// NewIndexManager constructs an empty manager.
func NewIndexManager() *IndexManager {
	return &IndexManager{
		hash:    make(map[indexKey]*index.Hash),
		sorted:  make(map[indexKey]*index.Sorted),
		inverse: make(map[indexKey]*index.Inverse),
	}
}

// EnsureDeclared makes sure every index declared on desc has a live engine
// instance, creating one if this is the first time it's seen. Idempotent,
// safe to call repeatedly (e.g. once per transaction that touches class).
func (m *IndexManager) EnsureDeclared(desc *descriptor.ClassDesc) {
	for _, idx := range desc.Indexes {
		key := indexKey{class: desc.ID, name: idx.Name}
		switch idx.Kind {
		case descriptor.IndexHash:
			if _, ok := m.hash[key]; !ok {
				m.hash[key] = index.NewHash(idx.Name, idx.Unique)
			}
		case descriptor.IndexSorted:
			if _, ok := m.sorted[key]; !ok {
				m.sorted[key] = index.NewSorted(idx.Name, defaultLess)
			}
		case descriptor.IndexInverseReference:
			if _, ok := m.inverse[key]; !ok {
				prop, _ := desc.PropertyByName(idx.Property)
				m.inverse[key] = index.NewInverse(desc.ID, idx.Property, prop.ReferenceTo)
			}
		}
	}
}

// defaultLess orders two index keys of the same dynamic type by value, so
// int64/float64/string/bool keys can share one comparator without
// requiring a declared extractor per kind. Keys of different dynamic types
// are never less than each other.
func defaultLess(a, b interface{}) bool {
	switch av := a.(type) {
	case int64:
		bv, ok := b.(int64)
		return ok && av < bv
	case float64:
		bv, ok := b.(float64)
		return ok && av < bv
	case string:
		bv, ok := b.(string)
		return ok && av < bv
	case bool:
		bv, ok := b.(bool)
		return !av && ok && bv
	case ids.StringHandle:
		bv, ok := b.(ids.StringHandle)
		return ok && av < bv
	case ids.ObjectID:
		bv, ok := b.(ids.ObjectID)
		return ok && av < bv
	case decimal.Decimal:
		bv, ok := b.(decimal.Decimal)
		return ok && av.Cmp(bv) < 0
	default:
		return false
	}
}

// extractKey pulls the comparable index-key value out of v per prop.Kind.
// String properties key on their interned handle rather than the resolved
// string: resolving would require plumbing a *ids.StringTable through every
// index engine, and handle order is stable enough for equality-keyed hash
// indexes; sorted indexes over string properties accept handle-assignment
// order rather than lexicographic order as a result (see DESIGN.md).
func extractKey(prop descriptor.PropertyDesc, v descriptor.PropValue) interface{} {
	switch prop.Kind {
	case descriptor.PropInt64:
		return v.I64
	case descriptor.PropFloat64:
		return v.F64
	case descriptor.PropString:
		return v.Str
	case descriptor.PropBool:
		return v.Bool
	case descriptor.PropDecimal:
		return v.Dec
	case descriptor.PropReference:
		return v.Ref
	default:
		return nil
	}
}

func (m *IndexManager) Hash(class ids.ClassID, name string) (*index.Hash, bool) {
	h, ok := m.hash[indexKey{class, name}]
	return h, ok
}

func (m *IndexManager) Sorted(class ids.ClassID, name string) (*index.Sorted, bool) {
	s, ok := m.sorted[indexKey{class, name}]
	return s, ok
}

func (m *IndexManager) Inverse(class ids.ClassID, name string) (*index.Inverse, bool) {
	inv, ok := m.inverse[indexKey{class, name}]
	return inv, ok
}

// Compact runs each index engine's compaction against minReadVersion.
func (m *IndexManager) Compact(minReadVersion ids.Version) {
	for _, h := range m.hash {
		h.Compact(minReadVersion)
	}
	for _, s := range m.sorted {
		s.Compact(minReadVersion)
	}
	for _, inv := range m.inverse {
		inv.Compact(minReadVersion)
	}
}
