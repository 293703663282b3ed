package descriptor

import (
	"github.com/heliumdb/helium/internal/ids"
	"github.com/shopspring/decimal"
)

// PropKind enumerates the scalar/array/reference property kinds a class
// property may declare.
type PropKind int

const (
	PropInt64 PropKind = iota
	PropFloat64
	PropString
	PropBool
	PropDecimal // exact fixed-point, backed by shopspring/decimal
	PropReference
	PropBlob
	PropArray // array-of another PropKind, see PropertyDesc.ElemKind
)

func (k PropKind) String() string {
	switch k {
	case PropInt64:
		return "int64"
	case PropFloat64:
		return "float64"
	case PropString:
		return "string"
	case PropBool:
		return "bool"
	case PropDecimal:
		return "decimal"
	case PropReference:
		return "reference"
	case PropBlob:
		return "blob"
	case PropArray:
		return "array"
	default:
		return "unknown"
	}
}

// PropertyDesc describes one property of a class.
type PropertyDesc struct {
	Name         string
	Kind         PropKind
	ElemKind     PropKind        // meaningful when Kind == PropArray
	ReferenceTo  ClassID         // meaningful when Kind == PropReference (or ElemKind == PropReference)
	Nullable     bool
	InverseOf    string          // if non-empty, this reference property has a declared inverse
}

// ClassID identifies a registered class. Distinct from ids.ClassID only in
// that it's the descriptor-facing alias; the two are interchangeable.
type ClassID = ids.ClassID

// PropValue is a single scalar value as carried in a packed property
// block. Exactly one field is meaningful, selected by the owning
// PropertyDesc.Kind.
type PropValue struct {
	I64     int64
	F64     float64
	Str     ids.StringHandle
	Bool    bool
	Dec     decimal.Decimal
	Ref     ids.ObjectID
	BlobRef BlobHandle
	Array   []PropValue
}

// BlobHandle references an out-of-line, ref-counted large byte array. The
// inline property block carries only this handle and the blob's commit
// version, per spec.md §3.
type BlobHandle struct {
	ID            uint64
	CommitVersion ids.Version
}
