package txn

import (
	"testing"

	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/index"
	"github.com/heliumdb/helium/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *descriptor.Registry, descriptor.ClassID) {
	t.Helper()
	reg := descriptor.NewRegistry()
	classID, err := reg.RegisterClass("Book", []descriptor.PropertyDesc{
		{Name: "ISBN", Kind: descriptor.PropString},
		{Name: "Year", Kind: descriptor.PropInt64},
	})
	if err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	if err := reg.DeclareIndex(classID, descriptor.IndexDesc{
		Name: "by_isbn", Property: "ISBN", Kind: descriptor.IndexHash, Unique: true,
	}); err != nil {
		t.Fatalf("DeclareIndex: %v", err)
	}

	s := store.NewStore()
	im := NewIndexManager()
	desc, _ := reg.Class(classID)
	im.EnsureDeclared(desc)

	m := NewManager(s, im)
	return m, reg, classID
}

func TestCommitInsertThenReadSeesIt(t *testing.T) {
	m, reg, classID := newTestManager(t)

	txn1 := m.Begin(ReadWrite, reg)
	id, err := reg.NextObjectID(classID)
	if err != nil {
		t.Fatalf("NextObjectID: %v", err)
	}
	if err := m.Write(txn1, ObjectChange{
		Class: classID, ObjectID: id, Op: OpInsert,
		Properties: []descriptor.PropValue{{Str: 42}, {I64: 2020}},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := m.Commit(txn1); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	txn2 := m.Begin(Read, reg)
	v, err := m.Read(txn2, classID, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v == nil || v.Properties[1].I64 != 2020 {
		t.Fatalf("expected to read back the committed write, got %+v", v)
	}
}

func TestCommitWriteAfterReadConflict(t *testing.T) {
	m, reg, classID := newTestManager(t)

	seed := m.Begin(ReadWrite, reg)
	id, _ := reg.NextObjectID(classID)
	m.Write(seed, ObjectChange{Class: classID, ObjectID: id, Op: OpInsert,
		Properties: []descriptor.PropValue{{Str: 1}, {I64: 1999}}})
	if _, err := m.Commit(seed); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	reader := m.Begin(ReadWrite, reg)
	if _, err := m.Read(reader, classID, id); err != nil {
		t.Fatalf("reader Read: %v", err)
	}

	// A concurrent writer updates the same object and commits first.
	writer := m.Begin(ReadWrite, reg)
	if _, err := m.Read(writer, classID, id); err != nil {
		t.Fatalf("writer Read: %v", err)
	}
	m.Write(writer, ObjectChange{Class: classID, ObjectID: id, Op: OpUpdate,
		Properties: []descriptor.PropValue{{Str: 1}, {I64: 2000}}})
	if _, err := m.Commit(writer); err != nil {
		t.Fatalf("writer commit: %v", err)
	}

	// reader now tries to write based on a stale read; must be rejected.
	m.Write(reader, ObjectChange{Class: classID, ObjectID: id, Op: OpUpdate,
		Properties: []descriptor.PropValue{{Str: 1}, {I64: 2001}}})
	_, err := m.Commit(reader)
	if err == nil {
		t.Fatalf("expected WriteAfterRead conflict, got nil error")
	}
	if !errs.Is(err, errs.KindTransactionConflict, errs.SubWriteAfterRead) {
		t.Fatalf("expected WriteAfterRead, got %v", err)
	}

	// Retry: begin fresh, observe the latest value, write succeeds.
	retry := m.Begin(ReadWrite, reg)
	v, _ := m.Read(retry, classID, id)
	if v.Properties[1].I64 != 2000 {
		t.Fatalf("retry should observe writer's committed value, got %+v", v)
	}
	m.Write(retry, ObjectChange{Class: classID, ObjectID: id, Op: OpUpdate,
		Properties: []descriptor.PropValue{{Str: 1}, {I64: 2002}}})
	if _, err := m.Commit(retry); err != nil {
		t.Fatalf("retry commit should succeed: %v", err)
	}
}

func TestCommitUniqueIndexViolation(t *testing.T) {
	m, reg, classID := newTestManager(t)

	txn1 := m.Begin(ReadWrite, reg)
	id1, _ := reg.NextObjectID(classID)
	m.Write(txn1, ObjectChange{Class: classID, ObjectID: id1, Op: OpInsert,
		Properties: []descriptor.PropValue{{Str: 7}, {I64: 1}}})
	if _, err := m.Commit(txn1); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	txn2 := m.Begin(ReadWrite, reg)
	id2, _ := reg.NextObjectID(classID)
	m.Write(txn2, ObjectChange{Class: classID, ObjectID: id2, Op: OpInsert,
		Properties: []descriptor.PropValue{{Str: 7}, {I64: 2}}})
	_, err := m.Commit(txn2)
	if err == nil {
		t.Fatalf("expected UniqueIndexViolation, got nil")
	}
	if !errs.Is(err, errs.KindTransactionConflict, errs.SubUniqueIndexViolation) {
		t.Fatalf("expected UniqueIndexViolation, got %v", err)
	}
}

func TestCommitPhantomWriteConflict(t *testing.T) {
	reg := descriptor.NewRegistry()
	classID, _ := reg.RegisterClass("Book", []descriptor.PropertyDesc{
		{Name: "Year", Kind: descriptor.PropInt64},
	})
	reg.DeclareIndex(classID, descriptor.IndexDesc{
		Name: "by_year", Property: "Year", Kind: descriptor.IndexSorted,
	})
	s := store.NewStore()
	im := NewIndexManager()
	desc, _ := reg.Class(classID)
	im.EnsureDeclared(desc)
	m := NewManager(s, im)

	scanner := m.Begin(ReadWrite, reg)
	if _, err := m.Scan(scanner, classID, "by_year", index.KeyRange{Lo: int64(2000), Hi: int64(2010)}); err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// Concurrent inserter adds a book into the scanned range and commits.
	inserter := m.Begin(ReadWrite, reg)
	newID, _ := reg.NextObjectID(classID)
	m.Write(inserter, ObjectChange{Class: classID, ObjectID: newID, Op: OpInsert,
		Properties: []descriptor.PropValue{{I64: 2005}}})
	if _, err := m.Commit(inserter); err != nil {
		t.Fatalf("inserter commit: %v", err)
	}

	scannerObjID, _ := reg.NextObjectID(classID)
	m.Write(scanner, ObjectChange{Class: classID, ObjectID: scannerObjID, Op: OpInsert,
		Properties: []descriptor.PropValue{{I64: 2001}}})
	_, err := m.Commit(scanner)
	if err == nil {
		t.Fatalf("expected PhantomWrite conflict, got nil")
	}
	if !errs.Is(err, errs.KindTransactionConflict, errs.SubPhantomWrite) {
		t.Fatalf("expected PhantomWrite, got %v", err)
	}
}

func TestAbortDiscardsWriteSet(t *testing.T) {
	m, reg, classID := newTestManager(t)
	txn1 := m.Begin(ReadWrite, reg)
	id, _ := reg.NextObjectID(classID)
	m.Write(txn1, ObjectChange{Class: classID, ObjectID: id, Op: OpInsert,
		Properties: []descriptor.PropValue{{Str: 1}, {I64: 1}}})
	m.Abort(txn1)

	txn2 := m.Begin(Read, reg)
	v, err := m.Read(txn2, classID, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if v != nil {
		t.Fatalf("aborted write must not be visible, got %+v", v)
	}
}

func TestMinReadVersionTracksLiveTransactions(t *testing.T) {
	m, reg, classID := newTestManager(t)

	txn1 := m.Begin(ReadWrite, reg)
	id, _ := reg.NextObjectID(classID)
	m.Write(txn1, ObjectChange{Class: classID, ObjectID: id, Op: OpInsert,
		Properties: []descriptor.PropValue{{Str: 1}, {I64: 1}}})
	m.Commit(txn1)

	longRunning := m.Begin(Read, reg)
	if _, err := m.Read(longRunning, classID, id); err != nil {
		t.Fatalf("Read: %v", err)
	}

	before := m.MinReadVersion()

	txn2 := m.Begin(ReadWrite, reg)
	id2, _ := reg.NextObjectID(classID)
	m.Write(txn2, ObjectChange{Class: classID, ObjectID: id2, Op: OpInsert,
		Properties: []descriptor.PropValue{{Str: 2}, {I64: 2}}})
	m.Commit(txn2)

	// MinReadVersion must stay pinned to the long-running reader's snapshot
	// even though a later transaction has since committed.
	if got := m.MinReadVersion(); got != before {
		t.Fatalf("MinReadVersion moved past a live reader's snapshot: before=%d after=%d", before, got)
	}

	m.Abort(longRunning)
}
