package engine

import (
	"context"
	"testing"

	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/txn"
)

func newTestConfig(t *testing.T) Config {
	cfg := DefaultConfig("node-a", t.TempDir())
	cfg.RPCAddr = ""
	cfg.HTTPAddr = ""
	cfg.SnapshotCron = ""
	cfg.GCCron = ""
	return cfg
}

func registerWidget(t *testing.T, e *Engine) descriptor.ClassID {
	t.Helper()
	classID, err := e.Registry().RegisterClass("Widget", []descriptor.PropertyDesc{
		{Name: "name", Kind: descriptor.PropString},
		{Name: "count", Kind: descriptor.PropInt64},
	})
	if err != nil {
		t.Fatalf("RegisterClass: %v", err)
	}
	return classID
}

func TestEngineCommitIsDurableAcrossRestart(t *testing.T) {
	cfg := newTestConfig(t)

	e1, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	classID := registerWidget(t, e1)

	id, err := e1.Registry().NextObjectID(classID)
	if err != nil {
		t.Fatalf("NextObjectID: %v", err)
	}

	tx := e1.Txn.Begin(txn.ReadWrite, e1.Registry())
	if err := e1.Txn.Write(tx, txn.ObjectChange{
		Class:    classID,
		ObjectID: id,
		Op:       txn.OpInsert,
		Properties: []descriptor.PropValue{
			{Str: 501},
			{I64: 7},
		},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	commitVersion, err := e1.Txn.Commit(tx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if commitVersion == 0 {
		t.Fatalf("expected a nonzero commit version")
	}

	// Simulate a process restart: a fresh Engine over the same data
	// directory must recover the write through the log replay path
	// (no snapshot has been taken yet, so this exercises the "replay
	// everything after an absent snapshot" branch).
	cfg2 := cfg
	e2, err := New(cfg2)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}

	classID2, err := e2.Registry().RegisterClass("Widget", []descriptor.PropertyDesc{
		{Name: "name", Kind: descriptor.PropString},
		{Name: "count", Kind: descriptor.PropInt64},
	})
	if err != nil {
		t.Fatalf("RegisterClass (restart): %v", err)
	}
	if classID2 != classID {
		t.Fatalf("expected class registration to be deterministic across restarts, got %d want %d", classID2, classID)
	}

	reader := e2.Txn.Begin(txn.Read, e2.Registry())
	v, err := e2.Txn.Read(reader, classID2, id)
	if err != nil {
		t.Fatalf("Read after recovery: %v", err)
	}
	if v == nil {
		t.Fatalf("expected recovered object to be visible, got nil")
	}
	if v.Properties[0].Str != 501 || v.Properties[1].I64 != 7 {
		t.Fatalf("recovered properties mismatch: %+v", v.Properties)
	}
	if got := e2.Txn.CommittedVersion(); got != commitVersion {
		t.Fatalf("expected recovered committed version %d, got %d", commitVersion, got)
	}
}

func TestEngineAdminServiceReportsNodeState(t *testing.T) {
	e, err := New(newTestConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	state := e.Admin.GetNodeState()
	if state.NodeID != "node-a" {
		t.Fatalf("expected node id node-a, got %q", state.NodeID)
	}
	if state.CommittedVersion != 0 {
		t.Fatalf("expected a fresh engine to report committed version 0, got %d", state.CommittedVersion)
	}
}

func TestEngineTakeSnapshotRoundTripsThroughRecovery(t *testing.T) {
	cfg := newTestConfig(t)

	e1, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	classID := registerWidget(t, e1)
	id, err := e1.Registry().NextObjectID(classID)
	if err != nil {
		t.Fatalf("NextObjectID: %v", err)
	}

	tx := e1.Txn.Begin(txn.ReadWrite, e1.Registry())
	if err := e1.Txn.Write(tx, txn.ObjectChange{
		Class:      classID,
		ObjectID:   id,
		Op:         txn.OpInsert,
		Properties: []descriptor.PropValue{{Str: 909}, {I64: 99}},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := e1.Txn.Commit(tx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	e1.takeSnapshot()
	if err := e1.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	e2, err := New(cfg)
	if err != nil {
		t.Fatalf("New (restart after snapshot): %v", err)
	}
	classID2, err := e2.Registry().RegisterClass("Widget", []descriptor.PropertyDesc{
		{Name: "name", Kind: descriptor.PropString},
		{Name: "count", Kind: descriptor.PropInt64},
	})
	if err != nil {
		t.Fatalf("RegisterClass (restart): %v", err)
	}

	reader := e2.Txn.Begin(txn.Read, e2.Registry())
	v, err := e2.Txn.Read(reader, classID2, id)
	if err != nil {
		t.Fatalf("Read after snapshot recovery: %v", err)
	}
	if v == nil || v.Properties[0].Str != 909 {
		t.Fatalf("expected object recovered from snapshot, got %+v", v)
	}
}
