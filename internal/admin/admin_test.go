package admin

import (
	"context"
	"testing"
	"time"

	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/persist"
	"github.com/heliumdb/helium/internal/replication"
	"github.com/heliumdb/helium/internal/store"
	"github.com/heliumdb/helium/internal/telemetry"
	"github.com/heliumdb/helium/internal/topology"
	"github.com/heliumdb/helium/internal/txn"
)

type fakeTransport struct{}

func (fakeTransport) Send(ctx context.Context, replicaID string, rec replication.ShippedRecord) error {
	return nil
}

type grantingWitness struct{}

func (grantingWitness) Reachable(ctx context.Context) bool { return true }
func (grantingWitness) Arbitrate(ctx context.Context, selfID, peerID string) (bool, error) {
	return true, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	st := store.NewStore()
	im := txn.NewIndexManager()
	txnMgr := txn.NewManager(st, im)

	persistMgr, err := persist.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("persist.NewManager: %v", err)
	}

	master := replication.NewMaster(replication.MasterConfig{Transport: fakeTransport{}, SyncTimeout: time.Second})
	elector := replication.NewElector("node-a", "node-b", grantingWitness{})
	global := replication.NewGlobalElector(replication.Cluster{SplitBrainRisk: func() bool { return false }})

	return &Service{
		NodeID:     "node-a",
		Topology:   topology.NewRegistry(),
		Txn:        txnMgr,
		Assemblies: descriptor.NewAssemblyManager(),
		Persist:    persistMgr,
		Master:     master,
		Elector:    elector,
		Global:     global,
		StartTime:  time.Now(),
	}
}

func TestGetNodeStateReportsRolesAndVersion(t *testing.T) {
	svc := newTestService(t)
	state := svc.GetNodeState()
	if state.NodeID != "node-a" {
		t.Fatalf("got node id %q, want node-a", state.NodeID)
	}
	if state.LocalWriteRole != replication.LocalWriteNone {
		t.Fatalf("expected no local write role initially, got %v", state.LocalWriteRole)
	}
	if state.WriteMaster {
		t.Fatalf("expected WriteMaster false before any promotion")
	}
}

func TestBecomePrimaryPromotesViaWitness(t *testing.T) {
	svc := newTestService(t)
	if err := svc.BecomePrimary(context.Background(), replication.PeerView{}); err != nil {
		t.Fatalf("BecomePrimary: %v", err)
	}
	if svc.GetNodeState().LocalWriteRole != replication.LocalWritePrimary {
		t.Fatalf("expected local write role to become primary")
	}
}

func TestBecomePrimarySiteRefusesSplitBrainRiskWithoutForce(t *testing.T) {
	svc := newTestService(t)
	svc.Global = replication.NewGlobalElector(replication.Cluster{SplitBrainRisk: func() bool { return true }})
	if err := svc.BecomePrimarySite(false); err == nil {
		t.Fatalf("expected an error when split-brain risk is present and force is false")
	}
	if err := svc.BecomePrimarySite(true); err != nil {
		t.Fatalf("expected force=true to override split-brain refusal, got %v", err)
	}
}

func TestDeclarePersistenceDescriptorEnforcesStreamCap(t *testing.T) {
	svc := newTestService(t)
	for i := 0; i < persist.MaxLogStreams-1; i++ {
		cfg := persist.StreamConfig{Name: namedStream(i), LogDir: t.TempDir(), SnapshotDir: t.TempDir()}
		if err := svc.DeclarePersistenceDescriptor(cfg); err != nil {
			t.Fatalf("DeclarePersistenceDescriptor #%d: %v", i, err)
		}
	}
	over := persist.StreamConfig{Name: "one-too-many", LogDir: t.TempDir(), SnapshotDir: t.TempDir()}
	if err := svc.DeclarePersistenceDescriptor(over); err == nil {
		t.Fatalf("expected the 9th stream to be rejected")
	}
}

func namedStream(i int) string {
	return string(rune('a'+i)) + "-stream"
}

func TestUpdateAssembliesIsNoOpOnZeroDiff(t *testing.T) {
	svc := newTestService(t)
	registry := descriptor.NewRegistry()
	assemblies := map[string][]byte{"core": []byte("v1")}

	first := svc.UpdateAssemblies(assemblies, registry)
	if !first.Changed {
		t.Fatalf("expected first UpdateAssemblies to report a change")
	}

	second := svc.UpdateAssemblies(assemblies, registry)
	if second.Changed {
		t.Fatalf("expected identical UpdateAssemblies call to be a no-op")
	}
	if second.VersionGUID != first.VersionGUID {
		t.Fatalf("expected version GUID to stay stable across a no-op update")
	}
}

func TestSetTraceLevelAndUserTraceLevelAreIndependent(t *testing.T) {
	svc := newTestService(t)
	svc.SetTraceLevel(telemetry.LevelWarn)
	svc.SetUserTraceLevel("replication", telemetry.LevelDebug)

	levels := svc.GetNodeState().ComponentLevels
	if levels["replication"] != telemetry.LevelDebug {
		t.Fatalf("expected replication component override to be debug, got %v", levels["replication"])
	}
}
