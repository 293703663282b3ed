package topology

import "testing"

func testNode(id string) Node {
	return Node{ID: id, Endpoints: Endpoints{Administration: "localhost:1", Execution: "localhost:2"}}
}

func testLocalCluster(id string) LocalWriteCluster {
	return LocalWriteCluster{
		ID:      id,
		Nodes:   [2]Node{testNode(id + "-a"), testNode(id + "-b")},
		Witness: NewWitnessDescriptor("localhost:9"),
	}
}

func TestLocalWriteClusterValidateRejectsDuplicateNodeIDs(t *testing.T) {
	c := testLocalCluster("cluster1")
	c.Nodes[1].ID = c.Nodes[0].ID
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for duplicate node ids")
	}
}

func TestLocalWriteClusterValidateRequiresWitness(t *testing.T) {
	c := testLocalCluster("cluster1")
	c.Witness = WitnessDescriptor{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error for missing witness")
	}
}

func TestLocalWriteClusterPeer(t *testing.T) {
	c := testLocalCluster("cluster1")
	peer, err := c.Peer(c.Nodes[0].ID)
	if err != nil {
		t.Fatalf("Peer: %v", err)
	}
	if peer.ID != c.Nodes[1].ID {
		t.Fatalf("got peer %q, want %q", peer.ID, c.Nodes[1].ID)
	}

	if _, err := c.Peer("not-a-member"); err == nil {
		t.Fatalf("expected an error for a non-member node id")
	}
}

func TestGlobalWriteClusterValidateRejectsDuplicateSiteIDs(t *testing.T) {
	g := GlobalWriteCluster{ID: "global1", Sites: [2]LocalWriteCluster{testLocalCluster("site1"), testLocalCluster("site1")}}
	if err := g.Validate(); err == nil {
		t.Fatalf("expected validation error for duplicate site ids")
	}
}

func TestGlobalWriteClusterPeerSite(t *testing.T) {
	g := GlobalWriteCluster{ID: "global1", Sites: [2]LocalWriteCluster{testLocalCluster("site1"), testLocalCluster("site2")}}
	peer, err := g.PeerSite("site1")
	if err != nil {
		t.Fatalf("PeerSite: %v", err)
	}
	if peer.ID != "site2" {
		t.Fatalf("got %q, want site2", peer.ID)
	}
}

func TestRegistrySetLocalRejectsInvalidCluster(t *testing.T) {
	r := NewRegistry()
	bad := testLocalCluster("cluster1")
	bad.Witness = WitnessDescriptor{}
	if err := r.SetLocal(bad); err == nil {
		t.Fatalf("expected SetLocal to reject an invalid cluster")
	}
	if _, ok := r.Local(); ok {
		t.Fatalf("registry should not retain a rejected local cluster")
	}
}

func TestRegistrySetLocalBumpsVersion(t *testing.T) {
	r := NewRegistry()
	before := r.Version()
	if err := r.SetLocal(testLocalCluster("cluster1")); err != nil {
		t.Fatalf("SetLocal: %v", err)
	}
	if r.Version() <= before {
		t.Fatalf("expected version to advance after SetLocal")
	}
	local, ok := r.Local()
	if !ok || local.ID != "cluster1" {
		t.Fatalf("expected installed local cluster cluster1, got %+v ok=%v", local, ok)
	}
}

func TestRegistryGlobalAbsentByDefault(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Global(); ok {
		t.Fatalf("expected no global cluster installed by default")
	}
}
