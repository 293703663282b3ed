// Package topology models the cluster tree a deployment is configured
// with: Node, LocalWriteCluster (an HA pair plus witness), and
// GlobalWriteCluster (two sites, manually switched). Grounded on
// pkg/cluster/server/cluster_service.go's node/topology registry,
// replacing its gRPC/protobuf-carried Node and ClusterTopology messages
// with plain Go structs local to this process (wire transport for
// topology changes rides internal/rpc's Registry, not a separate
// protobuf service).
package topology

import (
	"fmt"
	"sync"

	"github.com/heliumdb/helium/internal/errs"
)

// Endpoints are the addresses a node exposes for each concern the
// system separates: client/administration traffic, inter-node
// execution (the chunked RPC wire protocol), log replication, and
// witness-arbitrated election.
type Endpoints struct {
	Administration string
	Execution      string
	Replication    string
	Election       string
}

// Node is one running process in the cluster.
type Node struct {
	ID        string
	Endpoints Endpoints
}

// Validate checks a Node's configuration-time invariants.
func (n Node) Validate() error {
	if n.ID == "" {
		return errs.New(errs.KindConfiguration, errs.SubInvalidName, "node id must not be empty")
	}
	if n.Endpoints.Administration == "" || n.Endpoints.Execution == "" {
		return errs.New(errs.KindConfiguration, errs.SubInvalidName, "node must declare administration and execution endpoints")
	}
	return nil
}

// WitnessKind names which witness implementation arbitrates a
// LocalWriteCluster's election.
type WitnessKind int

const (
	WitnessStandalone WitnessKind = iota
	WitnessSharedFolder
)

// WitnessDescriptor configures the witness for one LocalWriteCluster.
type WitnessDescriptor struct {
	Kind WitnessKind
	// Address is the witness process's endpoint (WitnessStandalone) or
	// the shared folder path (WitnessSharedFolder).
	Address string
}

// LocalWriteCluster is an HA pair: exactly two voting nodes plus a
// witness, able to independently elect which of the two is Primary
// (spec.md §4.7).
type LocalWriteCluster struct {
	ID      string
	Nodes   [2]Node
	Witness WitnessDescriptor
	// SyncReplication configures whether the standby replicates
	// synchronously; spec.md §4.8 fixes this at configuration time, not
	// per write.
	SyncReplication bool
}

// Validate checks a LocalWriteCluster's configuration-time invariants:
// exactly two distinct nodes, a configured witness.
func (c LocalWriteCluster) Validate() error {
	if c.ID == "" {
		return errs.New(errs.KindConfiguration, errs.SubInvalidName, "local write cluster id must not be empty")
	}
	if err := c.Nodes[0].Validate(); err != nil {
		return err
	}
	if err := c.Nodes[1].Validate(); err != nil {
		return err
	}
	if c.Nodes[0].ID == c.Nodes[1].ID {
		return errs.New(errs.KindConfiguration, errs.SubDuplicateName, "local write cluster's two nodes must have distinct ids")
	}
	if c.Witness.Address == "" {
		return errs.New(errs.KindConfiguration, errs.SubInvalidName, "local write cluster must declare a witness address")
	}
	return nil
}

// Peer returns the other node in the pair given one member's id.
func (c LocalWriteCluster) Peer(nodeID string) (Node, error) {
	switch nodeID {
	case c.Nodes[0].ID:
		return c.Nodes[1], nil
	case c.Nodes[1].ID:
		return c.Nodes[0], nil
	default:
		return Node{}, fmt.Errorf("node %q is not a member of local write cluster %q", nodeID, c.ID)
	}
}

// GlobalWriteCluster is a two-site tree of LocalWriteClusters, with a
// manually assigned PrimarySite/StandbySite role (spec.md §4.7/§4.8).
type GlobalWriteCluster struct {
	ID    string
	Sites [2]LocalWriteCluster
}

// Validate checks a GlobalWriteCluster's configuration-time invariants:
// exactly two distinct sites, each individually valid.
func (g GlobalWriteCluster) Validate() error {
	if g.ID == "" {
		return errs.New(errs.KindConfiguration, errs.SubInvalidName, "global write cluster id must not be empty")
	}
	if err := g.Sites[0].Validate(); err != nil {
		return err
	}
	if err := g.Sites[1].Validate(); err != nil {
		return err
	}
	if g.Sites[0].ID == g.Sites[1].ID {
		return errs.New(errs.KindConfiguration, errs.SubDuplicateName, "global write cluster's two sites must have distinct ids")
	}
	return nil
}

// PeerSite returns the other site given one site's id.
func (g GlobalWriteCluster) PeerSite(siteID string) (LocalWriteCluster, error) {
	switch siteID {
	case g.Sites[0].ID:
		return g.Sites[1], nil
	case g.Sites[1].ID:
		return g.Sites[0], nil
	default:
		return LocalWriteCluster{}, fmt.Errorf("site %q is not a member of global write cluster %q", siteID, g.ID)
	}
}

// Registry is the live, mutable view of the cluster tree a running node
// holds: the local cluster it belongs to, and the optional global
// cluster wrapping it. Grounded on ClusterServiceImpl's nodes map and
// topology-version bookkeeping, narrowed from an N-node flat registry to
// the fixed two-level tree spec.md's topology model actually describes.
type Registry struct {
	mu      sync.RWMutex
	local   *LocalWriteCluster
	global  *GlobalWriteCluster
	version int64
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{version: 1}
}

// SetLocal installs the LocalWriteCluster this node belongs to.
func (r *Registry) SetLocal(c LocalWriteCluster) error {
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = &c
	r.version++
	return nil
}

// SetGlobal installs the GlobalWriteCluster wrapping this node's local
// cluster, if any.
func (r *Registry) SetGlobal(g GlobalWriteCluster) error {
	if err := g.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.global = &g
	r.version++
	return nil
}

// Local returns the installed LocalWriteCluster, if any.
func (r *Registry) Local() (LocalWriteCluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.local == nil {
		return LocalWriteCluster{}, false
	}
	return *r.local, true
}

// Global returns the installed GlobalWriteCluster, if any.
func (r *Registry) Global() (GlobalWriteCluster, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.global == nil {
		return GlobalWriteCluster{}, false
	}
	return *r.global, true
}

// Version returns the registry's configuration version, bumped on every
// SetLocal/SetGlobal call.
func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
