package replication

import (
	"context"
	"sync"

	"github.com/heliumdb/helium/internal/errs"
)

// LocalWriteRole is a node's role within its LocalWriteCluster (the HA
// pair plus witness described by spec.md §4.7).
type LocalWriteRole int

const (
	LocalWriteNone LocalWriteRole = iota
	LocalWritePrimary
	LocalWriteStandby
)

func (r LocalWriteRole) String() string {
	switch r {
	case LocalWritePrimary:
		return "Primary"
	case LocalWriteStandby:
		return "Standby"
	default:
		return "None"
	}
}

// GlobalWriteRole is a LocalWriteCluster's role within its
// GlobalWriteCluster (spec.md §4.7/§4.8's two-site tree).
type GlobalWriteRole int

const (
	GlobalWriteNone GlobalWriteRole = iota
	GlobalWritePrimarySite
	GlobalWriteStandbySite
)

func (r GlobalWriteRole) String() string {
	switch r {
	case GlobalWritePrimarySite:
		return "PrimarySite"
	case GlobalWriteStandbySite:
		return "StandbySite"
	default:
		return "None"
	}
}

// WriteMaster reports whether a node, given its local and global roles,
// is the node client writes should actually land on: spec.md §4.8's
// "WriteMaster = LocalWriteRole==Primary ∧ GlobalWriteRole∈{PrimarySite,None}".
func WriteMaster(local LocalWriteRole, global GlobalWriteRole) bool {
	if local != LocalWritePrimary {
		return false
	}
	return global == GlobalWritePrimarySite || global == GlobalWriteNone
}

// Witness arbitrates local-write election: a node may only become
// Primary if it can reach the witness (or its peer has already
// confirmed the assignment), preventing both replicas from declaring
// themselves Primary during a network partition between them. Grounded
// on replica_set.go's vote-counting startElection, replaced with a
// single arbitrator instead of full quorum voting since a
// LocalWriteCluster has exactly two voting members plus one witness.
type Witness interface {
	// Reachable reports whether the witness can currently be consulted.
	Reachable(ctx context.Context) bool
	// Arbitrate asks the witness to confirm selfID as Primary given the
	// last known state of peerID. Returns true if the witness grants the
	// role.
	Arbitrate(ctx context.Context, selfID, peerID string) (bool, error)
}

// StandaloneWitness is a dedicated witness process reachable over the
// network; Reachable/Arbitrate are backed by a dial function so tests
// can substitute a fake without a real listener.
type StandaloneWitness struct {
	PingFunc      func(ctx context.Context) bool
	ArbitrateFunc func(ctx context.Context, selfID, peerID string) (bool, error)
}

func (w *StandaloneWitness) Reachable(ctx context.Context) bool {
	if w.PingFunc == nil {
		return false
	}
	return w.PingFunc(ctx)
}

func (w *StandaloneWitness) Arbitrate(ctx context.Context, selfID, peerID string) (bool, error) {
	if w.ArbitrateFunc == nil {
		return false, errs.New(errs.KindCommunication, errs.SubTimeout, "witness unreachable")
	}
	return w.ArbitrateFunc(ctx, selfID, peerID)
}

// SharedFolderWitness arbitrates via a shared filesystem path both
// replicas can reach (a lighter-weight witness than a standalone
// process, for deployments without a third host) — the lock-claim
// primitive is supplied by LockFunc so tests never touch a real
// filesystem.
type SharedFolderWitness struct {
	Path     string
	LockFunc func(ctx context.Context, path, claimantID string) (bool, error)
}

func (w *SharedFolderWitness) Reachable(ctx context.Context) bool {
	return w.LockFunc != nil
}

func (w *SharedFolderWitness) Arbitrate(ctx context.Context, selfID, peerID string) (bool, error) {
	if w.LockFunc == nil {
		return false, errs.New(errs.KindCommunication, errs.SubTimeout, "shared folder witness unreachable")
	}
	return w.LockFunc(ctx, w.Path, selfID)
}

// PeerView is what an Elector knows about its HA peer's last reported
// role, used when the witness itself is unreachable but the peer has
// already confirmed this node as Primary.
type PeerView struct {
	Reachable             bool
	ConfirmsSelfAsPrimary bool
}

// Elector runs local-write election for one node of a LocalWriteCluster.
// Grounded on replica_set.go's election/term machinery, replaced with
// witness arbitration instead of quorum voting among N peers.
type Elector struct {
	selfID, peerID string
	witness        Witness

	mu   sync.Mutex
	role LocalWriteRole
}

// NewElector builds an Elector starting in LocalWriteNone.
func NewElector(selfID, peerID string, witness Witness) *Elector {
	return &Elector{selfID: selfID, peerID: peerID, witness: witness, role: LocalWriteNone}
}

// Role returns the node's current local-write role.
func (e *Elector) Role() LocalWriteRole {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// TryBecomePrimary attempts to claim Primary. It succeeds only if the
// witness is reachable and grants the role, or the witness is
// unreachable but peer already confirms this node as Primary (e.g. after
// a witness blip mid-failover). Otherwise the node remains (or becomes)
// Standby, never Primary, to avoid a split-brain declaration.
func (e *Elector) TryBecomePrimary(ctx context.Context, peer PeerView) error {
	if e.witness.Reachable(ctx) {
		granted, err := e.witness.Arbitrate(ctx, e.selfID, e.peerID)
		if err != nil {
			return errs.Wrap(errs.KindCluster, errs.SubBusy, "witness arbitration failed", err)
		}
		if !granted {
			e.setRole(LocalWriteStandby)
			return errs.New(errs.KindCluster, errs.SubBusy, "witness did not grant primary role")
		}
		e.setRole(LocalWritePrimary)
		return nil
	}

	if peer.Reachable && peer.ConfirmsSelfAsPrimary {
		e.setRole(LocalWritePrimary)
		return nil
	}

	e.setRole(LocalWriteStandby)
	return errs.New(errs.KindCluster, errs.SubSplitBrainRisk, "witness unreachable and peer does not confirm primary role")
}

// Failover demotes this node to Standby, e.g. on losing its durable
// write path or being explicitly commanded down.
func (e *Elector) Failover() {
	e.setRole(LocalWriteStandby)
}

func (e *Elector) setRole(r LocalWriteRole) {
	e.mu.Lock()
	e.role = r
	e.mu.Unlock()
}

// Cluster is the minimal view a GlobalElector needs of its own
// LocalWriteCluster to evaluate split-brain risk before a manual site
// switch.
type Cluster struct {
	// SplitBrainRisk reports whether the peer site currently appears to
	// believe itself PrimarySite too (spec.md §8: "Promoting a
	// LocalWriteCluster to Primary while its peer is visibly Primary
	// requires operator confirmation").
	SplitBrainRisk func() bool
}

// GlobalElector runs the administrator-driven global-write site switch
// for one LocalWriteCluster (spec.md §4.8's "manual, administrator
// confirmed" global role assignment — deliberately not automatic,
// unlike local-write election).
type GlobalElector struct {
	cluster Cluster

	mu   sync.Mutex
	role GlobalWriteRole
}

func NewGlobalElector(cluster Cluster) *GlobalElector {
	return &GlobalElector{cluster: cluster, role: GlobalWriteNone}
}

func (g *GlobalElector) Role() GlobalWriteRole {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.role
}

// BecomePrimarySite promotes this site to PrimarySite. If the peer site
// still visibly believes itself Primary, the call fails with
// Cluster.SplitBrainRisk unless force is set, requiring an explicit
// administrator override.
func (g *GlobalElector) BecomePrimarySite(force bool) error {
	if g.cluster.SplitBrainRisk != nil && g.cluster.SplitBrainRisk() && !force {
		return errs.New(errs.KindCluster, errs.SubSplitBrainRisk, "peer site still appears primary; retry with force to confirm")
	}
	g.mu.Lock()
	g.role = GlobalWritePrimarySite
	g.mu.Unlock()
	return nil
}

// BecomeStandbySite demotes this site to StandbySite. Always permitted:
// stepping down can never itself cause a split brain.
func (g *GlobalElector) BecomeStandbySite() {
	g.mu.Lock()
	g.role = GlobalWriteStandbySite
	g.mu.Unlock()
}
