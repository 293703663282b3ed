package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/ids"
)

// ReplicaState is the per-replica connection state machine:
//
//	NotUsed → NotStarted → Disconnected ⇄ ConnectedPendingSync → ConnectedAsync/ConnectedSync
//
// Grounded on pkg/replication/master.go's SlaveInfo/heartbeat bookkeeping,
// replacing its flat "registered or not" view with the full state
// progression spec.md §4.8 lays out.
type ReplicaState int

const (
	StateNotUsed ReplicaState = iota
	StateNotStarted
	StateDisconnected
	StateConnectedPendingSync
	StateConnectedAsync
	StateConnectedSync
)

func (s ReplicaState) String() string {
	switch s {
	case StateNotUsed:
		return "NotUsed"
	case StateNotStarted:
		return "NotStarted"
	case StateDisconnected:
		return "Disconnected"
	case StateConnectedPendingSync:
		return "ConnectedPendingSync"
	case StateConnectedAsync:
		return "ConnectedAsync"
	case StateConnectedSync:
		return "ConnectedSync"
	default:
		return "Unknown"
	}
}

// ReplicaMode is the configured durability class for a replica: whether
// the primary must wait for its acknowledgement before a commit returns
// success (spec.md §4.8 "Synchronous vs asynchronous").
type ReplicaMode int

const (
	ModeAsync ReplicaMode = iota
	ModeSync
)

// AlignmentTolerance bounds how far behind committed_version a replica's
// applied_version may trail and still count as Aligned.
const AlignmentTolerance = 0

// ReplicaInfo tracks one subscribed replica's connection state and
// progress.
type ReplicaInfo struct {
	ID   string
	Mode ReplicaMode

	mu             sync.RWMutex
	state          ReplicaState
	appliedVersion ids.Version
	lastHeartbeat  time.Time
}

// State returns the replica's current connection state.
func (r *ReplicaInfo) State() ReplicaState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// AppliedVersion returns the last applied_version the replica reported.
func (r *ReplicaInfo) AppliedVersion() ids.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.appliedVersion
}

// Aligned reports whether the replica's applied_version has caught up to
// committed within AlignmentTolerance (spec.md §4.8: "Aligned =
// applied_version ≥ primary.committed_version - tolerance").
func (r *ReplicaInfo) Aligned(committed ids.Version) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if committed <= ids.Version(AlignmentTolerance) {
		return true
	}
	return r.appliedVersion >= committed-ids.Version(AlignmentTolerance)
}

// MasterConfig configures a Master.
type MasterConfig struct {
	Source    Source
	Transport Transport
	// SyncTimeout bounds how long a commit waits for its sync replicas to
	// acknowledge before the commit is aborted (spec.md §4.8, §8 scenario
	// 3: "the in-flight commit on the primary returns
	// Communication.Timeout → Aborted").
	SyncTimeout time.Duration
}

// Master is the primary-side replication coordinator: it tracks replica
// connection state, ships committed records in commit_version order, and
// blocks commits on sync replica acknowledgement. Grounded on
// pkg/replication/master.go, generalized from a single in-memory oplog
// tail to shipping internal/persist's own log records, and from a flat
// registered/not-registered slave map to the full connection state
// machine.
type Master struct {
	cfg MasterConfig

	mu       sync.RWMutex
	replicas map[string]*ReplicaInfo
}

// NewMaster builds a Master around cfg.
func NewMaster(cfg MasterConfig) *Master {
	return &Master{cfg: cfg, replicas: make(map[string]*ReplicaInfo)}
}

// RegisterReplica adds a replica in state NotStarted, configured sync or
// async per mode.
func (m *Master) RegisterReplica(id string, mode ReplicaMode) *ReplicaInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &ReplicaInfo{ID: id, Mode: mode, state: StateNotStarted}
	m.replicas[id] = r
	return r
}

// UnregisterReplica removes a replica entirely (state NotUsed).
func (m *Master) UnregisterReplica(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.replicas, id)
}

// Replica returns the tracked state for id, if registered.
func (m *Master) Replica(id string) (*ReplicaInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.replicas[id]
	return r, ok
}

// Replicas returns every registered replica's info.
func (m *Master) Replicas() []*ReplicaInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ReplicaInfo, 0, len(m.replicas))
	for _, r := range m.replicas {
		out = append(out, r)
	}
	return out
}

// OnHeartbeat advances a replica's state and applied_version on receipt
// of a heartbeat/ack message (spec.md §4.8 "Transitions"). The first
// heartbeat after connecting moves Disconnected/NotStarted to
// ConnectedPendingSync; once Aligned, the replica advances to its
// configured steady state (ConnectedSync or ConnectedAsync).
func (m *Master) OnHeartbeat(id string, applied ids.Version, committed ids.Version) error {
	m.mu.RLock()
	r, ok := m.replicas[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("replica %q is not registered", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.appliedVersion = applied
	r.lastHeartbeat = time.Now()

	switch r.state {
	case StateNotStarted, StateDisconnected:
		r.state = StateConnectedPendingSync
	}

	if r.state == StateConnectedPendingSync && applied >= committed-minVersion(committed, ids.Version(AlignmentTolerance)) {
		if r.Mode == ModeSync {
			r.state = StateConnectedSync
		} else {
			r.state = StateConnectedAsync
		}
	}
	return nil
}

func minVersion(a, b ids.Version) ids.Version {
	if b > a {
		return a
	}
	return b
}

// MarkDisconnected demotes a replica to Disconnected, e.g. after a
// heartbeat timeout or socket error.
func (m *Master) MarkDisconnected(id string) {
	m.mu.RLock()
	r, ok := m.replicas[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	r.mu.Lock()
	r.state = StateDisconnected
	r.mu.Unlock()
}

// Ship sends rec to every registered replica via the configured
// Transport. Errors from individual replicas are collected but do not
// stop shipping to the others — a single unreachable async replica must
// never block the rest of the fleet.
func (m *Master) Ship(ctx context.Context, rec ShippedRecord) map[string]error {
	m.mu.RLock()
	replicaIDs := make([]string, 0, len(m.replicas))
	for id := range m.replicas {
		replicaIDs = append(replicaIDs, id)
	}
	m.mu.RUnlock()

	errsByReplica := make(map[string]error)
	for _, id := range replicaIDs {
		if err := m.cfg.Transport.Send(ctx, id, rec); err != nil {
			errsByReplica[id] = err
			m.MarkDisconnected(id)
		}
	}
	return errsByReplica
}

// WaitForSync blocks until every ModeSync replica's applied_version
// reaches version, or until cfg.SyncTimeout elapses. A timeout returns a
// Communication.Timeout error and the caller (internal/txn's Durability
// hook wiring, via internal/engine) aborts the in-flight commit —
// spec.md §8 scenario 3. Async replicas are never waited on.
func (m *Master) WaitForSync(ctx context.Context, version ids.Version) error {
	deadline := time.Now().Add(m.cfg.SyncTimeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if m.allSyncReplicasCaughtUp(version) {
			return nil
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.KindCommunication, errs.SubTimeout, "context canceled waiting for sync replicas", ctx.Err())
		case now := <-ticker.C:
			if now.After(deadline) {
				return errs.New(errs.KindCommunication, errs.SubTimeout, "sync replica did not acknowledge before timeout")
			}
		}
	}
}

func (m *Master) allSyncReplicasCaughtUp(version ids.Version) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.replicas {
		if r.Mode != ModeSync {
			continue
		}
		r.mu.RLock()
		caughtUp := r.state == StateConnectedSync && r.appliedVersion >= version
		r.mu.RUnlock()
		if !caughtUp {
			return false
		}
	}
	return true
}
