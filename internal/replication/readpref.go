package replication

import (
	"fmt"
	"math/rand"

	"github.com/heliumdb/helium/internal/ids"
)

// ReadPreferenceMode determines where a read-only request is routed:
// the primary itself, or out to one of its replica children. Grounded
// on pkg/replication/read_preference.go's ReadPreferenceMode, trimmed to
// the cases that apply to a single LocalWriteCluster (no cross-site
// nearest-latency measurement, since spec.md's topology only ever routes
// reads within one cluster's primary and its replicas).
type ReadPreferenceMode int

const (
	ReadPrimary ReadPreferenceMode = iota
	ReadPrimaryPreferred
	ReadReplica
	ReadReplicaPreferred
)

func (m ReadPreferenceMode) String() string {
	switch m {
	case ReadPrimary:
		return "primary"
	case ReadPrimaryPreferred:
		return "primaryPreferred"
	case ReadReplica:
		return "replica"
	case ReadReplicaPreferred:
		return "replicaPreferred"
	default:
		return "unknown"
	}
}

// ReadPreference selects how a read is routed and how stale a replica
// may be before it is no longer eligible.
type ReadPreference struct {
	Mode ReadPreferenceMode

	// MaxStaleness bounds how far a replica's applied_version may trail
	// the primary's committed_version (in versions, not wall time — the
	// engine assigns monotonically increasing commit versions, so a
	// version gap is a precise staleness measure where the teacher's
	// seconds-based Lag was only an estimate). Zero means no limit.
	MaxStaleness uint64
}

func Primary() ReadPreference          { return ReadPreference{Mode: ReadPrimary} }
func PrimaryPreferred() ReadPreference { return ReadPreference{Mode: ReadPrimaryPreferred} }
func Replica() ReadPreference          { return ReadPreference{Mode: ReadReplica} }
func ReplicaPreferred() ReadPreference { return ReadPreference{Mode: ReadReplicaPreferred} }

func (rp ReadPreference) WithMaxStaleness(versions uint64) ReadPreference {
	rp.MaxStaleness = versions
	return rp
}

// Router selects a target replica (by ID, empty string meaning "the
// primary itself") for a read given a Master's current replica state
// and committed version. Grounded on ReadPreferenceSelector.SelectNode,
// replacing its health/role/latency NodeCandidate scan with the
// Master's own ReplicaInfo bookkeeping.
type Router struct {
	master *Master
}

func NewRouter(master *Master) *Router {
	return &Router{master: master}
}

// Select returns the replica ID to read from, or "" to read from the
// primary. An error means no node satisfying pref is currently
// available.
func (r *Router) Select(pref ReadPreference, committed ids.Version) (string, error) {
	switch pref.Mode {
	case ReadPrimary:
		return "", nil
	case ReadPrimaryPreferred:
		return "", nil
	case ReadReplica:
		return r.selectReplica(pref, committed)
	case ReadReplicaPreferred:
		id, err := r.selectReplica(pref, committed)
		if err == nil {
			return id, nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("unknown read preference mode: %v", pref.Mode)
	}
}

func (r *Router) selectReplica(pref ReadPreference, committed ids.Version) (string, error) {
	var eligible []string
	for _, info := range r.master.Replicas() {
		state := info.State()
		if state != StateConnectedSync && state != StateConnectedAsync {
			continue
		}
		if pref.MaxStaleness > 0 {
			applied := info.AppliedVersion()
			if committed > applied && uint64(committed-applied) > pref.MaxStaleness {
				continue
			}
		}
		eligible = append(eligible, info.ID)
	}
	if len(eligible) == 0 {
		return "", fmt.Errorf("no replica satisfies the requested read preference")
	}
	return eligible[rand.Intn(len(eligible))], nil
}
