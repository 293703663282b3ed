// Package admin implements the node-administration surface: the
// operations an operator (or the demo CLI) performs against a running
// node — inspecting cluster configuration and node state, applying a
// persistence descriptor, updating the installed assembly bundle,
// switching write roles, and adjusting trace verbosity. Each operation
// calls the owning subsystem directly (topology registry, persistence
// manager, assembly manager, electors, telemetry); none of them runs
// inside a txn.Manager transaction. Mirrors the teacher's
// pkg/server/handlers/admin.go but generalized from read-only database stats to the full administration
// surface spec.md §4.9 describes.
package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/persist"
	"github.com/heliumdb/helium/internal/replication"
	"github.com/heliumdb/helium/internal/telemetry"
	"github.com/heliumdb/helium/internal/topology"
	"github.com/heliumdb/helium/internal/txn"
)

// Service wires every engine-level subsystem an admin operation touches.
// It holds no state of its own beyond what those subsystems already own.
type Service struct {
	NodeID string

	Topology   *topology.Registry
	Txn        *txn.Manager
	Assemblies *descriptor.AssemblyManager
	Persist    *persist.Manager
	Master     *replication.Master
	Elector    *replication.Elector
	Global     *replication.GlobalElector

	StartTime time.Time
}

// NodeState is the snapshot "get node state" reports.
type NodeState struct {
	NodeID          string
	Uptime          time.Duration
	CommittedVersion uint64
	LocalWriteRole  replication.LocalWriteRole
	GlobalWriteRole replication.GlobalWriteRole
	WriteMaster     bool
	Replicas        []ReplicaState
	AssemblyVersion string
	ComponentLevels map[string]telemetry.Level
}

// ReplicaState is one replica's status as reported to an operator.
type ReplicaState struct {
	ID              string
	Mode            string
	State           string
	AppliedVersion  uint64
}

// GetNodeState reports this node's current status (spec.md §4.9 "get node
// state").
func (s *Service) GetNodeState() NodeState {
	var local replication.LocalWriteRole
	if s.Elector != nil {
		local = s.Elector.Role()
	}
	var global replication.GlobalWriteRole
	if s.Global != nil {
		global = s.Global.Role()
	}

	var replicas []ReplicaState
	if s.Master != nil {
		for _, r := range s.Master.Replicas() {
			replicas = append(replicas, ReplicaState{
				ID:             r.ID,
				Mode:           modeString(r.Mode),
				State:          r.State().String(),
				AppliedVersion: uint64(r.AppliedVersion()),
			})
		}
	}

	return NodeState{
		NodeID:           s.NodeID,
		Uptime:           time.Since(s.StartTime),
		CommittedVersion: uint64(s.Txn.CommittedVersion()),
		LocalWriteRole:   local,
		GlobalWriteRole:  global,
		WriteMaster:      replication.WriteMaster(local, global),
		Replicas:         replicas,
		AssemblyVersion:  s.Assemblies.Current().VersionGUID.String(),
		ComponentLevels:  telemetry.ComponentLevels(),
	}
}

func modeString(m replication.ReplicaMode) string {
	if m == replication.ModeSync {
		return "sync"
	}
	return "async"
}

// GetClusterConfiguration reports the installed topology (spec.md §4.9
// "get cluster configuration").
func (s *Service) GetClusterConfiguration() (topology.LocalWriteCluster, topology.GlobalWriteCluster, error) {
	local, ok := s.Topology.Local()
	if !ok {
		return topology.LocalWriteCluster{}, topology.GlobalWriteCluster{}, errs.New(errs.KindNotFound, "", "no local write cluster configured")
	}
	global, _ := s.Topology.Global()
	return local, global, nil
}

// ApplyLocalWriteCluster installs a new LocalWriteCluster topology
// (spec.md §6 "cluster-config" create-ha/save).
func (s *Service) ApplyLocalWriteCluster(c topology.LocalWriteCluster) error {
	return s.Topology.SetLocal(c)
}

// ApplyGlobalWriteCluster installs a new GlobalWriteCluster topology.
func (s *Service) ApplyGlobalWriteCluster(g topology.GlobalWriteCluster) error {
	return s.Topology.SetGlobal(g)
}

// DeclarePersistenceDescriptor adds or replaces a log stream's
// configuration (spec.md §4.9 "apply persistence descriptor"). Subject
// to internal/persist's MaxLogStreams ceiling.
func (s *Service) DeclarePersistenceDescriptor(cfg persist.StreamConfig) error {
	_, err := s.Persist.DeclareStream(cfg)
	return err
}

// UpdateAssembliesResult reports the outcome of UpdateAssemblies.
type UpdateAssembliesResult struct {
	Changed     bool
	VersionGUID string
}

// UpdateAssemblies installs newAssemblies atop nextRegistry (spec.md
// §4.9 "update user assembly bundle"). The caller has already run the
// out-of-scope dynamic loader/verifier and built nextRegistry; this
// call only performs the atomic install and reports whether anything
// actually changed (spec.md §8: a zero-diff update is a no-op, so the
// version GUID is NOT regenerated when Changed is false).
func (s *Service) UpdateAssemblies(newAssemblies map[string][]byte, nextRegistry *descriptor.Registry) UpdateAssembliesResult {
	res := s.Assemblies.Update(newAssemblies, nextRegistry)
	return UpdateAssembliesResult{Changed: res.Changed, VersionGUID: res.VersionGUID.String()}
}

// GetAssemblies reports the currently installed assembly names and hashes.
func (s *Service) GetAssemblies() map[string]string {
	bundle := s.Assemblies.Current()
	out := make(map[string]string, len(bundle.Hashes))
	for name, h := range bundle.Hashes {
		out[name] = fmt.Sprintf("%x", h)
	}
	return out
}

// SetTraceLevel changes the process-wide trace verbosity (spec.md §4.9
// "set trace level").
func (s *Service) SetTraceLevel(l telemetry.Level) {
	telemetry.SetLevel(l)
}

// SetUserTraceLevel overrides one component's trace verbosity (spec.md
// §4.9 "user trace level"). The global level still filters that
// component's events, so the override cannot make it more verbose than
// the global level.
func (s *Service) SetUserTraceLevel(component string, l telemetry.Level) {
	telemetry.SetComponentLevel(component, l)
}

// BecomePrimary attempts to promote this node to LocalWritePrimary,
// consulting the witness and (if unreachable) the peer's confirmed view
// (spec.md §4.9 "become primary", §8's split-brain scenario).
func (s *Service) BecomePrimary(ctx context.Context, peer replication.PeerView) error {
	return s.Elector.TryBecomePrimary(ctx, peer)
}

// BecomeStandby demotes this node to LocalWriteStandby.
func (s *Service) BecomeStandby() {
	s.Elector.Failover()
}

// BecomePrimarySite promotes this site to GlobalWritePrimarySite. force
// overrides the split-brain refusal, requiring explicit operator
// confirmation (spec.md §8: "operation fails with Cluster.SplitBrainRisk
// absent confirmation").
func (s *Service) BecomePrimarySite(force bool) error {
	return s.Global.BecomePrimarySite(force)
}

// BecomeStandbySite demotes this site to GlobalWriteStandbySite.
func (s *Service) BecomeStandbySite() {
	s.Global.BecomeStandbySite()
}
