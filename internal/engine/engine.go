// Package engine wires every subsystem package into one running node:
// schema registry, object store, transaction manager, write-ahead log
// and snapshots, chunked RPC transport, replication, cluster topology,
// and the administration surface. Grounded on the teacher's
// pkg/database/database.go Open/wiring shape, generalized from a
// single-process embedded store to a replicated, administered node.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heliumdb/helium/internal/admin"
	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/ids"
	"github.com/heliumdb/helium/internal/persist"
	"github.com/heliumdb/helium/internal/replication"
	"github.com/heliumdb/helium/internal/rpc"
	"github.com/heliumdb/helium/internal/store"
	"github.com/heliumdb/helium/internal/telemetry"
	"github.com/heliumdb/helium/internal/topology"
	"github.com/heliumdb/helium/internal/txn"
)

// Config configures one node.
type Config struct {
	NodeID string

	DataDir  string
	RPCAddr  string
	HTTPAddr string

	SnapshotCron string // empty disables scheduled snapshots
	GCCron       string // empty disables scheduled GC sweeps

	PeerID  string
	Witness replication.Witness

	SyncReplicaTimeout time.Duration
}

// DefaultConfig fills in the standard execution/administration ports and
// a reasonable snapshot/GC cadence.
func DefaultConfig(nodeID, dataDir string) Config {
	return Config{
		NodeID:             nodeID,
		DataDir:            dataDir,
		RPCAddr:            fmt.Sprintf(":%d", topology.DefaultExecutionPort),
		HTTPAddr:           fmt.Sprintf(":%d", topology.DefaultAdministrationPort),
		SnapshotCron:       "0 */10 * * * *",
		GCCron:             "0 */5 * * * *",
		SyncReplicaTimeout: 5 * time.Second,
	}
}

// Engine is one running node: every subsystem plus the goroutines and
// listeners that make it reachable.
type Engine struct {
	cfg Config

	Assemblies *descriptor.AssemblyManager
	Store      *store.Store
	Indexes    *txn.IndexManager
	Txn        *txn.Manager
	GC         *store.GC
	Persist    *persist.Manager
	Scheduler  *persist.Scheduler
	Topology   *topology.Registry
	Master     *replication.Master
	Elector    *replication.Elector
	Global     *replication.GlobalElector
	RPCServer  *rpc.Server
	Admin      *admin.Service
	AdminHTTP  *admin.Handler

	transport *replicaTransport
	httpSrv   *http.Server

	mu      sync.Mutex
	running bool
}

// replicaTransport ships log records to peer replicas over the same
// chunked RPC transport clients use, dialing a persistent Conn per
// replica and issuing a Request against the ReplicationServiceName
// service. The receiving engine's handleShippedRecord applies the
// record through the same recovery-style path used at startup, since a
// shipped record, like a replayed one, already committed elsewhere.
type replicaTransport struct {
	dispatcher *rpc.Dispatcher
	dial       func(replicaID string) (net.Conn, error)

	mu    sync.Mutex
	conns map[string]*rpc.Conn
}

func newReplicaTransport(dispatcher *rpc.Dispatcher, dial func(replicaID string) (net.Conn, error)) *replicaTransport {
	return &replicaTransport{dispatcher: dispatcher, dial: dial, conns: make(map[string]*rpc.Conn)}
}

func (t *replicaTransport) connFor(replicaID string) (*rpc.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[replicaID]; ok {
		return c, nil
	}
	nc, err := t.dial(replicaID)
	if err != nil {
		return nil, errs.Wrap(errs.KindCommunication, errs.SubTimeout, "dial replica", err)
	}
	c := rpc.NewConn(nc, 0, false, t.dispatcher)
	go c.Serve()
	t.conns[replicaID] = c
	return c, nil
}

// ReplicationServiceName is the RPC service a replica registers to
// receive shipped records.
const ReplicationServiceName = "Replication.Ship"

// Send implements replication.Transport by issuing a Request against
// the peer's Replication.Ship service.
func (t *replicaTransport) Send(ctx context.Context, replicaID string, rec replication.ShippedRecord) error {
	c, err := t.connFor(replicaID)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if _, err := persist.EncodeRecord(&buf, rec, false); err != nil {
		return err
	}
	_, err = c.Request(ctx, ReplicationServiceName, buf.Bytes())
	return err
}

// New builds and opens a node's storage, then wires every subsystem
// together and replays recovery, without starting any network listener
// (see Start).
func New(cfg Config) (*Engine, error) {
	assemblies := descriptor.NewAssemblyManager()
	st := store.NewStore()
	im := txn.NewIndexManager()
	txnMgr := txn.NewManager(st, im)

	persistMgr, err := persist.NewManager(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	scheduler := persist.NewScheduler()
	gc := store.NewGC(st, txnMgr.MinReadVersion)

	topo := topology.NewRegistry()
	rpcServer := rpc.NewServer()

	dial := func(replicaID string) (net.Conn, error) {
		local, ok := topo.Local()
		if !ok {
			return nil, errs.New(errs.KindConfiguration, "", "no local write cluster configured; cannot dial a replica")
		}
		peer, err := local.Peer(replicaID)
		if err != nil {
			return nil, err
		}
		return net.Dial("tcp", peer.Endpoints.Execution)
	}
	transport := newReplicaTransport(rpcServer.Dispatcher, dial)

	master := replication.NewMaster(replication.MasterConfig{
		Source:      persistMgr.Main(),
		Transport:   transport,
		SyncTimeout: cfg.SyncReplicaTimeout,
	})

	var elector *replication.Elector
	if cfg.Witness != nil {
		elector = replication.NewElector(cfg.NodeID, cfg.PeerID, cfg.Witness)
	}
	global := replication.NewGlobalElector(replication.Cluster{
		SplitBrainRisk: func() bool { return false },
	})

	e := &Engine{
		cfg:        cfg,
		Assemblies: assemblies,
		Store:      st,
		Indexes:    im,
		Txn:        txnMgr,
		GC:         gc,
		Persist:    persistMgr,
		Scheduler:  scheduler,
		Topology:   topo,
		Master:     master,
		Elector:    elector,
		Global:     global,
		RPCServer:  rpcServer,
		transport:  transport,
	}

	txnMgr.Durability = e.durability

	rpcServer.Registry.Register(ReplicationServiceName, e.handleShippedRecord)

	svc := &admin.Service{
		NodeID:     cfg.NodeID,
		Topology:   topo,
		Txn:        txnMgr,
		Assemblies: assemblies,
		Persist:    persistMgr,
		Master:     master,
		Elector:    elector,
		Global:     global,
		StartTime:  time.Now(),
	}
	e.Admin = svc
	admin.RegisterRPC(rpcServer.Registry, svc)

	httpHandler, err := admin.NewHandler(svc, admin.DefaultHTTPConfig())
	if err != nil {
		return nil, err
	}
	e.AdminHTTP = httpHandler

	if err := e.recover(); err != nil {
		return nil, err
	}

	return e, nil
}

// Registry returns the class/index schema of the currently installed
// assembly bundle, the snapshot every new transaction should begin
// against.
func (e *Engine) Registry() *descriptor.Registry {
	return e.Assemblies.Current().Registry
}

// durability is the txn.Manager.Durability hook: append the commit's
// writes to the main log stream, fsync, ship to replicas, and wait on
// the configured write concern before letting the commit return.
func (e *Engine) durability(commitVersion ids.Version, writes []txn.ObjectChange) error {
	rec := persist.Record{CommitVersion: commitVersion, Writes: make([]persist.ChangeRecord, len(writes))}
	for i, w := range writes {
		rec.Writes[i] = persist.ChangeRecord{
			Class:      w.Class,
			ObjectID:   w.ObjectID,
			Op:         persist.Op(w.Op),
			Kinds:      propKinds(e.Registry(), w.Class, len(w.Properties)),
			Properties: w.Properties,
		}
	}

	main := e.Persist.Main()
	if _, err := main.Append(rec); err != nil {
		return err
	}
	if err := main.Flush(); err != nil {
		return err
	}

	e.Master.Ship(context.Background(), rec)

	wc := replication.DefaultWriteConcern().WithTimeout(e.cfg.SyncReplicaTimeout)
	_, err := wc.Await(context.Background(), e.Master, commitVersion)
	return err
}

// propKinds looks up each property's declared kind from the live class
// descriptor so a log record is self-describing, per the ChangeRecord
// contract. A class that can no longer be resolved (should not happen
// for a write just accepted against the current assembly) yields zero
// kinds, which simply makes the record untyped on replay.
func propKinds(registry *descriptor.Registry, class ids.ClassID, count int) []descriptor.PropKind {
	kinds := make([]descriptor.PropKind, count)
	desc, err := registry.Class(class)
	if err != nil {
		return kinds
	}
	for i := range kinds {
		if i < len(desc.Properties) {
			kinds[i] = desc.Properties[i].Kind
		}
	}
	return kinds
}

// recover loads the latest snapshot (if any) and replays every log
// record committed after it, advancing the commit-version counter to
// match: load latest snapshot, replay log records with commit_version
// greater than the snapshot's, advance committed_version as each is
// applied.
func (e *Engine) recover() error {
	snapDir := filepath.Join(e.cfg.DataDir, "snapshot", "main")
	snap, ok, err := persist.LoadLatestSnapshot(snapDir)
	if err != nil {
		return err
	}
	registry := e.Registry()

	if ok {
		for _, w := range snap.Writes {
			if err := e.Txn.Recover(registry, changeRecordToObjectChange(w), snap.CommitVersion); err != nil {
				return err
			}
		}
	}

	records, err := e.Persist.Main().Replay()
	if err != nil {
		return err
	}
	for _, rec := range records {
		if ok && rec.CommitVersion <= snap.CommitVersion {
			continue
		}
		for _, w := range rec.Writes {
			if err := e.Txn.Recover(registry, changeRecordToObjectChange(w), rec.CommitVersion); err != nil {
				return err
			}
		}
	}
	return nil
}

func changeRecordToObjectChange(w persist.ChangeRecord) txn.ObjectChange {
	return txn.ObjectChange{
		Class:      w.Class,
		ObjectID:   w.ObjectID,
		Op:         txn.Op(w.Op),
		Properties: w.Properties,
	}
}

// handleShippedRecord is the Replication.Ship RPC handler a replica
// registers to receive records shipped by its master.
func (e *Engine) handleShippedRecord(ctx context.Context, payload []byte) ([]byte, error) {
	rec, _, err := persist.DecodeRecord(bytes.NewReader(payload), false)
	if err != nil {
		return nil, err
	}
	registry := e.Registry()
	for _, w := range rec.Writes {
		if err := e.Txn.Recover(registry, changeRecordToObjectChange(w), rec.CommitVersion); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// Start begins serving RPC and HTTP traffic and, if configured, the
// scheduled snapshot/GC cadence. Neither call blocks; call Shutdown to
// stop.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errs.New(errs.KindInvalidArgument, "", "engine already started")
	}
	e.running = true
	e.mu.Unlock()

	ln, err := net.Listen("tcp", e.cfg.RPCAddr)
	if err != nil {
		return errs.Wrap(errs.KindCommunication, errs.SubAddressInUse, "listen rpc", err)
	}
	go func() {
		if err := e.RPCServer.Serve(ln); err != nil {
			telemetry.For("engine").Error().Err(err).Msg("rpc server stopped")
		}
	}()

	e.httpSrv = &http.Server{Addr: e.cfg.HTTPAddr, Handler: e.AdminHTTP}
	go func() {
		if err := e.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.For("engine").Error().Err(err).Msg("admin http server stopped")
		}
	}()

	if e.cfg.SnapshotCron != "" {
		if _, err := e.Scheduler.ScheduleSnapshot(e.cfg.SnapshotCron, e.takeSnapshot); err != nil {
			return err
		}
	}
	if e.cfg.GCCron != "" {
		if _, err := e.Scheduler.ScheduleGC(e.cfg.GCCron, func() { e.GC.Sweep() }); err != nil {
			return err
		}
	}
	e.Scheduler.Start()

	telemetry.For("engine").Info().Str("node_id", e.cfg.NodeID).Msg("node started")
	return nil
}

// takeSnapshot walks every live object chain and writes a fresh
// snapshot, then rotates the main log stream so replay on the next
// restart only has to cover what committed after this point.
func (e *Engine) takeSnapshot() {
	snap := persist.Snapshot{CommitVersion: e.Txn.CommittedVersion()}
	e.Store.ForEachChain(func(class ids.ClassID, id ids.ObjectID, head *atomic.Pointer[store.ObjectVersion]) {
		v := head.Load()
		if v == nil || v.Tombstone {
			return
		}
		snap.Writes = append(snap.Writes, persist.ChangeRecord{
			Class:      class,
			ObjectID:   id,
			Op:         persist.OpInsert,
			Kinds:      propKinds(e.Registry(), class, len(v.Properties)),
			Properties: v.Properties,
		})
	})

	snapDir := filepath.Join(e.cfg.DataDir, "snapshot", "main")
	if _, err := persist.WriteSnapshot(snapDir, snap); err != nil {
		telemetry.For("engine").Error().Err(err).Msg("snapshot failed")
		return
	}
	if err := e.Persist.Main().Rotate(); err != nil {
		telemetry.For("engine").Error().Err(err).Msg("log rotation after snapshot failed")
	}
}

// Shutdown stops the RPC/HTTP listeners and the scheduler, waiting for
// in-flight work to drain.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.Scheduler.Stop()
	e.RPCServer.Shutdown()
	if e.httpSrv != nil {
		return e.httpSrv.Shutdown(ctx)
	}
	return nil
}
