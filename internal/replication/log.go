// Package replication implements log shipping from a primary to its
// replicas, the per-replica connection state machine, write concern,
// read preference, and witness-arbitrated local-write election.
package replication

import (
	"context"

	"github.com/heliumdb/helium/internal/persist"
)

// ShippedRecord is one committed log record in flight to a replica,
// mirroring persist.Record's shape (commit_version, tx_id, writes) since
// replication ships exactly what the primary's own WAL already holds —
// grounded on pkg/replication/oplog.go's OplogEntry, generalized from a
// document-oriented entry to the same self-describing ChangeRecord shape
// internal/persist already defines, so a replica can apply a shipped
// record through the identical replay path used for local log recovery.
type ShippedRecord = persist.Record

// Transport abstracts how a shipped record actually reaches a replica,
// so internal/replication never imports internal/rpc directly (the
// engine wiring layer supplies the transport, closing over an rpc.Conn).
type Transport interface {
	Send(ctx context.Context, replicaID string, rec ShippedRecord) error
}

// Source is what a Master ships from: the primary's own log stream.
// Narrowed to the one method replication needs so tests can supply a
// fake without standing up a whole persist.Stream.
type Source interface {
	Replay() ([]persist.Record, error)
}

var _ Source = (*persist.Stream)(nil)
