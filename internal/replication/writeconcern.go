package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/heliumdb/helium/internal/ids"
)

// WriteConcern describes how a commit's durability is determined once it
// reaches the primary. Unlike the teacher's WriteConcern (an arbitrary
// W interface{} quorum chosen per write), spec.md §4.8 fixes
// synchronous/asynchronous at cluster-configuration time per replica, so
// a write concern here just says whether *any* sync replica exists that
// the commit must wait for, and how long to wait. Grounded on
// pkg/replication/write_concern.go's Validate/WithTimeout idiom, trimmed
// of the majority-quorum machinery that design doesn't call for.
type WriteConcern struct {
	// RequireSync, if true, blocks the commit until every ModeSync
	// replica has acknowledged. If false, the commit returns as soon as
	// the primary's own log append succeeds (fire-and-forget to
	// replicas, the ModeAsync default).
	RequireSync bool

	// Timeout bounds how long the commit waits for sync replicas. Zero
	// means use the Master's configured SyncTimeout.
	Timeout time.Duration
}

// DefaultWriteConcern waits on any configured sync replicas using the
// Master's default timeout.
func DefaultWriteConcern() WriteConcern {
	return WriteConcern{RequireSync: true}
}

// UnacknowledgedWriteConcern never waits on replicas, even ones
// configured as sync — used by bulk-load style operations that accept
// the risk of losing acknowledgement on a primary crash.
func UnacknowledgedWriteConcern() WriteConcern {
	return WriteConcern{RequireSync: false}
}

// WithTimeout returns a copy of wc with Timeout set.
func (wc WriteConcern) WithTimeout(d time.Duration) WriteConcern {
	wc.Timeout = d
	return wc
}

// Validate rejects a negative timeout.
func (wc WriteConcern) Validate() error {
	if wc.Timeout < 0 {
		return fmt.Errorf("invalid write concern timeout: %v (must be >= 0)", wc.Timeout)
	}
	return nil
}

func (wc WriteConcern) String() string {
	if !wc.RequireSync {
		return "{sync:false}"
	}
	timeout := "default"
	if wc.Timeout > 0 {
		timeout = wc.Timeout.String()
	}
	return fmt.Sprintf("{sync:true, timeout:%s}", timeout)
}

// WriteResult reports what a commit's replication wait actually observed.
type WriteResult struct {
	SyncAcknowledged bool
	ElapsedTime      time.Duration
}

func (wr WriteResult) String() string {
	return fmt.Sprintf("{sync_acked:%v, time:%v}", wr.SyncAcknowledged, wr.ElapsedTime)
}

// Await applies wc to a commit at version: if wc requires sync
// acknowledgement, it blocks on m.WaitForSync (bounded by wc.Timeout, or
// the Master's configured default if zero); otherwise it returns
// immediately. Grounded on WriteWithConcern's acknowledgement-waiting
// shape, replacing its node-count quorum with the sync/async split.
func (wc WriteConcern) Await(ctx context.Context, m *Master, version ids.Version) (WriteResult, error) {
	start := time.Now()
	if err := wc.Validate(); err != nil {
		return WriteResult{}, err
	}
	if !wc.RequireSync {
		return WriteResult{SyncAcknowledged: false, ElapsedTime: time.Since(start)}, nil
	}

	waitCtx := ctx
	if wc.Timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, wc.Timeout)
		defer cancel()
	}
	if err := m.WaitForSync(waitCtx, version); err != nil {
		return WriteResult{SyncAcknowledged: false, ElapsedTime: time.Since(start)}, err
	}
	return WriteResult{SyncAcknowledged: true, ElapsedTime: time.Since(start)}, nil
}
