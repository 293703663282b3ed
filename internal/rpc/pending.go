package rpc

import (
	"runtime"
	"sync"
	"time"

	"github.com/heliumdb/helium/internal/errs"
)

// result is what a pending request resolves to: either a response payload
// or a communication error (timeout, connection closed).
type result struct {
	payload []byte
	err     error
}

type pendingEntry struct {
	done     chan result
	deadline time.Time
}

type pendingShard struct {
	mu      sync.Mutex
	entries map[uint64]*pendingEntry
}

// PendingTable is the sender-side message_id -> awaiting-caller map.
// Entries are inserted by the sender and removed on response or timeout.
// It is sharded the way the teacher's ShardedLRUCache shards by key hash
// (power-of-two shard count, bitmask instead of modulo) — here the shard
// selector is the message id's own core bits, so requests originated by
// the same core never contend with another core's pending table.
type PendingTable struct {
	shards    []*pendingShard
	shardMask uint64
}

// NewPendingTable builds a table with a shard count rounded up to the
// next power of two of runtime.NumCPU(), so each CPU core's message ids
// land on their own shard under ordinary load.
func NewPendingTable() *PendingTable {
	n := nextPowerOfTwo(uint32(runtime.NumCPU()))
	shards := make([]*pendingShard, n)
	for i := range shards {
		shards[i] = &pendingShard{entries: make(map[uint64]*pendingEntry)}
	}
	return &PendingTable{shards: shards, shardMask: uint64(n - 1)}
}

func (t *PendingTable) shardFor(id uint64) *pendingShard {
	return t.shards[uint64(MessageIDCore(id))&t.shardMask]
}

// Register records that id is awaiting a response and returns the entry
// the caller blocks on. timeout is measured from this call.
func (t *PendingTable) Register(id uint64, timeout time.Duration) *pendingEntry {
	e := &pendingEntry{done: make(chan result, 1), deadline: time.Now().Add(timeout)}
	shard := t.shardFor(id)
	shard.mu.Lock()
	shard.entries[id] = e
	shard.mu.Unlock()
	return e
}

// Complete resolves a pending request with a response payload. It returns
// false if id had no registered entry (a response to an unknown or
// already-timed-out message id — spec.md §4.5 treats this as a
// connection-closing error, not a silent no-op, so callers must check it).
func (t *PendingTable) Complete(id uint64, payload []byte) bool {
	return t.resolve(id, result{payload: payload})
}

func (t *PendingTable) resolve(id uint64, res result) bool {
	shard := t.shardFor(id)
	shard.mu.Lock()
	e, ok := shard.entries[id]
	if ok {
		delete(shard.entries, id)
	}
	shard.mu.Unlock()
	if !ok {
		return false
	}
	e.done <- res
	return true
}

// ExpirePast fails and removes every entry whose deadline is before now,
// delivering a Communication/Timeout error to each waiting caller.
func (t *PendingTable) ExpirePast(now time.Time) {
	timeoutErr := errs.New(errs.KindCommunication, errs.SubTimeout, "no response before deadline")
	for _, shard := range t.shards {
		shard.mu.Lock()
		var expired []uint64
		for id, e := range shard.entries {
			if now.After(e.deadline) {
				expired = append(expired, id)
			}
		}
		for _, id := range expired {
			e := shard.entries[id]
			delete(shard.entries, id)
			e.done <- result{err: timeoutErr}
		}
		shard.mu.Unlock()
	}
}

// FailAll resolves every still-pending entry with err, used when the
// underlying connection is closed out from under the callers waiting on
// it.
func (t *PendingTable) FailAll(err error) {
	for _, shard := range t.shards {
		shard.mu.Lock()
		for id, e := range shard.entries {
			delete(shard.entries, id)
			e.done <- result{err: err}
		}
		shard.mu.Unlock()
	}
}

func nextPowerOfTwo(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
