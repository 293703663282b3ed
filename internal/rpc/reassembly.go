package rpc

import (
	"sync"
	"time"
)

// awaiter accumulates chunks for one in-flight message_id.
type awaiter struct {
	buf        []byte
	chunkCount int
	lastChunk  time.Time
}

// Reassembler holds the per-connection message_id -> awaiter chain
// described in spec.md §4.5: non-first chunks attach to an existing
// awaiter, first chunks publish a new one. queuedChunks approximates the
// maxQueuedChunks backpressure bound by counting chunks buffered across
// all messages that have not yet completed.
type Reassembler struct {
	mu           sync.Mutex
	pending      map[uint64]*awaiter
	queuedChunks int
	maxQueued    int
	chunkTimeout time.Duration
}

// NewReassembler builds a reassembler. maxQueuedChunks bounds how many
// chunks may sit buffered before Accept reports the connection should
// pause reading; chunkTimeout bounds how long an incomplete message may
// sit idle before PruneExpired reports it as abandoned.
func NewReassembler(maxQueuedChunks int, chunkTimeout time.Duration) *Reassembler {
	return &Reassembler{
		pending:      make(map[uint64]*awaiter),
		maxQueued:    maxQueuedChunks,
		chunkTimeout: chunkTimeout,
	}
}

// Accept attaches one chunk to its message. It returns the reassembled
// payload and true once the last chunk of a message has arrived, plus
// whether the queue is currently over its backpressure bound (the caller
// should pause reading from the socket until a subsequent call reports
// false again).
//
// A non-first chunk for an id with no known awaiter (e.g. one that
// PruneExpired already dropped) is discarded rather than treated as a new
// message.
func (r *Reassembler) Accept(h ChunkHeader, payload []byte) (msg []byte, complete bool, overBudget bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	aw, ok := r.pending[h.MessageID]
	if h.IsFirst() {
		aw = &awaiter{}
		r.pending[h.MessageID] = aw
	} else if !ok {
		return nil, false, r.queuedChunks >= r.maxQueued
	}

	aw.buf = append(aw.buf, payload...)
	aw.chunkCount++
	aw.lastChunk = time.Now()
	r.queuedChunks++

	if h.IsLast() {
		delete(r.pending, h.MessageID)
		r.queuedChunks -= aw.chunkCount
		return aw.buf, true, r.queuedChunks >= r.maxQueued
	}
	return nil, false, r.queuedChunks >= r.maxQueued
}

// PruneExpired removes and returns the ids of messages whose most recent
// chunk is older than chunkTimeout — "a chunk timeout aborts the message"
// per spec.md §4.5.
func (r *Reassembler) PruneExpired(now time.Time) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []uint64
	for id, aw := range r.pending {
		if now.Sub(aw.lastChunk) > r.chunkTimeout {
			expired = append(expired, id)
			r.queuedChunks -= aw.chunkCount
			delete(r.pending, id)
		}
	}
	return expired
}
