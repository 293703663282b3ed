package ids

import (
	"sync"
	"sync/atomic"
)

// NullHandle and EmptyHandle are the two reserved string handles.
const (
	NullHandle  StringHandle = 0
	EmptyHandle StringHandle = 1
)

// StringHandle is a reference-counted handle into the interned string
// table. A string-typed property stores a StringHandle rather than a Go
// string so that repeated values share one allocation.
type StringHandle uint32

// NumShards is the striping width for per-core state across this package:
// the interned string table, and (see slab.go) the slab allocator. A power
// of two keeps the modulo a mask.
const NumShards = 64

type stringEntry struct {
	value    string
	refcount int32
}

// stringShard owns a private slice of handle slots, a value->slot index
// for dedup, and its own free list, mirroring the per-shard-mutex layout
// in the teacher's sharded LRU cache but applied to ref-counted slot
// storage instead of cache entries.
type stringShard struct {
	mu       sync.Mutex
	slots    []stringEntry
	occupied []bool
	byValue  map[string]uint32
	freeList []uint32
}

// StringTable is the process-wide interned string table. Handle 0 and 1
// are reserved globally; all other handles are partitioned across shards
// by their low bits, so a shard's free list only ever recycles handles it
// originally allocated. A shard whose free list grows past drainThreshold
// trims its trailing free slots instead of hoarding them, returning that
// backing memory to the runtime rather than transferring slot numbers
// across shards (a slot index is only meaningful within its own shard's
// slice, so "donating to a shared pool" means shrinking, not relocating).
type StringTable struct {
	shards         [NumShards]stringShard
	drainThreshold int
}

// NewStringTable constructs an empty table. drainThreshold bounds how many
// free slots a shard accumulates before it trims its trailing free slots.
// Free slots are never moved between shards; there is no shared pool.
func NewStringTable(drainThreshold int) *StringTable {
	if drainThreshold <= 0 {
		drainThreshold = 256
	}
	t := &StringTable{drainThreshold: drainThreshold}
	return t
}

func shardFor(hint int) int {
	if hint < 0 {
		hint = -hint
	}
	return hint % NumShards
}

// Intern allocates (or reuses, if value already present in the shard) a
// handle for s, setting its refcount to 1 on fresh allocation or
// incrementing it on reuse. shardHint picks the owning shard; callers with
// a stable affinity (a connection id, a worker index) should reuse the
// same hint across calls to improve locality.
func (t *StringTable) Intern(shardHint int, s string) StringHandle {
	if s == "" {
		return EmptyHandle
	}
	idx := shardFor(shardHint)
	sh := &t.shards[idx]
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.byValue == nil {
		sh.byValue = make(map[string]uint32)
	}
	if slot, ok := sh.byValue[s]; ok {
		sh.slots[slot].refcount++
		return encodeHandle(idx, int(slot))
	}

	var slot int
	if n := len(sh.freeList); n > 0 {
		slot = int(sh.freeList[n-1])
		sh.freeList = sh.freeList[:n-1]
	} else {
		slot = len(sh.slots)
		sh.slots = append(sh.slots, stringEntry{})
		sh.occupied = append(sh.occupied, false)
	}

	sh.slots[slot] = stringEntry{value: s, refcount: 1}
	sh.occupied[slot] = true
	sh.byValue[s] = uint32(slot)
	return encodeHandle(idx, slot)
}

// Acquire increments the refcount of an already-interned handle (used when
// copying a property value into a new object version without re-hashing
// the string).
func (t *StringTable) Acquire(h StringHandle) {
	if h == NullHandle || h == EmptyHandle {
		return
	}
	shardIdx, slot := decodeHandle(h)
	sh := &t.shards[shardIdx]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if slot < len(sh.slots) && sh.occupied[slot] {
		sh.slots[slot].refcount++
	}
}

// Release decrements the refcount of h, returning the slot to the owning
// shard's free list once it reaches zero. If that shard's free list then
// exceeds drainThreshold, the shard trims its trailing free slots so the
// backing array shrinks back down rather than growing without bound.
func (t *StringTable) Release(h StringHandle) {
	if h == NullHandle || h == EmptyHandle {
		return
	}
	shardIdx, slot := decodeHandle(h)
	sh := &t.shards[shardIdx]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if slot >= len(sh.slots) || !sh.occupied[slot] {
		return
	}
	sh.slots[slot].refcount--
	if sh.slots[slot].refcount > 0 {
		return
	}
	delete(sh.byValue, sh.slots[slot].value)
	sh.occupied[slot] = false
	sh.slots[slot] = stringEntry{}
	sh.freeList = append(sh.freeList, uint32(slot))

	if len(sh.freeList) > t.drainThreshold {
		sh.trimTrailingFree()
	}
}

// trimTrailingFree drops any suffix of sh.slots that is entirely free,
// shrinking the shard's backing arrays and removing the corresponding
// entries from freeList.
func (sh *stringShard) trimTrailingFree() {
	end := len(sh.slots)
	for end > 0 && !sh.occupied[end-1] {
		end--
	}
	if end == len(sh.slots) {
		return
	}
	sh.slots = sh.slots[:end]
	sh.occupied = sh.occupied[:end]
	kept := sh.freeList[:0]
	for _, s := range sh.freeList {
		if int(s) < end {
			kept = append(kept, s)
		}
	}
	sh.freeList = kept
}

// Value returns the string content behind h. Ok is false for the reserved
// handles' non-obvious case (null has no content) or a freed handle.
func (t *StringTable) Value(h StringHandle) (string, bool) {
	switch h {
	case NullHandle:
		return "", false
	case EmptyHandle:
		return "", true
	}
	shardIdx, slot := decodeHandle(h)
	sh := &t.shards[shardIdx]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if slot >= len(sh.slots) || !sh.occupied[slot] {
		return "", false
	}
	return sh.slots[slot].value, true
}

// Refcount reports the current refcount of h, or 0 if freed/reserved.
func (t *StringTable) Refcount(h StringHandle) int32 {
	if h == NullHandle || h == EmptyHandle {
		return 0
	}
	shardIdx, slot := decodeHandle(h)
	sh := &t.shards[shardIdx]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if slot >= len(sh.slots) || !sh.occupied[slot] {
		return 0
	}
	return sh.slots[slot].refcount
}

// encodeHandle/decodeHandle pack (shard, slot) into the 32-bit handle
// space: low 6 bits select the shard (NumShards=64), the rest is the
// per-shard slot index, offset by handleBase so the reserved handles 0
// (null) and 1 (empty) never collide with a real (shard=0, slot=0) slot.
const handleBase = 2

func encodeHandle(shard, slot int) StringHandle {
	return StringHandle(uint32(slot)<<6|uint32(shard)) + handleBase
}

func decodeHandle(h StringHandle) (shard, slot int) {
	v := uint32(h) - handleBase
	return int(v & 0x3f), int(v >> 6)
}

// nextShardHint is a simple round-robin source for callers with no natural
// affinity of their own (e.g. a one-shot admin operation).
var nextShardHint uint64

// ShardHint returns a cheap, evenly distributed shard affinity value.
func ShardHint() int {
	return int(atomic.AddUint64(&nextShardHint, 1))
}
