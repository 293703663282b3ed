package ids

import (
	"sync"
	"unsafe"
)

// sizeClasses are the fixed size classes the slab allocator serves,
// per spec.md §4.4.
var sizeClasses = [...]int{16, 32, 64, 96, 128, 192, 256, 384, 512, 768, 1024, 2048, 4096, 8192}

// MaxSlabSize is the largest request the slab path serves; anything larger
// falls through to the heap allocator.
const MaxSlabSize = 8192

// blockSize is the size of the backing block each per-shard free list
// carves size-class chunks from.
const blockSize = 1 << 20 // 1 MiB

func classFor(size int) (class, classIdx int) {
	for i, c := range sizeClasses {
		if size <= c {
			return c, i
		}
	}
	return 0, -1
}

// freeListShard is one size class's per-shard free list of previously
// freed chunks plus a cursor into the current backing block for
// not-yet-carved space.
type freeListShard struct {
	mu    sync.Mutex
	free  [][]byte
	block []byte // remaining uncarved space in the current backing block
}

// Slab is a per-core (striped) slab allocator: NumShards independent
// instances, each owning one freeListShard per size class, so concurrent
// allocations on different shards never contend. A shard that accumulates
// more than drainThreshold free chunks for a class donates the surplus to
// a class-wide shared pool so one hot shard cannot starve the others.
type Slab struct {
	shards         [NumShards][len(sizeClasses)]freeListShard
	shared         [len(sizeClasses)]sharedClassPool
	drainThreshold int
	heap           *Heap
}

type sharedClassPool struct {
	mu   sync.Mutex
	free [][]byte
}

// NewSlab constructs a slab allocator backed by the given large-block heap
// for requests above MaxSlabSize.
func NewSlab(heap *Heap, drainThreshold int) *Slab {
	if drainThreshold <= 0 {
		drainThreshold = 64
	}
	return &Slab{drainThreshold: drainThreshold, heap: heap}
}

// Alloc returns a []byte of at least size bytes, rounded up to the next
// size class. shardHint selects the owning shard the way it does for
// StringTable.Intern. Requests larger than MaxSlabSize go to the heap.
func (s *Slab) Alloc(shardHint, size int) []byte {
	classSize, classIdx := classFor(size)
	if classIdx < 0 {
		return s.heap.Alloc(size)
	}
	shard := &s.shards[shardFor(shardHint)][classIdx]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	if n := len(shard.free); n > 0 {
		chunk := shard.free[n-1]
		shard.free = shard.free[:n-1]
		return chunk[:classSize]
	}
	if shared := s.claimShared(classIdx); shared != nil {
		return shared[:classSize]
	}
	if len(shard.block) < classSize {
		shard.block = make([]byte, blockSize)
	}
	chunk := shard.block[:classSize:classSize]
	shard.block = shard.block[classSize:]
	return chunk
}

func (s *Slab) claimShared(classIdx int) []byte {
	pool := &s.shared[classIdx]
	pool.mu.Lock()
	defer pool.mu.Unlock()
	n := len(pool.free)
	if n == 0 {
		return nil
	}
	chunk := pool.free[n-1]
	pool.free = pool.free[:n-1]
	return chunk
}

// Free returns chunk to the shard it was allocated from. size must be the
// original request size passed to Alloc so the same class is recomputed.
func (s *Slab) Free(shardHint, size int, chunk []byte) {
	_, classIdx := classFor(size)
	if classIdx < 0 {
		s.heap.Free(chunk)
		return
	}
	shard := &s.shards[shardFor(shardHint)][classIdx]
	shard.mu.Lock()
	shard.free = append(shard.free, chunk)
	drain := len(shard.free) > s.drainThreshold
	var migrate [][]byte
	if drain {
		half := len(shard.free) / 2
		migrate = append(migrate, shard.free[:half]...)
		shard.free = shard.free[half:]
	}
	shard.mu.Unlock()

	if len(migrate) > 0 {
		pool := &s.shared[classIdx]
		pool.mu.Lock()
		pool.free = append(pool.free, migrate...)
		pool.mu.Unlock()
	}
}

// heapBlock is one entry in the heap's address-ordered free list.
type heapBlock struct {
	offset int
	size   int
}

// Heap is a general-purpose allocator for requests above MaxSlabSize. It
// uses first-fit over an address-ordered list of free blocks within a
// single backing arena, coalescing adjacent free blocks on Free, per
// spec.md §4.4. A production build would grow the arena on exhaustion;
// this implementation allocates a fixed arena sized at construction,
// matching the engine's "Critical.AllocatorExhausted" fatal-error path
// when it runs out.
type Heap struct {
	mu    sync.Mutex
	arena []byte
	free  []heapBlock // address-ordered, non-overlapping
	used  map[int]int // offset -> size, for Free without a size hint mismatch
}

// NewHeap constructs a heap allocator over a fixed-size arena.
func NewHeap(arenaSize int) *Heap {
	return &Heap{
		arena: make([]byte, arenaSize),
		free:  []heapBlock{{offset: 0, size: arenaSize}},
		used:  make(map[int]int),
	}
}

// Alloc reserves size bytes via first-fit and returns a slice into the
// arena. Returns nil if no block is large enough (caller should treat this
// as Critical.AllocatorExhausted).
func (h *Heap) Alloc(size int) []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, b := range h.free {
		if b.size < size {
			continue
		}
		offset := b.offset
		if b.size == size {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = heapBlock{offset: b.offset + size, size: b.size - size}
		}
		h.used[offset] = size
		return h.arena[offset : offset+size : offset+size]
	}
	return nil
}

// Free releases a block previously returned by Alloc, coalescing it with
// any adjacent free blocks.
func (h *Heap) Free(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	off := h.offsetOf(chunk)
	size, ok := h.used[off]
	if !ok {
		return
	}
	delete(h.used, off)
	h.insertFree(heapBlock{offset: off, size: size})
}

func (h *Heap) offsetOf(chunk []byte) int {
	// &chunk[0] - &arena[0], both within the same backing array.
	return int(uintptr(unsafe.Pointer(&chunk[0])) - uintptr(unsafe.Pointer(&h.arena[0])))
}

func (h *Heap) insertFree(b heapBlock) {
	i := 0
	for i < len(h.free) && h.free[i].offset < b.offset {
		i++
	}
	h.free = append(h.free, heapBlock{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = b

	// Coalesce with next.
	if i+1 < len(h.free) && h.free[i].offset+h.free[i].size == h.free[i+1].offset {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	// Coalesce with previous.
	if i > 0 && h.free[i-1].offset+h.free[i-1].size == h.free[i].offset {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}
