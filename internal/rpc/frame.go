// Package rpc implements the engine's bespoke chunked binary transport: a
// length/CRC-free but header-framed wire protocol used instead of a
// generic RPC framework, since the transport must coalesce small messages
// and reassemble large ones across chunk boundaries without ever copying
// a whole message into one contiguous socket write.
package rpc

import (
	"encoding/binary"
	"io"
	"sync/atomic"
)

// HeaderSize is the fixed size of a chunk header: chunk_size (4) +
// header_version (4) + message_id (8) + flags (1).
const HeaderSize = 4 + 4 + 8 + 1

// CurrentHeaderVersion is the only header_version this build emits or
// accepts. A connection that sees any other value is closed.
const CurrentHeaderVersion uint32 = 1

// SmallChunkSize and LargeChunkSize are the two chunk size classes a
// sender chooses between. A message that fits a single small chunk is
// sent as one; anything larger is split across large chunks (the
// promoted-first-chunk rule never leaves a message straddling a small
// chunk and a large one).
const (
	SmallChunkSize = 4096
	LargeChunkSize = 64 * 1024
)

const (
	maxSmallPayload = SmallChunkSize - HeaderSize
	maxLargePayload = LargeChunkSize - HeaderSize
)

// Chunk flags.
const (
	FlagFirst byte = 1 << 0
	FlagLast  byte = 1 << 1
)

const (
	msgIDDirectionBit = 63
	msgIDCoreShift    = 50
	msgIDCoreBits     = 13
	msgIDCoreMask     = (uint64(1) << msgIDCoreBits) - 1
	msgIDCounterMask  = (uint64(1) << msgIDCoreShift) - 1
)

// ChunkHeader is the 17-byte header prefixing every chunk on the wire.
type ChunkHeader struct {
	ChunkSize     uint32
	HeaderVersion uint32
	MessageID     uint64
	Flags         byte
}

// IsFirst reports whether this chunk begins a message.
func (h ChunkHeader) IsFirst() bool { return h.Flags&FlagFirst != 0 }

// IsLast reports whether this chunk ends a message.
func (h ChunkHeader) IsLast() bool { return h.Flags&FlagLast != 0 }

// IsSole reports whether this chunk is both the first and only chunk.
func (h ChunkHeader) IsSole() bool { return h.IsFirst() && h.IsLast() }

// EncodeChunkHeader writes h's wire representation to w.
func EncodeChunkHeader(w io.Writer, h ChunkHeader) error {
	var b [HeaderSize]byte
	binary.LittleEndian.PutUint32(b[0:4], h.ChunkSize)
	binary.LittleEndian.PutUint32(b[4:8], h.HeaderVersion)
	binary.LittleEndian.PutUint64(b[8:16], h.MessageID)
	b[16] = h.Flags
	_, err := w.Write(b[:])
	return err
}

// DecodeChunkHeader reads one chunk header from r. A true io.EOF (zero
// bytes read at a clean connection boundary) is returned unchanged so
// callers can distinguish a graceful close from a corrupt partial header.
func DecodeChunkHeader(r io.Reader) (ChunkHeader, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return ChunkHeader{}, err
	}
	return ChunkHeader{
		ChunkSize:     binary.LittleEndian.Uint32(b[0:4]),
		HeaderVersion: binary.LittleEndian.Uint32(b[4:8]),
		MessageID:     binary.LittleEndian.Uint64(b[8:16]),
		Flags:         b[16],
	}, nil
}

// NewMessageID packs a direction bit, originating core id, and per-core
// counter into a 64-bit message id (spec.md §4.5). fromServer sets bit 63;
// core occupies bits 50-62 (0..8191); counter occupies bits 0-49.
func NewMessageID(fromServer bool, core uint16, counter uint64) uint64 {
	var id uint64
	if fromServer {
		id |= uint64(1) << msgIDDirectionBit
	}
	id |= (uint64(core) & msgIDCoreMask) << msgIDCoreShift
	id |= counter & msgIDCounterMask
	return id
}

// MessageIDFromServer reports the direction bit of a message id.
func MessageIDFromServer(id uint64) bool {
	return id&(uint64(1)<<msgIDDirectionBit) != 0
}

// MessageIDCore extracts the originating core id from a message id.
func MessageIDCore(id uint64) uint16 {
	return uint16((id >> msgIDCoreShift) & msgIDCoreMask)
}

// MessageIDCounter extracts the per-core counter from a message id.
func MessageIDCounter(id uint64) uint64 {
	return id & msgIDCounterMask
}

// Chunk pairs a decoded header with its payload bytes.
type Chunk struct {
	Header  ChunkHeader
	Payload []byte
}

// SplitMessage frames payload as a sequence of chunks carrying id. A
// payload that fits within a single small chunk is sent as one sole
// chunk; anything larger is split across large chunks only — the
// promoted-first-chunk rule means a message that needs more than one
// chunk is never started as a small chunk and then continued as a large
// one, so the wire never fragments a message that could have fit a
// single frame.
func SplitMessage(id uint64, payload []byte) []Chunk {
	if len(payload) <= maxSmallPayload {
		return []Chunk{{
			Header: ChunkHeader{
				ChunkSize:     uint32(HeaderSize + len(payload)),
				HeaderVersion: CurrentHeaderVersion,
				MessageID:     id,
				Flags:         FlagFirst | FlagLast,
			},
			Payload: payload,
		}}
	}

	var chunks []Chunk
	remaining := payload
	for first := true; len(remaining) > 0 || first; first = false {
		n := maxLargePayload
		if n > len(remaining) {
			n = len(remaining)
		}
		part := remaining[:n]
		remaining = remaining[n:]

		var flags byte
		if first {
			flags |= FlagFirst
		}
		if len(remaining) == 0 {
			flags |= FlagLast
		}
		chunks = append(chunks, Chunk{
			Header: ChunkHeader{
				ChunkSize:     uint32(HeaderSize + len(part)),
				HeaderVersion: CurrentHeaderVersion,
				MessageID:     id,
				Flags:         flags,
			},
			Payload: part,
		})
	}
	return chunks
}

// MessageIDAllocator hands out monotonically increasing message ids for
// one originating core, mirroring ids.SequenceAllocator's atomic
// fetch-and-increment idiom.
type MessageIDAllocator struct {
	core       uint16
	fromServer bool
	counter    uint64
}

// NewMessageIDAllocator builds an allocator for a given core slot.
// fromServer distinguishes client-originated ids from server-originated
// ones per spec.md §4.5.
func NewMessageIDAllocator(core uint16, fromServer bool) *MessageIDAllocator {
	return &MessageIDAllocator{core: core, fromServer: fromServer}
}

// Next returns the next message id for this core. Counters start at 1 so
// that id 0 — reserved by spec.md §4.5 — is never handed out.
func (a *MessageIDAllocator) Next() uint64 {
	c := atomic.AddUint64(&a.counter, 1)
	return NewMessageID(a.fromServer, a.core, c)
}
