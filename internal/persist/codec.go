package persist

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"

	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/ids"
	"github.com/klauspost/compress/s2"
)

// Op mirrors internal/txn.Op's three values without importing that
// package (internal/txn is the Durability hook's caller, and importing it
// from here would create a cycle: txn -> persist -> txn).
type Op uint8

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

// ChangeRecord is one object write within a Record, self-describing enough
// to replay without consulting the live schema: each property carries its
// own PropKind tag alongside the value (spec.md §4.6 log record fields).
type ChangeRecord struct {
	Class      ids.ClassID
	ObjectID   ids.ObjectID
	Op         Op
	Kinds      []descriptor.PropKind
	Properties []descriptor.PropValue
}

// Record is one committed transaction's durable log entry.
type Record struct {
	CommitVersion ids.Version
	TxnID         uint64
	Writes        []ChangeRecord
}

// EncodeRecord serializes rec as [length prefix][CRC32][payload], where
// payload is packed raw bytes or, if packed is true, s2-compressed bytes
// (spec.md §4.6: "packed-format streams compress the payload with a fast
// LZ-class codec" — klauspost/compress/s2 is exactly that). Framing is
// grounded on the teacher's pkg/storage/wal.go length-prefixed record
// shape, generalized to carry a CRC and an optional compression stage.
func EncodeRecord(w io.Writer, rec Record, packed bool) (int, error) {
	raw := marshalRecord(rec)

	payload := raw
	if packed {
		payload = s2.Encode(nil, raw)
	}

	crc := crc32.ChecksumIEEE(payload)

	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc)

	n1, err := w.Write(header)
	if err != nil {
		return n1, err
	}
	n2, err := w.Write(payload)
	return n1 + n2, err
}

// DecodeRecord reads one framed record back, verifying its CRC. Returns
// io.EOF cleanly at a file boundary with nothing left to read, and a
// non-nil error for any other malformed or torn record — the caller
// (Stream.Replay) treats any non-EOF error as "stop here and truncate".
func DecodeRecord(r io.Reader, packed bool) (Record, int, error) {
	header := make([]byte, 8)
	n, err := io.ReadFull(r, header)
	if err != nil {
		// A clean io.EOF (zero bytes read, right at a record boundary) is
		// the normal end of the log. Any other error — including
		// io.ErrUnexpectedEOF, a header partially present before the
		// stream ran out — means a torn record: propagate it so the
		// caller truncates back to the last good boundary.
		if err == io.EOF {
			return Record{}, n, io.EOF
		}
		return Record{}, n, errCorruptRecord
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	wantCRC := binary.LittleEndian.Uint32(header[4:8])

	payload := make([]byte, length)
	n2, err := io.ReadFull(r, payload)
	total := n + n2
	if err != nil {
		return Record{}, total, io.ErrUnexpectedEOF
	}

	if crc32.ChecksumIEEE(payload) != wantCRC {
		return Record{}, total, errCorruptRecord
	}

	raw := payload
	if packed {
		raw, err = s2.Decode(nil, payload)
		if err != nil {
			return Record{}, total, errCorruptRecord
		}
	}

	rec, err := unmarshalRecord(raw)
	if err != nil {
		return Record{}, total, err
	}
	return rec, total, nil
}

var errCorruptRecord = io.ErrUnexpectedEOF

func marshalRecord(rec Record) []byte {
	var buf bytes.Buffer
	writeUint64(&buf, uint64(rec.CommitVersion))
	writeUint64(&buf, rec.TxnID)
	writeUint32(&buf, uint32(len(rec.Writes)))
	for _, w := range rec.Writes {
		writeUint16(&buf, uint16(w.Class))
		writeInt64(&buf, int64(w.ObjectID))
		buf.WriteByte(byte(w.Op))
		writeUint32(&buf, uint32(len(w.Properties)))
		for i, v := range w.Properties {
			kind := descriptor.PropKind(0)
			if i < len(w.Kinds) {
				kind = w.Kinds[i]
			}
			buf.WriteByte(byte(kind))
			writePropValue(&buf, kind, v)
		}
	}
	return buf.Bytes()
}

func unmarshalRecord(raw []byte) (Record, error) {
	r := bytes.NewReader(raw)
	var rec Record

	cv, err := readUint64(r)
	if err != nil {
		return rec, errCorruptRecord
	}
	rec.CommitVersion = ids.Version(cv)

	txID, err := readUint64(r)
	if err != nil {
		return rec, errCorruptRecord
	}
	rec.TxnID = txID

	numWrites, err := readUint32(r)
	if err != nil {
		return rec, errCorruptRecord
	}

	rec.Writes = make([]ChangeRecord, 0, numWrites)
	for i := uint32(0); i < numWrites; i++ {
		var w ChangeRecord
		class, err := readUint16(r)
		if err != nil {
			return rec, errCorruptRecord
		}
		w.Class = ids.ClassID(class)

		objID, err := readInt64(r)
		if err != nil {
			return rec, errCorruptRecord
		}
		w.ObjectID = ids.ObjectID(objID)

		opByte, err := r.ReadByte()
		if err != nil {
			return rec, errCorruptRecord
		}
		w.Op = Op(opByte)

		numProps, err := readUint32(r)
		if err != nil {
			return rec, errCorruptRecord
		}
		w.Kinds = make([]descriptor.PropKind, 0, numProps)
		w.Properties = make([]descriptor.PropValue, 0, numProps)
		for j := uint32(0); j < numProps; j++ {
			kindByte, err := r.ReadByte()
			if err != nil {
				return rec, errCorruptRecord
			}
			kind := descriptor.PropKind(kindByte)
			v, err := readPropValue(r, kind)
			if err != nil {
				return rec, errCorruptRecord
			}
			w.Kinds = append(w.Kinds, kind)
			w.Properties = append(w.Properties, v)
		}
		rec.Writes = append(rec.Writes, w)
	}
	return rec, nil
}

func writePropValue(buf *bytes.Buffer, kind descriptor.PropKind, v descriptor.PropValue) {
	switch kind {
	case descriptor.PropInt64:
		writeInt64(buf, v.I64)
	case descriptor.PropFloat64:
		writeUint64(buf, math.Float64bits(v.F64))
	case descriptor.PropString:
		writeUint32(buf, uint32(v.Str))
	case descriptor.PropBool:
		if v.Bool {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case descriptor.PropDecimal:
		b, _ := v.Dec.MarshalBinary()
		writeUint32(buf, uint32(len(b)))
		buf.Write(b)
	case descriptor.PropReference:
		writeInt64(buf, int64(v.Ref))
	case descriptor.PropBlob:
		writeUint64(buf, v.BlobRef.ID)
		writeUint64(buf, uint64(v.BlobRef.CommitVersion))
	case descriptor.PropArray:
		writeUint32(buf, uint32(len(v.Array)))
		for _, elem := range v.Array {
			// Arrays of arrays are not a supported property shape; the
			// element kind is carried once on the PropertyDesc, not
			// re-tagged per element, so nested arrays would lose their
			// element kind here. Non-goal per spec.md §3 "Array" shape.
			writePropValue(buf, descriptor.PropInt64, elem)
		}
	}
}

func readPropValue(r *bytes.Reader, kind descriptor.PropKind) (descriptor.PropValue, error) {
	var v descriptor.PropValue
	switch kind {
	case descriptor.PropInt64:
		i, err := readInt64(r)
		if err != nil {
			return v, err
		}
		v.I64 = i
	case descriptor.PropFloat64:
		bits, err := readUint64(r)
		if err != nil {
			return v, err
		}
		v.F64 = math.Float64frombits(bits)
	case descriptor.PropString:
		h, err := readUint32(r)
		if err != nil {
			return v, err
		}
		v.Str = ids.StringHandle(h)
	case descriptor.PropBool:
		b, err := r.ReadByte()
		if err != nil {
			return v, err
		}
		v.Bool = b != 0
	case descriptor.PropDecimal:
		n, err := readUint32(r)
		if err != nil {
			return v, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(r, b); err != nil {
			return v, err
		}
		if err := v.Dec.UnmarshalBinary(b); err != nil {
			return v, err
		}
	case descriptor.PropReference:
		i, err := readInt64(r)
		if err != nil {
			return v, err
		}
		v.Ref = ids.ObjectID(i)
	case descriptor.PropBlob:
		id, err := readUint64(r)
		if err != nil {
			return v, err
		}
		cv, err := readUint64(r)
		if err != nil {
			return v, err
		}
		v.BlobRef = descriptor.BlobHandle{ID: id, CommitVersion: ids.Version(cv)}
	case descriptor.PropArray:
		n, err := readUint32(r)
		if err != nil {
			return v, err
		}
		v.Array = make([]descriptor.PropValue, 0, n)
		for i := uint32(0); i < n; i++ {
			elem, err := readPropValue(r, descriptor.PropInt64)
			if err != nil {
				return v, err
			}
			v.Array = append(v.Array, elem)
		}
	}
	return v, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) { writeUint64(buf, uint64(v)) }

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}
