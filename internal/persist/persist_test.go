package persist

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/ids"
)

func sampleRecord() Record {
	return Record{
		CommitVersion: 7,
		TxnID:         3,
		Writes: []ChangeRecord{
			{
				Class:    1,
				ObjectID: ids.NewObjectID(1, 1),
				Op:       OpInsert,
				Kinds:    []descriptor.PropKind{descriptor.PropString, descriptor.PropInt64},
				Properties: []descriptor.PropValue{
					{Str: 42},
					{I64: 2020},
				},
			},
		},
	}
}

func TestCodecRoundTripRaw(t *testing.T) {
	var buf bytes.Buffer
	rec := sampleRecord()
	if _, err := EncodeRecord(&buf, rec, false); err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	got, _, err := DecodeRecord(&buf, false)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if got.CommitVersion != rec.CommitVersion || got.TxnID != rec.TxnID {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
	}
	if len(got.Writes) != 1 || got.Writes[0].Properties[1].I64 != 2020 {
		t.Fatalf("round trip property mismatch: %+v", got.Writes)
	}
}

func TestCodecRoundTripPacked(t *testing.T) {
	var buf bytes.Buffer
	rec := sampleRecord()
	if _, err := EncodeRecord(&buf, rec, true); err != nil {
		t.Fatalf("EncodeRecord packed: %v", err)
	}
	got, _, err := DecodeRecord(&buf, true)
	if err != nil {
		t.Fatalf("DecodeRecord packed: %v", err)
	}
	if got.Writes[0].Properties[0].Str != 42 {
		t.Fatalf("packed round trip mismatch: %+v", got)
	}
}

func TestStreamAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStream(StreamConfig{Name: "events", LogDir: dir})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer s.Close()

	for i := 0; i < 3; i++ {
		rec := sampleRecord()
		rec.CommitVersion = ids.Version(i + 1)
		if _, err := s.Append(rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	records, err := s.Replay()
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, r := range records {
		if r.CommitVersion != ids.Version(i+1) {
			t.Fatalf("record %d has commit version %d, want %d", i, r.CommitVersion, i+1)
		}
	}
}

func TestStreamReplayTruncatesTornRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenStream(StreamConfig{Name: "events", LogDir: dir})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	rec := sampleRecord()
	n, err := s.Append(rec)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a torn write: append a few garbage bytes that look like the
	// start of a second record's header but have no valid payload behind
	// them.
	path := filepath.Join(dir, "events.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := f.Write([]byte{0xFF, 0x00, 0x00, 0x00, 0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	s2, err := OpenStream(StreamConfig{Name: "events", LogDir: dir})
	if err != nil {
		t.Fatalf("reopen stream: %v", err)
	}
	defer s2.Close()

	records, err := s2.Replay()
	if err != nil {
		t.Fatalf("Replay after torn write: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 good record recovered before the torn one, got %d", len(records))
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != int64(n) {
		t.Fatalf("expected log truncated back to %d bytes (the one good record), got %d", n, info.Size())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	snap := Snapshot{
		CommitVersion: 10,
		Writes: []ChangeRecord{
			{
				Class:      1,
				ObjectID:   ids.NewObjectID(1, 1),
				Op:         OpInsert,
				Kinds:      []descriptor.PropKind{descriptor.PropInt64},
				Properties: []descriptor.PropValue{{I64: 99}},
			},
		},
	}
	if _, err := WriteSnapshot(dir, snap); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}

	loaded, ok, err := LoadLatestSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot: %v", err)
	}
	if !ok {
		t.Fatalf("expected a snapshot to be found")
	}
	if loaded.CommitVersion != 10 || loaded.Writes[0].Properties[0].I64 != 99 {
		t.Fatalf("loaded snapshot mismatch: %+v", loaded)
	}
}

func TestLoadLatestSnapshotWhenNoneExists(t *testing.T) {
	dir := t.TempDir()
	_, ok, err := LoadLatestSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadLatestSnapshot: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot to be found in an empty directory")
	}
}

func TestManagerRejectsRedeclaringMain(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := m.DeclareStream(StreamConfig{Name: "main"}); err == nil {
		t.Fatalf("expected an error redeclaring the implicit main stream")
	}
}

func TestManagerDeclareStreamEnforcesMaxLogStreams(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	// main already counts as one of MaxLogStreams; declare up to the cap.
	for i := 0; i < MaxLogStreams-1; i++ {
		name := fmt.Sprintf("stream%d", i)
		cfg := StreamConfig{Name: name, LogDir: filepath.Join(dir, "log", name), SnapshotDir: filepath.Join(dir, "snapshot", name)}
		if _, err := m.DeclareStream(cfg); err != nil {
			t.Fatalf("DeclareStream #%d: %v", i, err)
		}
	}

	ninth := StreamConfig{Name: "one-too-many", LogDir: filepath.Join(dir, "log", "one-too-many"), SnapshotDir: filepath.Join(dir, "snapshot", "one-too-many")}
	if _, err := m.DeclareStream(ninth); err == nil {
		t.Fatalf("expected the 9th log stream to be rejected with Configuration.TooManyLogs")
	}
}
