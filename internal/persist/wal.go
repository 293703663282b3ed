// Package persist implements write-ahead logging, snapshotting, and
// recovery for a configured set of log streams. Grounded on the teacher's
// pkg/storage/wal.go and disk_manager.go, generalized from a single fixed
// log file to spec.md §4.6's multi-stream configuration (named streams,
// each with its own log directory, snapshot directory, size hint, and
// optional packed-format compression).
package persist

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/ids"
)

// StreamConfig describes one configured log stream (spec.md §4.6 "Layout").
type StreamConfig struct {
	Name         string
	LogDir       string
	SnapshotDir  string
	MaxSizeHint  int64
	PackedFormat bool
}

// mainStreamName is the implicit stream every engine carries and cannot
// delete.
const mainStreamName = "main"

var allowedNameChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._ -:/\\$"

// ValidateStreamName enforces the stream-name character set
// (alphanumerics, dot, space, underscore, hyphen, colon, forward and back
// slashes, and the dollar sign). Braces are not in the set, so a name
// containing the "${NodeName}" template marker is rejected.
func ValidateStreamName(name string) error {
	if name == "" {
		return errs.New(errs.KindConfiguration, errs.SubInvalidName, "stream name must not be empty")
	}
	for _, r := range name {
		if !strings.ContainsRune(allowedNameChars, r) {
			return errs.New(errs.KindConfiguration, errs.SubInvalidName, "stream name contains disallowed character")
		}
	}
	return nil
}

// Stream is one append-only on-disk log, framed as length-prefixed,
// CRC-checked records (optionally s2-compressed payloads, see codec.go).
// One Stream instance owns exclusive access to its underlying file via mu,
// mirroring the teacher's *WAL mutex-per-file design.
type Stream struct {
	Config StreamConfig

	mu   sync.Mutex
	file *os.File
	// lastCommit tracks the newest commit_version appended. Rotate does not
	// consult it: Rotate truncates the whole file.
	lastCommit ids.Version
}

// OpenStream opens (creating if necessary) the log file for cfg, appending
// further records at the current end of file — exactly the teacher's
// O_CREATE|O_RDWR|O_APPEND idiom.
func OpenStream(cfg StreamConfig) (*Stream, error) {
	if err := ValidateStreamName(cfg.Name); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, errs.SubIOError, "mkdir log dir", err)
	}
	path := filepath.Join(cfg.LogDir, cfg.Name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistence, errs.SubIOError, "open log file", err)
	}
	return &Stream{Config: cfg, file: f}, nil
}

// Append writes rec to the log, returning the number of bytes written.
// rec.CommitVersion must be monotonically increasing per stream; callers
// (internal/txn via the engine's Durability hook) guarantee this since
// commit versions are allocated under the same striped lock that serializes
// publication.
func (s *Stream) Append(rec Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := EncodeRecord(s.file, rec, s.Config.PackedFormat)
	if err != nil {
		return 0, errs.Wrap(errs.KindPersistence, errs.SubIOError, "append log record", err)
	}
	if rec.CommitVersion > s.lastCommit {
		s.lastCommit = rec.CommitVersion
	}
	return n, nil
}

// Flush fsyncs the underlying file, the durability boundary a synchronous
// write concern waits on.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return errs.Wrap(errs.KindPersistence, errs.SubIOError, "fsync log file", err)
	}
	return nil
}

// Replay reads every well-formed record in the log from the beginning. A
// torn final record (failed CRC, or a header promising more bytes than the
// file actually has) stops replay at that point and truncates the file to
// the last good record boundary, per spec.md §4.6's recovery rule.
func (s *Stream) Replay() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, errs.SubIOError, "seek log file", err)
	}

	var records []Record
	var goodOffset int64
	for {
		rec, n, err := DecodeRecord(s.file, s.Config.PackedFormat)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Torn write: truncate to the last known-good boundary and stop.
			if truncErr := s.file.Truncate(goodOffset); truncErr != nil {
				return records, errs.Wrap(errs.KindPersistence, errs.SubIOError, "truncate torn log record", truncErr)
			}
			break
		}
		goodOffset += int64(n)
		records = append(records, rec)
	}

	if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
		return nil, errs.Wrap(errs.KindPersistence, errs.SubIOError, "seek log file to end", err)
	}
	return records, nil
}

// Rotate closes the current log file and replaces it with a fresh, empty
// one — called after a successful snapshot whose commit_version covers
// every record currently on disk (spec.md §4.6: "log segments whose last
// commit <= snapshot version are deleted").
func (s *Stream) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.file.Close(); err != nil {
		return errs.Wrap(errs.KindPersistence, errs.SubIOError, "close log file for rotation", err)
	}
	path := filepath.Join(s.Config.LogDir, s.Config.Name+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.Wrap(errs.KindPersistence, errs.SubIOError, "reopen log file for rotation", err)
	}
	s.file = f
	return nil
}

// Close closes the underlying file after a final sync.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}

// Manager owns every configured stream, keyed by name. Stream 0 — "main"
// — always exists and DeleteStream refuses to remove it.
type Manager struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewManager constructs a Manager with the implicit main stream opened
// under baseDir.
func NewManager(baseDir string) (*Manager, error) {
	m := &Manager{streams: make(map[string]*Stream)}
	main, err := OpenStream(StreamConfig{
		Name:        mainStreamName,
		LogDir:      filepath.Join(baseDir, "log", mainStreamName),
		SnapshotDir: filepath.Join(baseDir, "snapshot", mainStreamName),
	})
	if err != nil {
		return nil, err
	}
	m.streams[mainStreamName] = main
	return m, nil
}

// MaxLogStreams is the ceiling on configured log streams including the
// implicit "main" stream (spec.md §6 "a list of up to 8 log descriptors").
const MaxLogStreams = 8

// DeclareStream adds or replaces a named stream's configuration, opening
// its log file. Declaring "main" again is a configuration error. A 9th
// stream is refused with Configuration.TooManyLogs.
func (m *Manager) DeclareStream(cfg StreamConfig) (*Stream, error) {
	if cfg.Name == mainStreamName {
		return nil, errs.New(errs.KindConfiguration, errs.SubDuplicateName, "stream \"main\" is implicit and cannot be redeclared")
	}

	m.mu.RLock()
	_, exists := m.streams[cfg.Name]
	count := len(m.streams)
	m.mu.RUnlock()
	if !exists && count >= MaxLogStreams {
		return nil, errs.New(errs.KindConfiguration, errs.SubTooManyLogs, "at most 8 log streams may be configured")
	}

	s, err := OpenStream(cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.streams[cfg.Name] = s
	m.mu.Unlock()
	return s, nil
}

// DeleteStream removes a previously declared stream. Stream "main" can
// never be deleted (spec.md §4.6).
func (m *Manager) DeleteStream(name string) error {
	if name == mainStreamName {
		return errs.New(errs.KindInvalidArgument, "", "stream \"main\" cannot be deleted")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[name]
	if !ok {
		return errs.New(errs.KindNotFound, errs.SubLogStream, name)
	}
	delete(m.streams, name)
	return s.Close()
}

// Stream returns a previously opened/declared stream by name.
func (m *Manager) Stream(name string) (*Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[name]
	if !ok {
		return nil, errs.New(errs.KindNotFound, errs.SubLogStream, name)
	}
	return s, nil
}

// Main returns the implicit system stream.
func (m *Manager) Main() *Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[mainStreamName]
}

// Streams returns every currently configured stream.
func (m *Manager) Streams() []*Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		out = append(out, s)
	}
	return out
}
