package persist

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/ids"
)

// Snapshot is the full object-store state as of CommitVersion, expressed
// as the same ChangeRecord shape a log record uses — every live object's
// latest write, synthesized as a single Insert per object (spec.md §4.6:
// "A snapshot captures the object store and index state at a specific
// commit_version"; secondary indexes are not stored separately since they
// rebuild deterministically by replaying Writes through the same
// publish-time index-maintenance internal/txn already performs).
type Snapshot struct {
	CommitVersion ids.Version
	Writes        []ChangeRecord
}

const latestPointerFile = "LATEST"

func snapshotFileName(version ids.Version) string {
	return fmt.Sprintf("snapshot-%020d.snap", uint64(version))
}

// WriteSnapshot serializes snap into dir atomically: written to a temp
// file, fsynced, then renamed into place, and only then does the LATEST
// pointer get rewritten (also via temp+rename) to reference it — so a
// crash mid-write never leaves LATEST pointing at a partial file (spec.md
// §4.6: "written atomically via a temporary file and rename").
func WriteSnapshot(dir string, snap Snapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errs.Wrap(errs.KindPersistence, errs.SubIOError, "mkdir snapshot dir", err)
	}

	name := snapshotFileName(snap.CommitVersion)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return "", errs.Wrap(errs.KindPersistence, errs.SubIOError, "create temp snapshot file", err)
	}
	tmpPath := tmp.Name()

	rec := Record{CommitVersion: snap.CommitVersion, Writes: snap.Writes}
	if _, err := EncodeRecord(tmp, rec, false); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errs.Wrap(errs.KindPersistence, errs.SubIOError, "write temp snapshot file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errs.Wrap(errs.KindPersistence, errs.SubIOError, "fsync temp snapshot file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", errs.Wrap(errs.KindPersistence, errs.SubIOError, "close temp snapshot file", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", errs.Wrap(errs.KindPersistence, errs.SubSnapshotFailed, "rename snapshot into place", err)
	}

	if err := writePointer(dir, name); err != nil {
		return "", err
	}
	return finalPath, nil
}

func writePointer(dir, name string) error {
	tmp, err := os.CreateTemp(dir, ".latest-*.tmp")
	if err != nil {
		return errs.Wrap(errs.KindPersistence, errs.SubIOError, "create temp pointer file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(name); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindPersistence, errs.SubIOError, "write temp pointer file", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindPersistence, errs.SubIOError, "fsync temp pointer file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindPersistence, errs.SubIOError, "close temp pointer file", err)
	}
	pointerPath := filepath.Join(dir, latestPointerFile)
	if err := os.Rename(tmpPath, pointerPath); err != nil {
		os.Remove(tmpPath)
		return errs.Wrap(errs.KindPersistence, errs.SubSnapshotFailed, "rename pointer into place", err)
	}
	return nil
}

// LoadLatestSnapshot loads the newest complete snapshot in dir, or
// (Snapshot{}, false, nil) if none has ever been written — the recovery
// starting point spec.md §4.6 calls "load the newest complete snapshot".
func LoadLatestSnapshot(dir string) (Snapshot, bool, error) {
	pointerPath := filepath.Join(dir, latestPointerFile)
	nameBytes, err := os.ReadFile(pointerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, errs.Wrap(errs.KindPersistence, errs.SubIOError, "read snapshot pointer", err)
	}

	f, err := os.Open(filepath.Join(dir, string(nameBytes)))
	if err != nil {
		return Snapshot{}, false, errs.Wrap(errs.KindPersistence, errs.SubIOError, "open snapshot file", err)
	}
	defer f.Close()

	rec, _, err := DecodeRecord(f, false)
	if err != nil {
		return Snapshot{}, false, errs.Wrap(errs.KindPersistence, errs.SubCorruptLog, "decode snapshot file", err)
	}
	return Snapshot{CommitVersion: rec.CommitVersion, Writes: rec.Writes}, true, nil
}
