// Package txn implements the transaction manager: begin/read/scan/write/
// commit/abort, OCC validation, and the class-striped commit critical
// section. Grounded on the teacher's pkg/mvcc/transaction.go, generalized
// from a single global lock to per-class striped locks acquired in
// class-id order (spec.md §4.1).
package txn

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/heliumdb/helium/internal/descriptor"
	"github.com/heliumdb/helium/internal/errs"
	"github.com/heliumdb/helium/internal/ids"
	"github.com/heliumdb/helium/internal/index"
	"github.com/heliumdb/helium/internal/store"
)

// Kind distinguishes read-only from read-write transactions.
type Kind int

const (
	Read Kind = iota
	ReadWrite
)

// Op is the kind of change an ObjectChange represents.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

// ObjectChange is one buffered write within a transaction's write set.
type ObjectChange struct {
	Class      ids.ClassID
	ObjectID   ids.ObjectID
	Op         Op
	Properties []descriptor.PropValue
}

type readKey struct {
	class ids.ClassID
	id    ids.ObjectID
}

type scanRecord struct {
	class     ids.ClassID
	indexName string
	indexKind descriptor.IndexKind
	r         index.KeyRange // for sorted scans
}

// TxnID uniquely identifies a ReadWrite transaction. Read transactions are
// assigned one too, purely for observability (logging, admin status).
type TxnID uint64

// State is the lifecycle state of a Transaction.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateAborted
)

// Transaction is a single in-flight transaction's accumulated state.
type Transaction struct {
	ID          TxnID
	Kind        Kind
	ReadVersion ids.Version
	Registry    *descriptor.Registry // captured at Begin, stable for the txn's lifetime

	mu           sync.Mutex
	state        State
	writeSet     map[readKey]*ObjectChange
	readSet      map[readKey]ids.Version // observed head CommitVersion at read time (0 = object absent)
	scans        []scanRecord
	commitVersion ids.Version
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Manager is the engine's single transaction manager.
type Manager struct {
	versions ids.VersionCounter
	store    *store.Store
	indexes  *IndexManager

	nextTxnID uint64

	mu         sync.RWMutex
	active     map[TxnID]*Transaction
	classLocks map[ids.ClassID]*sync.Mutex

	// Durability hook: on ReadWrite commit, after validation passes and a
	// commit version has been allocated, the manager calls this before
	// publishing, passing the assembled log record payload. It returns an
	// error if persistence or synchronous replication failed; the
	// transaction is aborted in that case (spec.md §4.1 step 5).
	Durability func(commitVersion ids.Version, writes []ObjectChange) error
}

// NewManager constructs a transaction manager over s, using im for index
// validation and publication.
func NewManager(s *store.Store, im *IndexManager) *Manager {
	return &Manager{
		store:      s,
		indexes:    im,
		active:     make(map[TxnID]*Transaction),
		classLocks: make(map[ids.ClassID]*sync.Mutex),
	}
}

// CommittedVersion reports the current committed version, for admin status
// reporting.
func (m *Manager) CommittedVersion() ids.Version {
	return m.versions.Committed()
}

// MinReadVersion reports the minimum read-version among live transactions,
// for internal/store.GC and index compaction. If there are no live
// transactions, returns the current committed version (nothing older is
// pinned).
func (m *Manager) MinReadVersion() ids.Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	min := m.versions.Committed()
	for _, txn := range m.active {
		if txn.ReadVersion < min {
			min = txn.ReadVersion
		}
	}
	return min
}

// Begin starts a new transaction of the given kind against registry
// (typically descriptor.AssemblyManager.Current().Registry).
func (m *Manager) Begin(kind Kind, registry *descriptor.Registry) *Transaction {
	id := TxnID(atomic.AddUint64(&m.nextTxnID, 1))
	txn := &Transaction{
		ID:          id,
		Kind:        kind,
		ReadVersion: m.versions.Committed(),
		Registry:    registry,
		state:       StateActive,
		writeSet:    make(map[readKey]*ObjectChange),
		readSet:     make(map[readKey]ids.Version),
	}
	m.mu.Lock()
	m.active[id] = txn
	m.mu.Unlock()
	return txn
}

// Read returns the newest non-tombstone version of (class, id) visible at
// txn's snapshot, recording the read in the fingerprint for conflict
// detection at commit.
func (m *Manager) Read(txn *Transaction, class ids.ClassID, id ids.ObjectID) (*store.ObjectVersion, error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.state != StateActive {
		return nil, errs.New(errs.KindInvalidArgument, "", "transaction is not active")
	}

	if change, ok := txn.writeSet[readKey{class, id}]; ok {
		// Read-your-own-writes: surface the buffered change directly.
		if change.Op == OpDelete {
			return nil, nil
		}
		return &store.ObjectVersion{ObjectID: id, Properties: change.Properties}, nil
	}

	v := m.store.VisibleAt(class, id, txn.ReadVersion)
	var observed ids.Version
	if v != nil {
		observed = v.CommitVersion
	}
	txn.readSet[readKey{class, id}] = observed
	if v != nil && v.Tombstone {
		return nil, nil
	}
	return v, nil
}

// Scan runs a sorted-index range scan visible at txn's snapshot and
// records the (index, range) pair in the transaction's scan fingerprint so
// Commit can detect phantom inserts into the scanned range.
func (m *Manager) Scan(txn *Transaction, class ids.ClassID, indexName string, r index.KeyRange) ([]ids.ObjectID, error) {
	txn.mu.Lock()
	if txn.state != StateActive {
		txn.mu.Unlock()
		return nil, errs.New(errs.KindInvalidArgument, "", "transaction is not active")
	}
	readVersion := txn.ReadVersion
	txn.mu.Unlock()

	sorted, ok := m.indexes.Sorted(class, indexName)
	if !ok {
		return nil, errs.New(errs.KindNotFound, errs.SubIndex, indexName)
	}
	result := sorted.Scan(r, readVersion)

	txn.mu.Lock()
	txn.scans = append(txn.scans, scanRecord{class: class, indexName: indexName, indexKind: descriptor.IndexSorted, r: r})
	txn.mu.Unlock()
	return result, nil
}

// Write buffers a change into the transaction's write set. No visibility
// side effect occurs until Commit.
func (m *Manager) Write(txn *Transaction, change ObjectChange) error {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.state != StateActive {
		return errs.New(errs.KindInvalidArgument, "", "transaction is not active")
	}
	if txn.Kind != ReadWrite {
		return errs.New(errs.KindInvalidArgument, "", "read-only transaction cannot write")
	}
	c := change
	txn.writeSet[readKey{change.Class, change.ObjectID}] = &c
	return nil
}

// Abort discards the transaction's write set and removes it from the live
// set.
func (m *Manager) Abort(txn *Transaction) {
	txn.mu.Lock()
	if txn.state == StateActive {
		txn.state = StateAborted
		txn.writeSet = nil
	}
	txn.mu.Unlock()

	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()
}

func (m *Manager) lockFor(class ids.ClassID) *sync.Mutex {
	m.mu.RLock()
	l, ok := m.classLocks[class]
	m.mu.RUnlock()
	if ok {
		return l
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok = m.classLocks[class]; ok {
		return l
	}
	l = &sync.Mutex{}
	m.classLocks[class] = l
	return l
}

// Commit runs OCC validation then publication, per spec.md §4.1's six-step
// algorithm, inside a short critical section striped by every class
// touched, acquired in class-id order to prevent deadlock.
func (m *Manager) Commit(txn *Transaction) (ids.Version, error) {
	txn.mu.Lock()
	if txn.state != StateActive {
		txn.mu.Unlock()
		return 0, errs.New(errs.KindInvalidArgument, "", "transaction is not active")
	}
	readSet := txn.readSet
	writeSet := make([]*ObjectChange, 0, len(txn.writeSet))
	for _, c := range txn.writeSet {
		writeSet = append(writeSet, c)
	}
	scans := txn.scans
	readVersion := txn.ReadVersion
	txn.mu.Unlock()

	touched := make(map[ids.ClassID]struct{})
	for k := range readSet {
		touched[k.class] = struct{}{}
	}
	for _, c := range writeSet {
		touched[c.Class] = struct{}{}
	}
	classes := make([]ids.ClassID, 0, len(touched))
	for c := range touched {
		classes = append(classes, c)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	locks := make([]*sync.Mutex, len(classes))
	for i, c := range classes {
		locks[i] = m.lockFor(c)
	}
	for _, l := range locks {
		l.Lock()
	}
	defer func() {
		for _, l := range locks {
			l.Unlock()
		}
	}()

	// Step 1: read-fingerprint validation (WriteAfterRead).
	for k, observed := range readSet {
		head := m.store.Head(k.class, k.id)
		var current ids.Version
		if head != nil {
			current = head.CommitVersion
		}
		if current != observed {
			return 0, m.failCommit(txn, errs.New(errs.KindTransactionConflict, errs.SubWriteAfterRead, ""))
		}
	}

	// Step 2: scanned-range validation (PhantomWrite).
	for _, sc := range scans {
		if sc.indexKind != descriptor.IndexSorted {
			continue
		}
		sorted, ok := m.indexes.Sorted(sc.class, sc.indexName)
		if !ok {
			continue
		}
		if sorted.InsertedSince(sc.r, readVersion) {
			return 0, m.failCommit(txn, errs.New(errs.KindTransactionConflict, errs.SubPhantomWrite, ""))
		}
	}

	// Step 3: write-set validation (WriteAfterWrite) + UNIQUE pre-check.
	for _, c := range writeSet {
		head := m.store.Head(c.Class, c.ObjectID)
		if head != nil && head.CommitVersion > readVersion {
			return 0, m.failCommit(txn, errs.New(errs.KindTransactionConflict, errs.SubWriteAfterWrite, ""))
		}
	}
	if err := m.checkUniqueConstraints(txn.Registry, writeSet); err != nil {
		return 0, m.failCommit(txn, err)
	}

	// Step 4: allocate commit version.
	commitVersion := m.versions.Advance()

	// Step 5: durability (WAL append + replica ack wait per active policy).
	plain := make([]ObjectChange, len(writeSet))
	for i, c := range writeSet {
		plain[i] = *c
	}
	if m.Durability != nil {
		if err := m.Durability(commitVersion, plain); err != nil {
			return 0, m.failCommit(txn, errs.Wrap(errs.KindPersistence, errs.SubIOError, "durability hook failed", err))
		}
	}

	// Step 6: publish new heads and index updates.
	for _, c := range writeSet {
		prev := m.store.Head(c.Class, c.ObjectID)
		nv := &store.ObjectVersion{
			ObjectID:      c.ObjectID,
			CommitVersion: commitVersion,
			Prev:          prev,
			Tombstone:     c.Op == OpDelete,
			Properties:    c.Properties,
		}
		if !m.store.CASPublish(c.Class, nv) {
			// Another committer raced us for a chain this transaction's
			// striped lock should have made impossible; treat as a fatal
			// invariant break rather than silently losing the write.
			return 0, m.failCommit(txn, errs.New(errs.KindCritical, errs.SubInvariantBroken, "lost CAS race inside striped commit section"))
		}
		m.publishIndexChanges(txn.Registry, c, prev, commitVersion)
	}

	txn.mu.Lock()
	txn.state = StateCommitted
	txn.commitVersion = commitVersion
	txn.mu.Unlock()

	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()

	return commitVersion, nil
}

func (m *Manager) failCommit(txn *Transaction, err error) error {
	txn.mu.Lock()
	txn.state = StateAborted
	txn.mu.Unlock()
	m.mu.Lock()
	delete(m.active, txn.ID)
	m.mu.Unlock()
	return err
}
