// Package errs implements the engine-wide error taxonomy. Every subsystem
// returns *Error instead of ad-hoc sentinel values so that callers crossing
// package boundaries (transaction manager, cluster, RPC, persistence) can
// inspect Kind and Retriable without type-asserting against each package's
// own error type.
package errs

import "fmt"

// Kind enumerates the top-level error families.
type Kind string

const (
	KindTransactionConflict Kind = "TransactionConflict"
	KindConstraintViolation Kind = "ConstraintViolation"
	KindNotFound            Kind = "NotFound"
	KindInvalidArgument     Kind = "InvalidArgument"
	KindConfiguration       Kind = "Configuration"
	KindCluster             Kind = "Cluster"
	KindCommunication       Kind = "Communication"
	KindPersistence         Kind = "Persistence"
	KindAssembly            Kind = "Assembly"
	KindCritical            Kind = "Critical"
)

// Sub enumerates the second-level discriminator within a Kind.
type Sub string

const (
	// TransactionConflict
	SubWriteAfterRead        Sub = "WriteAfterRead"
	SubWriteAfterWrite       Sub = "WriteAfterWrite"
	SubPhantomWrite          Sub = "PhantomWrite"
	SubUniqueIndexViolation  Sub = "UniqueIndexViolation"

	// ConstraintViolation
	SubReferenceNotNullable    Sub = "ReferenceNotNullable"
	SubDanglingReference       Sub = "DanglingReference"
	SubInverseReferenceMismatch Sub = "InverseReferenceMismatch"

	// NotFound
	SubClass     Sub = "Class"
	SubObject    Sub = "Object"
	SubIndex     Sub = "Index"
	SubLogStream Sub = "LogStream"

	// Configuration
	SubInvalidName   Sub = "InvalidName"
	SubInvalidPath   Sub = "InvalidPath"
	SubDuplicateName Sub = "DuplicateName"
	SubTooManyLogs   Sub = "TooManyLogs"
	SubOutOfRange    Sub = "OutOfRange"

	// Cluster
	SubNotInLocalWriteCluster  Sub = "NotInLocalWriteCluster"
	SubNotInGlobalWriteCluster Sub = "NotInGlobalWriteCluster"
	SubNotApplicable           Sub = "NotApplicable"
	SubBusy                    Sub = "Busy"
	SubSplitBrainRisk          Sub = "SplitBrainRisk"

	// Communication
	SubTimeout          Sub = "Timeout"
	SubClosed           Sub = "Closed"
	SubCorruptMessage   Sub = "CorruptMessage"
	SubUnsupportedHeader Sub = "UnsupportedHeader"
	SubAddressInUse     Sub = "AddressInUse"

	// Persistence
	SubIOError          Sub = "IoError"
	SubSharingViolation Sub = "SharingViolation"
	SubCorruptLog       Sub = "CorruptLog"
	SubSnapshotFailed   Sub = "SnapshotFailed"

	// Assembly
	SubInvalidAssembly     Sub = "InvalidAssembly"
	SubMissingReference    Sub = "MissingReference"
	SubFrameworkTooNew     Sub = "FrameworkTooNew"
	SubVersionGUIDMismatch Sub = "VersionGuidMismatch"
	SubDuplicateAssembly   Sub = "DuplicateName"

	// Critical
	SubAllocatorExhausted Sub = "AllocatorExhausted"
	SubInvariantBroken    Sub = "InvariantBroken"
)

// Error is the engine's uniform error value.
type Error struct {
	Kind    Kind
	Sub     Sub
	Detail  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s.%s", e.Kind, e.Sub)
	}
	return fmt.Sprintf("%s.%s: %s", e.Kind, e.Sub, e.Detail)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Retriable reports whether the caller's operation may be re-run unchanged.
// Only transaction conflicts are retriable per spec; everything else is
// either a caller bug, a durable environment failure, or fatal.
func (e *Error) Retriable() bool {
	return e.Kind == KindTransactionConflict
}

// Fatal reports whether the process should terminate after a final log
// flush rather than continue serving requests.
func (e *Error) Fatal() bool {
	return e.Kind == KindCritical
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, sub Sub, detail string) *Error {
	return &Error{Kind: kind, Sub: sub, Detail: detail}
}

// Wrap builds an *Error around an underlying cause.
func Wrap(kind Kind, sub Sub, detail string, cause error) *Error {
	return &Error{Kind: kind, Sub: sub, Detail: detail, Wrapped: cause}
}

// As reports whether err is an *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}

// Is reports whether err is an *Error of the given Kind/Sub.
func Is(err error, kind Kind, sub Sub) bool {
	e, ok := As(err)
	if !ok {
		return false
	}
	return e.Kind == kind && e.Sub == sub
}
