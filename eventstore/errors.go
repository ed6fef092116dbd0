package eventstore

import (
	"errors"
	"fmt"
)

var (
	ErrConcurrencyViolation      = errors.New("eventcore.eventstore: concurrency violation")
	ErrStreamNotFound            = errors.New("eventcore.eventstore: stream not found")
	ErrGlobalStreamVirtual       = errors.New("eventcore.eventstore: the global stream is virtual")
	ErrEmptyStreamID             = errors.New("eventcore.eventstore: stream id is empty")
	ErrInvalidExpectedVersion    = errors.New("eventcore.eventstore: invalid expected version")
	ErrMissingEventID            = errors.New("eventcore.eventstore: event has no id")
	ErrDuplicateEvent            = errors.New("eventcore.eventstore: duplicate event id")
	ErrEventNotFound             = errors.New("eventcore.eventstore: event not found")
	ErrStorage                   = errors.New("eventcore.eventstore: storage failure")
	ErrSubscriptionNotFound      = errors.New("eventcore.eventstore: subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("eventcore.eventstore: subscription already exists")
	ErrNotACatchupSubscription   = errors.New("eventcore.eventstore: not a catch-up subscription")
	ErrRollbackOnly              = errors.New("eventcore.eventstore: scope was marked rollback-only")
	ErrForeignScope              = errors.New("eventcore.eventstore: scope belongs to another backend")
	ErrScopeDone                 = errors.New("eventcore.eventstore: scope already finished")
)

// ConcurrencyError is returned when an append's expected version does not
// match the stream. Actual is the version the stream was at.
type ConcurrencyError struct {
	Stream   StreamID
	Expected ExpectedVersion
	Actual   int64
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: stream %s expected %s, actual %d", ErrConcurrencyViolation, e.Stream, e.Expected, e.Actual)
}

func (e *ConcurrencyError) Is(target error) bool {
	return target == ErrConcurrencyViolation
}

type StreamNotFoundError struct {
	Stream StreamID
}

func (e *StreamNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", ErrStreamNotFound, e.Stream)
}

func (e *StreamNotFoundError) Is(target error) bool {
	return target == ErrStreamNotFound
}

// StorageError wraps a failure of the underlying engine. It is always fatal
// to the operation, nothing is retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorage, e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Failure wraps err as a StorageError for op. Errors that are already part
// of the taxonomy pass through unchanged.
func Failure(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		ErrStorage,
		ErrConcurrencyViolation,
		ErrInvalidExpectedVersion,
		ErrDuplicateEvent,
		ErrMissingEventID,
		ErrEmptyStreamID,
		ErrGlobalStreamVirtual,
		ErrStreamNotFound,
		ErrEventNotFound,
		ErrNotACatchupSubscription,
		ErrSubscriptionNotFound,
		ErrSubscriptionAlreadyExists,
		ErrForeignScope,
		ErrScopeDone,
		ErrRollbackOnly,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return &StorageError{Op: op, Err: err}
}
