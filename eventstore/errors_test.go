package eventstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailurePassesCallerErrorsThrough(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("%w: -5", ErrInvalidExpectedVersion),
		fmt.Errorf("%w: 0c1d", ErrEventNotFound),
		ErrGlobalStreamVirtual,
		&ConcurrencyError{Stream: "order-1", Expected: 1, Actual: 2},
		&StreamNotFoundError{Stream: "order-1"},
	} {
		got := Failure("append", err)
		assert.Same(t, err, got)
		assert.False(t, errors.Is(got, ErrStorage), err.Error())
	}
}

func TestFailureWrapsDriverErrors(t *testing.T) {
	driver := errors.New("disk full")
	err := Failure("append", driver)

	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, driver)
	var storage *StorageError
	assert.True(t, errors.As(err, &storage))
	assert.Equal(t, "append", storage.Op)
	assert.Nil(t, Failure("append", nil))
}
