package eventstore

import "fmt"

// CheckExpectedVersion validates an append precondition. current is the
// stream's version, which for a stream without events is origin-1. Every
// backend calls it inside its append critical section.
func CheckExpectedVersion(stream StreamID, expected ExpectedVersion, current int64, exists bool) error {
	switch {
	case expected == Any:
		return nil
	case expected == NoStream:
		if exists {
			return &ConcurrencyError{Stream: stream, Expected: expected, Actual: current}
		}
		return nil
	case expected < 0:
		return fmt.Errorf("%w: %d", ErrInvalidExpectedVersion, int64(expected))
	case int64(expected) != current:
		return &ConcurrencyError{Stream: stream, Expected: expected, Actual: current}
	}
	return nil
}

// CurrentVersion returns the version a stream is at, given the version of
// its last record and whether it has any.
func CurrentVersion(last int64, exists bool, origin int64) int64 {
	if !exists {
		return origin - 1
	}
	return last
}
