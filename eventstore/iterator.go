package eventstore

import "context"

// Iterator is a lazy, single-pass sequence of decoded events. Decoding
// failures such as an unresolvable type end the iteration with an error;
// records are never skipped.
type Iterator struct {
	ctx    context.Context
	store  *Store
	cursor RecordCursor
	dir    Direction

	pending []Descriptor
	current Descriptor
	err     error
	closed  bool
}

// Next advances to the next event.
func (it *Iterator) Next() bool {
	for len(it.pending) == 0 {
		if it.closed {
			return false
		}
		if !it.cursor.Next(it.ctx) {
			it.err = Failure("read", it.cursor.Err())
			it.Close()
			return false
		}

		record := it.cursor.Record()
		it.store.metrics.Read(it.dir.String())
		descriptors, err := it.store.decode(record)
		if err != nil {
			it.err = err
			it.Close()
			return false
		}
		if it.dir == Backward {
			reverse(descriptors)
		}
		it.pending = descriptors
	}

	it.current, it.pending = it.pending[0], it.pending[1:]
	return true
}

func (it *Iterator) Descriptor() Descriptor {
	return it.current
}

func (it *Iterator) Err() error {
	return it.err
}

// Close releases the cursor. It is safe to call more than once.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.pending = nil
	return it.cursor.Close()
}

// All drains the iterator.
func (it *Iterator) All() ([]Descriptor, error) {
	defer it.Close()
	var out []Descriptor
	for it.Next() {
		out = append(out, it.Descriptor())
	}
	return out, it.Err()
}

func reverse(ds []Descriptor) {
	for i, j := 0, len(ds)-1; i < j; i, j = i+1, j-1 {
		ds[i], ds[j] = ds[j], ds[i]
	}
}
