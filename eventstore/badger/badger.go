// Package badger is an embedded, on-disk event store backend.
//
// Layout:
//
//	e/<playhead>                 record
//	s/<stream>\x00<version>      playhead
//	v/<stream>                   last version
//	i/<event id>                 playhead
//	sub/<id>                     subscription
//
// Numbers are big-endian so key order is numeric order. Appends run one at a
// time under a process lock, playheads come from a badger sequence drawn
// under the same lock.
package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/GabrielCarpr/eventcore/eventstore"
)

const defaultPageSize = 256

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary

	prefixEvent        = []byte("e/")
	prefixStream       = []byte("s/")
	prefixVersion      = []byte("v/")
	prefixID           = []byte("i/")
	prefixSubscription = []byte("sub/")
	keySequence        = []byte("meta/playhead")

	_ eventstore.Backend = (*Backend)(nil)
)

type Backend struct {
	db       *badger.DB
	seq      *badger.Sequence
	pageSize int

	// appendMu is held by every append, and by a scope from its first
	// append until it ends.
	appendMu sync.Mutex
}

// Open opens or creates a store in dir.
func Open(dir string) (*Backend, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(badgerLogger{}))
	if err != nil {
		return nil, eventstore.Failure("open", err)
	}
	return New(db)
}

// New uses an open database. Close closes it.
func New(db *badger.DB) (*Backend, error) {
	seq, err := db.GetSequence(keySequence, 128)
	if err != nil {
		return nil, eventstore.Failure("sequence", err)
	}
	return &Backend{db: db, seq: seq, pageSize: defaultPageSize}, nil
}

func (b *Backend) Close() error {
	if err := b.seq.Release(); err != nil {
		b.db.Close()
		return eventstore.Failure("release sequence", err)
	}
	return eventstore.Failure("close", b.db.Close())
}

func u64(v int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	return out
}

func i64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func eventKey(playhead int64) []byte {
	return join(prefixEvent, u64(playhead))
}

func streamPrefix(stream eventstore.StreamID) []byte {
	return join(prefixStream, []byte(stream), []byte{0})
}

func streamKey(stream eventstore.StreamID, version int64) []byte {
	return join(streamPrefix(stream), u64(version))
}

func versionKey(stream eventstore.StreamID) []byte {
	return join(prefixVersion, []byte(stream))
}

func idKey(id uuid.UUID) []byte {
	return join(prefixID, id[:])
}

func subscriptionKey(id string) []byte {
	return join(prefixSubscription, []byte(id))
}

// getInt64 reads an 8 byte value, false when the key is missing.
func getInt64(txn *badger.Txn, key []byte) (int64, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	return i64(val), true, nil
}

func getJSON(txn *badger.Txn, key []byte, v interface{}) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(val, v)
}

// view runs fn in the scope's transaction, or a fresh read transaction.
func (b *Backend) view(ctx context.Context, fn func(*badger.Txn) error) error {
	sc, err := b.scope(ctx)
	if err != nil {
		return err
	}
	if sc != nil {
		return fn(sc.tx())
	}
	return b.db.View(fn)
}

// update runs fn in the scope's transaction, or commits it on its own.
func (b *Backend) update(ctx context.Context, fn func(*badger.Txn) error) error {
	sc, err := b.scope(ctx)
	if err != nil {
		return err
	}
	if sc != nil {
		return fn(sc.tx())
	}
	return b.db.Update(fn)
}

func (b *Backend) Append(ctx context.Context, batch eventstore.AppendBatch) ([]eventstore.Record, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}

	var out []eventstore.Record
	if sc != nil {
		sc.holdAppend()
		out, err = b.append(sc.tx(), batch)
		if errors.Is(err, eventstore.ErrStorage) {
			// The batch may be half written into the transaction.
			sc.MarkRollbackOnly()
		}
		return out, err
	}

	b.appendMu.Lock()
	defer b.appendMu.Unlock()
	err = b.db.Update(func(txn *badger.Txn) error {
		out, err = b.append(txn, batch)
		return err
	})
	if err != nil {
		return nil, eventstore.Failure("append", err)
	}
	return out, nil
}

// append writes batch into txn. Callers hold appendMu.
func (b *Backend) append(txn *badger.Txn, batch eventstore.AppendBatch) ([]eventstore.Record, error) {
	last, exists, err := getInt64(txn, versionKey(batch.Stream))
	if err != nil {
		return nil, eventstore.Failure("stream version", err)
	}
	current := eventstore.CurrentVersion(last, exists, batch.Origin)
	if err := eventstore.CheckExpectedVersion(batch.Stream, batch.Expected, current, exists); err != nil {
		return nil, err
	}

	for _, r := range batch.Records {
		_, taken, err := getInt64(txn, idKey(r.EventID))
		if err != nil {
			return nil, eventstore.Failure("event id", err)
		}
		if taken {
			return nil, fmt.Errorf("%w: %s", eventstore.ErrDuplicateEvent, r.EventID)
		}
	}

	out := make([]eventstore.Record, len(batch.Records))
	for i, r := range batch.Records {
		next, err := b.seq.Next()
		if err != nil {
			return nil, eventstore.Failure("playhead", err)
		}
		r.StreamID = batch.Stream
		r.StreamVersion = current + int64(i) + 1
		r.Playhead = int64(next) + 1

		data, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		for _, kv := range [][2][]byte{
			{eventKey(r.Playhead), data},
			{streamKey(r.StreamID, r.StreamVersion), u64(r.Playhead)},
			{idKey(r.EventID), u64(r.Playhead)},
		} {
			if err := txn.Set(kv[0], kv[1]); err != nil {
				return nil, eventstore.Failure("write", err)
			}
		}
		out[i] = r
	}
	if err := txn.Set(versionKey(batch.Stream), u64(out[len(out)-1].StreamVersion)); err != nil {
		return nil, eventstore.Failure("write", err)
	}
	return out, nil
}

func (b *Backend) Read(ctx context.Context, q eventstore.Query) (eventstore.RecordCursor, error) {
	if _, err := b.scope(ctx); err != nil {
		return nil, err
	}
	return eventstore.NewPagedCursor(q, b.pageSize, func(ctx context.Context, after int64, limit int) ([]eventstore.Record, error) {
		var out []eventstore.Record
		err := b.view(ctx, func(txn *badger.Txn) error {
			var err error
			if q.Stream.IsGlobal() {
				out, err = globalPage(txn, q.Direction, after, limit)
			} else {
				out, err = streamPage(txn, q, after, limit)
			}
			return err
		})
		if err != nil {
			return nil, eventstore.Failure("read", err)
		}
		return out, nil
	}), nil
}

func decodeRecord(item *badger.Item) (eventstore.Record, error) {
	var r eventstore.Record
	val, err := item.ValueCopy(nil)
	if err != nil {
		return r, err
	}
	return r, json.Unmarshal(val, &r)
}

func globalPage(txn *badger.Txn, dir eventstore.Direction, after int64, limit int) ([]eventstore.Record, error) {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = dir == eventstore.Backward
	it := txn.NewIterator(opts)
	defer it.Close()

	var seek []byte
	switch {
	case dir == eventstore.Forward:
		seek = eventKey(after + 1)
	case after > 0:
		seek = eventKey(after - 1)
	default:
		seek = join(prefixEvent, []byte{0xFF})
	}

	var out []eventstore.Record
	for it.Seek(seek); it.ValidForPrefix(prefixEvent) && len(out) < limit; it.Next() {
		r, err := decodeRecord(it.Item())
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// streamPage walks the stream index. Versions grow with playheads inside a
// stream, so index order is playhead order.
func streamPage(txn *badger.Txn, q eventstore.Query, after int64, limit int) ([]eventstore.Record, error) {
	prefix := streamPrefix(q.Stream)
	opts := badger.DefaultIteratorOptions
	opts.Reverse = q.Direction == eventstore.Backward

	seek, ok, err := streamSeek(txn, q, after)
	if err != nil || !ok {
		return nil, err
	}
	bound := q
	bound.After = after

	it := txn.NewIterator(opts)
	defer it.Close()

	var out []eventstore.Record
	for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		item, err := txn.Get(eventKey(i64(val)))
		if err != nil {
			return nil, err
		}
		r, err := decodeRecord(item)
		if err != nil {
			return nil, err
		}
		if bound.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// streamSeek finds where a page of q starts in the stream index. A bound
// inside the stream seeks straight past it; one from elsewhere scans from
// the edge and is filtered. ok is false when nothing can follow the bound.
func streamSeek(txn *badger.Txn, q eventstore.Query, after int64) (seek []byte, ok bool, err error) {
	prefix := streamPrefix(q.Stream)
	edge := prefix
	if q.Direction == eventstore.Backward {
		edge = join(prefix, []byte{0xFF})
	}
	if after == 0 {
		return edge, true, nil
	}

	var from eventstore.Record
	found, err := getJSON(txn, eventKey(after), &from)
	if err != nil {
		return nil, false, err
	}
	if !found || from.StreamID != q.Stream {
		return edge, true, nil
	}
	if q.Direction == eventstore.Backward {
		if from.StreamVersion <= 0 {
			return nil, false, nil
		}
		return streamKey(q.Stream, from.StreamVersion-1), true, nil
	}
	return streamKey(q.Stream, from.StreamVersion+1), true, nil
}

func (b *Backend) StreamVersion(ctx context.Context, stream eventstore.StreamID) (version int64, exists bool, err error) {
	err = b.view(ctx, func(txn *badger.Txn) error {
		version, exists, err = getInt64(txn, versionKey(stream))
		return err
	})
	return version, exists, eventstore.Failure("stream version", err)
}

func (b *Backend) RecordAt(ctx context.Context, stream eventstore.StreamID, version int64) (eventstore.Record, bool, error) {
	return b.recordVia(ctx, streamKey(stream, version))
}

func (b *Backend) RecordByID(ctx context.Context, id uuid.UUID) (eventstore.Record, bool, error) {
	return b.recordVia(ctx, idKey(id))
}

// recordVia follows an index key to its record.
func (b *Backend) recordVia(ctx context.Context, key []byte) (r eventstore.Record, found bool, err error) {
	err = b.view(ctx, func(txn *badger.Txn) error {
		playhead, ok, err := getInt64(txn, key)
		if err != nil || !ok {
			return err
		}
		found, err = getJSON(txn, eventKey(playhead), &r)
		return err
	})
	if err != nil {
		return eventstore.Record{}, false, eventstore.Failure("lookup", err)
	}
	return r, found, nil
}

func (b *Backend) Head(ctx context.Context) (head int64, err error) {
	err = b.view(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(join(prefixEvent, []byte{0xFF}))
		if it.ValidForPrefix(prefixEvent) {
			head = i64(it.Item().KeyCopy(nil)[len(prefixEvent):])
		}
		return nil
	})
	return head, eventstore.Failure("head", err)
}
