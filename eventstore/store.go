package eventstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/GabrielCarpr/eventcore/log"
	"github.com/GabrielCarpr/eventcore/metrics"
	"github.com/GabrielCarpr/eventcore/normalize"
	"github.com/GabrielCarpr/eventcore/registry"
	"github.com/GabrielCarpr/eventcore/upcast"
	"github.com/google/uuid"
)

// Store is the event store. It validates and encodes appends, and decodes
// reads through the upcaster chain and type registry. It is safe for
// concurrent use; concurrency control lives in the backend.
type Store struct {
	backend  Backend
	registry *registry.Registry
	chain    *upcast.Chain
	codec    normalize.Codec
	metrics  *metrics.Metrics
	notifier Notifier
	origin   int64
	now      func() time.Time
}

func New(b Backend, opts ...Option) (*Store, error) {
	if b == nil {
		return nil, errors.New("eventcore.eventstore: nil backend")
	}
	s := &Store{
		backend:  b,
		registry: registry.New(),
		chain:    upcast.NewChain(),
		codec:    normalize.New(),
		origin:   DefaultOrigin,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Registry() *registry.Registry {
	return s.registry
}

func (s *Store) Metrics() *metrics.Metrics {
	return s.metrics
}

// Subscriptions is the cursor storage of the backend.
func (s *Store) Subscriptions() SubscriptionStorage {
	return s.backend
}

func (s *Store) Origin() int64 {
	return s.origin
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// AppendToStream writes events to stream if it is at expected. The batch is
// atomic. An empty batch does nothing.
func (s *Store) AppendToStream(ctx context.Context, stream StreamID, expected ExpectedVersion, events ...EventData) error {
	if stream.IsGlobal() {
		return ErrGlobalStreamVirtual
	}
	if stream == "" {
		return ErrEmptyStreamID
	}
	if len(events) == 0 {
		return nil
	}

	records, err := s.encode(events)
	if err != nil {
		return err
	}

	start := s.now()
	written, err := s.backend.Append(ctx, AppendBatch{
		Stream:   stream,
		Expected: expected,
		Origin:   s.origin,
		Records:  records,
	})
	if err != nil {
		var conflict *ConcurrencyError
		if errors.As(err, &conflict) {
			s.metrics.Conflict()
			log.Info(ctx, "append rejected", log.F{"stream": stream, "expected": expected, "actual": conflict.Actual})
			return err
		}
		if errors.Is(err, ErrStorage) {
			return log.Error(ctx, err, log.F{"stream": stream, "events": len(events)})
		}
		return err
	}
	s.metrics.Appended(len(written), s.now().Sub(start))
	log.Debug(ctx, "appended", log.F{
		"stream":   stream,
		"events":   len(written),
		"version":  written[len(written)-1].StreamVersion,
		"playhead": written[len(written)-1].Playhead,
	})

	s.notify(ctx, written)
	return nil
}

func (s *Store) encode(events []EventData) ([]Record, error) {
	at := s.now().UTC().Truncate(time.Microsecond)
	seen := make(map[uuid.UUID]struct{}, len(events))
	records := make([]Record, 0, len(events))

	for _, e := range events {
		if e.ID == uuid.Nil {
			return nil, ErrMissingEventID
		}
		if _, ok := seen[e.ID]; ok {
			return nil, fmt.Errorf("%w: %s appears twice in the batch", ErrDuplicateEvent, e.ID)
		}
		seen[e.ID] = struct{}{}

		tag, err := s.registry.TagOf(e.Event)
		if err != nil {
			return nil, err
		}
		payload, err := s.codec.Normalize(e.Event)
		if err != nil {
			return nil, err
		}
		version := 0
		if v, ok := e.Event.(PayloadVersioned); ok {
			version = v.PayloadVersion()
		}

		records = append(records, Record{
			EventID:        e.ID,
			EventType:      tag,
			PayloadVersion: version,
			Payload:        payload,
			Metadata:       e.Metadata.copy(),
			RecordedAt:     at,
		})
	}
	return records, nil
}

// notify runs once the append is durable: straight away, or when the scope
// it joined commits.
func (s *Store) notify(ctx context.Context, records []Record) {
	if s.notifier == nil {
		return
	}
	send := func() {
		if err := s.notifier.Notify(ctx, records); err != nil {
			log.Warn(ctx, "notifying append", log.F{"error": err.Error(), "events": len(records)})
		}
	}
	if scope := ScopeFrom(ctx); scope != nil {
		scope.AfterCommit(send)
		return
	}
	send()
}

// ReadOptions bound a read. After is the id of an event to start after, in
// the direction of the read. A Limit of 0 is unbounded and counts stored
// records, not upcast events.
type ReadOptions struct {
	After uuid.UUID
	Limit int
}

func (s *Store) ReadStreamForward(ctx context.Context, stream StreamID, opts ReadOptions) (*Iterator, error) {
	return s.read(ctx, stream, Forward, opts)
}

func (s *Store) ReadStreamBackward(ctx context.Context, stream StreamID, opts ReadOptions) (*Iterator, error) {
	return s.read(ctx, stream, Backward, opts)
}

func (s *Store) read(ctx context.Context, stream StreamID, dir Direction, opts ReadOptions) (*Iterator, error) {
	if !stream.IsGlobal() {
		_, exists, err := s.backend.StreamVersion(ctx, stream)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, &StreamNotFoundError{Stream: stream}
		}
	}

	q := Query{Stream: stream, Direction: dir, Limit: opts.Limit}
	if opts.After != uuid.Nil {
		from, found, err := s.backend.RecordByID(ctx, opts.After)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, opts.After)
		}
		q.After = from.Playhead
	}

	cursor, err := s.backend.Read(ctx, q)
	if err != nil {
		return nil, err
	}
	return &Iterator{ctx: ctx, store: s, cursor: cursor, dir: dir}, nil
}

// Stream sends the events of stream to out, closing it when done.
func (s *Store) Stream(ctx context.Context, out chan<- Descriptor, stream StreamID, opts ReadOptions) error {
	defer close(out)

	it, err := s.ReadStreamForward(ctx, stream, opts)
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		select {
		case out <- it.Descriptor():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return it.Err()
}

// GetStream returns the stream's state, or nil if it has no events.
func (s *Store) GetStream(ctx context.Context, stream StreamID) (*Stream, error) {
	if stream.IsGlobal() {
		return nil, ErrGlobalStreamVirtual
	}
	version, exists, err := s.backend.StreamVersion(ctx, stream)
	if err != nil || !exists {
		return nil, err
	}
	return &Stream{ID: stream, Version: version}, nil
}

// GetStreamVersion is GetStream that fails on a missing stream.
func (s *Store) GetStreamVersion(ctx context.Context, stream StreamID) (int64, error) {
	st, err := s.GetStream(ctx, stream)
	if err != nil {
		return 0, err
	}
	if st == nil {
		return 0, &StreamNotFoundError{Stream: stream}
	}
	return st.Version, nil
}

// ReadEventAt decodes the record at version of stream. It returns no
// descriptors when there is none.
func (s *Store) ReadEventAt(ctx context.Context, stream StreamID, version int64) ([]Descriptor, error) {
	r, found, err := s.backend.RecordAt(ctx, stream, version)
	if err != nil || !found {
		return nil, err
	}
	return s.decode(r)
}

// ReadEventByID decodes the record of an event id.
func (s *Store) ReadEventByID(ctx context.Context, id uuid.UUID) ([]Descriptor, error) {
	r, found, err := s.backend.RecordByID(ctx, id)
	if err != nil || !found {
		return nil, err
	}
	return s.decode(r)
}

// RecordAt returns the raw record at version of stream.
func (s *Store) RecordAt(ctx context.Context, stream StreamID, version int64) (Record, bool, error) {
	return s.backend.RecordAt(ctx, stream, version)
}

func (s *Store) RecordByID(ctx context.Context, id uuid.UUID) (Record, bool, error) {
	return s.backend.RecordByID(ctx, id)
}

// Head is the highest playhead in the store.
func (s *Store) Head(ctx context.Context) (int64, error) {
	return s.backend.Head(ctx)
}

// Begin opens a scope, or joins the one in ctx. Pass the returned context
// to the operations that should take part.
func (s *Store) Begin(ctx context.Context) (context.Context, Scope, error) {
	return s.backend.Begin(ctx)
}

// InScope runs fn in a scope, committing when it returns nil.
func (s *Store) InScope(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	ctx, scope, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			scope.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := scope.Rollback(); rbErr != nil {
			log.Warn(ctx, "rolling back scope", log.F{"error": rbErr.Error()})
		}
		return err
	}
	return scope.Commit()
}

// decode turns a record into its current-schema events.
func (s *Store) decode(r Record) ([]Descriptor, error) {
	data, err := s.codec.Unmarshal(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("eventcore.eventstore: record %s: %w", r.EventID, err)
	}

	msgs, err := s.chain.Upcast(upcast.Message{
		Type:     r.EventType,
		Version:  r.PayloadVersion,
		Playhead: r.Playhead,
		Data:     data,
		Metadata: r.Metadata,
	})
	if err != nil {
		return nil, err
	}
	if len(msgs) != 1 {
		s.metrics.Expanded()
	}

	out := make([]Descriptor, 0, len(msgs))
	for _, m := range msgs {
		event, err := s.registry.NewEvent(m.Type)
		if err != nil {
			return nil, fmt.Errorf("eventcore.eventstore: record %s at playhead %d: %w", r.EventID, r.Playhead, err)
		}
		if err := s.codec.Denormalize(m.Data, event); err != nil {
			return nil, err
		}
		out = append(out, Descriptor{
			EventID:        r.EventID,
			StreamID:       r.StreamID,
			StreamVersion:  r.StreamVersion,
			Playhead:       r.Playhead,
			EventType:      m.Type,
			PayloadVersion: m.Version,
			Event:          reflect.ValueOf(event).Elem().Interface(),
			Metadata:       Metadata(m.Metadata),
			RecordedAt:     r.RecordedAt,
		})
	}
	return out, nil
}
