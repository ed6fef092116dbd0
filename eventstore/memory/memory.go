// Package memory is an in-process event store backend, for tests and single
// process tools.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/google/uuid"
)

var _ eventstore.Backend = (*Backend)(nil)

// Backend keeps everything in memory. Appends run one at a time under
// appendMu; a scope that appends holds it until it ends, so appending
// outside that scope from the same goroutine blocks.
type Backend struct {
	appendMu sync.Mutex
	// last playhead handed out, guarded by appendMu. Rolled back
	// appends leave a gap, numbers are never handed out twice.
	next int64

	mx      sync.RWMutex
	records []eventstore.Record
	byID    map[uuid.UUID]int
	streams map[eventstore.StreamID][]int
	subs    map[string]eventstore.Subscription
}

func New() *Backend {
	return &Backend{
		byID:    make(map[uuid.UUID]int),
		streams: make(map[eventstore.StreamID][]int),
		subs:    make(map[string]eventstore.Subscription),
	}
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) Append(ctx context.Context, batch eventstore.AppendBatch) ([]eventstore.Record, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}

	if sc == nil {
		b.appendMu.Lock()
		defer b.appendMu.Unlock()

		records, err := b.prepare(batch, nil)
		if err != nil {
			return nil, err
		}
		b.mx.Lock()
		b.apply(records)
		b.mx.Unlock()
		return records, nil
	}

	sc.holdAppend()
	records, err := b.prepare(batch, sc.records)
	if err != nil {
		return nil, err
	}
	sc.records = append(sc.records, records...)
	return records, nil
}

// prepare checks batch against the committed log plus staged, then assigns
// versions and playheads. Callers hold appendMu.
func (b *Backend) prepare(batch eventstore.AppendBatch, staged []eventstore.Record) ([]eventstore.Record, error) {
	b.mx.RLock()
	last, exists := b.lastVersion(batch.Stream, staged)
	for _, r := range batch.Records {
		if _, ok := b.byID[r.EventID]; ok {
			b.mx.RUnlock()
			return nil, eventstore.ErrDuplicateEvent
		}
	}
	b.mx.RUnlock()

	for _, s := range staged {
		for _, r := range batch.Records {
			if s.EventID == r.EventID {
				return nil, eventstore.ErrDuplicateEvent
			}
		}
	}

	current := eventstore.CurrentVersion(last, exists, batch.Origin)
	if err := eventstore.CheckExpectedVersion(batch.Stream, batch.Expected, current, exists); err != nil {
		return nil, err
	}

	out := make([]eventstore.Record, len(batch.Records))
	for i, r := range batch.Records {
		b.next++
		r.StreamID = batch.Stream
		r.StreamVersion = current + int64(i) + 1
		r.Playhead = b.next
		out[i] = r
	}
	return out, nil
}

// lastVersion needs mx held.
func (b *Backend) lastVersion(stream eventstore.StreamID, staged []eventstore.Record) (int64, bool) {
	for i := len(staged) - 1; i >= 0; i-- {
		if staged[i].StreamID == stream {
			return staged[i].StreamVersion, true
		}
	}
	idx := b.streams[stream]
	if len(idx) == 0 {
		return 0, false
	}
	return b.records[idx[len(idx)-1]].StreamVersion, true
}

// apply needs mx held for writing.
func (b *Backend) apply(records []eventstore.Record) {
	for _, r := range records {
		b.records = append(b.records, r)
		pos := len(b.records) - 1
		b.byID[r.EventID] = pos
		b.streams[r.StreamID] = append(b.streams[r.StreamID], pos)
	}
}

func (b *Backend) Read(ctx context.Context, q eventstore.Query) (eventstore.RecordCursor, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}

	b.mx.RLock()
	var matched []eventstore.Record
	if q.Stream.IsGlobal() {
		for _, r := range b.records {
			if q.Matches(r) {
				matched = append(matched, r)
			}
		}
	} else {
		for _, pos := range b.streams[q.Stream] {
			if r := b.records[pos]; q.Matches(r) {
				matched = append(matched, r)
			}
		}
	}
	b.mx.RUnlock()

	if sc != nil {
		for _, r := range sc.records {
			if q.Matches(r) {
				matched = append(matched, r)
			}
		}
	}

	if q.Direction == eventstore.Backward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return eventstore.NewSliceCursor(matched), nil
}

func (b *Backend) StreamVersion(ctx context.Context, stream eventstore.StreamID) (int64, bool, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return 0, false, err
	}
	b.mx.RLock()
	defer b.mx.RUnlock()
	version, exists := b.lastVersion(stream, sc.staged())
	return version, exists, nil
}

func (b *Backend) RecordAt(ctx context.Context, stream eventstore.StreamID, version int64) (eventstore.Record, bool, error) {
	return b.find(ctx, func(r eventstore.Record) bool {
		return r.StreamID == stream && r.StreamVersion == version
	})
}

func (b *Backend) RecordByID(ctx context.Context, id uuid.UUID) (eventstore.Record, bool, error) {
	return b.find(ctx, func(r eventstore.Record) bool {
		return r.EventID == id
	})
}

func (b *Backend) find(ctx context.Context, match func(eventstore.Record) bool) (eventstore.Record, bool, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return eventstore.Record{}, false, err
	}
	for _, r := range sc.staged() {
		if match(r) {
			return r, true, nil
		}
	}

	b.mx.RLock()
	defer b.mx.RUnlock()
	for _, r := range b.records {
		if match(r) {
			return r, true, nil
		}
	}
	return eventstore.Record{}, false, nil
}

func (b *Backend) Head(ctx context.Context) (int64, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return 0, err
	}
	if staged := sc.staged(); len(staged) > 0 {
		return staged[len(staged)-1].Playhead, nil
	}

	b.mx.RLock()
	defer b.mx.RUnlock()
	if len(b.records) == 0 {
		return 0, nil
	}
	return b.records[len(b.records)-1].Playhead, nil
}

func (b *Backend) CreateSubscription(ctx context.Context, sub eventstore.Subscription) error {
	return b.writeSubscription(ctx, subOp{kind: opCreate, sub: sub})
}

func (b *Backend) UpdateSubscription(ctx context.Context, sub eventstore.Subscription) error {
	return b.writeSubscription(ctx, subOp{kind: opUpdate, sub: sub})
}

func (b *Backend) DeleteSubscription(ctx context.Context, id string) error {
	return b.writeSubscription(ctx, subOp{kind: opDelete, sub: eventstore.Subscription{ID: id}})
}

func (b *Backend) writeSubscription(ctx context.Context, op subOp) error {
	sc, err := b.scope(ctx)
	if err != nil {
		return err
	}
	if sc != nil {
		// Fail early against what the scope sees; commit checks again.
		if err := op.apply(b.subscriptionView(sc)); err != nil {
			return err
		}
		sc.ops = append(sc.ops, op)
		return nil
	}

	b.mx.Lock()
	defer b.mx.Unlock()
	return op.apply(b.subs)
}

func (b *Backend) Subscription(ctx context.Context, id string) (eventstore.Subscription, bool, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return eventstore.Subscription{}, false, err
	}
	sub, ok := b.subscriptionView(sc)[id]
	return copySubscription(sub), ok, nil
}

func (b *Backend) Subscriptions(ctx context.Context) ([]eventstore.Subscription, error) {
	sc, err := b.scope(ctx)
	if err != nil {
		return nil, err
	}
	view := b.subscriptionView(sc)
	out := make([]eventstore.Subscription, 0, len(view))
	for _, sub := range view {
		out = append(out, copySubscription(sub))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// subscriptionView is a private copy of the committed subscriptions with
// the scope's staged writes applied.
func (b *Backend) subscriptionView(sc *scope) map[string]eventstore.Subscription {
	b.mx.RLock()
	view := make(map[string]eventstore.Subscription, len(b.subs))
	for id, sub := range b.subs {
		view[id] = sub
	}
	b.mx.RUnlock()

	for _, op := range sc.pending() {
		_ = op.apply(view)
	}
	return view
}

func copySubscription(sub eventstore.Subscription) eventstore.Subscription {
	if sub.Types != nil {
		sub.Types = append([]string(nil), sub.Types...)
	}
	return sub
}

type opKind uint8

const (
	opCreate opKind = iota + 1
	opUpdate
	opDelete
)

type subOp struct {
	kind opKind
	sub  eventstore.Subscription
}

func (op subOp) apply(subs map[string]eventstore.Subscription) error {
	_, exists := subs[op.sub.ID]
	switch op.kind {
	case opCreate:
		if exists {
			return eventstore.ErrSubscriptionAlreadyExists
		}
		subs[op.sub.ID] = copySubscription(op.sub)
	case opUpdate:
		if !exists {
			return eventstore.ErrSubscriptionNotFound
		}
		subs[op.sub.ID] = copySubscription(op.sub)
	case opDelete:
		delete(subs, op.sub.ID)
	}
	return nil
}
