package eventstore

import (
	"context"

	"github.com/google/uuid"
)

// Direction of a read.
type Direction int8

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// AppendBatch is what the Store hands a backend. Records arrive encoded with
// id, type, payload, metadata and timestamp set; the backend assigns stream
// versions starting at the stream's version+1 and playheads from its
// store-wide counter.
type AppendBatch struct {
	Stream   StreamID
	Expected ExpectedVersion
	Origin   int64
	Records  []Record
}

// Query selects raw records in playhead order. After is an exclusive
// playhead bound, 0 for none. A Limit of 0 is unbounded.
type Query struct {
	Stream    StreamID
	Direction Direction
	After     int64
	Limit     int
}

// Matches reports whether r falls inside the query's stream and bound.
func (q Query) Matches(r Record) bool {
	if !q.Stream.IsGlobal() && r.StreamID != q.Stream {
		return false
	}
	if q.After == 0 {
		return true
	}
	if q.Direction == Backward {
		return r.Playhead < q.After
	}
	return r.Playhead > q.After
}

// RecordCursor walks query results. Records are produced lazily and never
// restart.
type RecordCursor interface {
	Next(ctx context.Context) bool
	Record() Record
	Err() error
	Close() error
}

// Storage is the event log half of a backend.
//
// Append must check the expected version with CheckExpectedVersion, assign
// versions and playheads and persist the whole batch inside one critical
// section, so that records become visible in playhead order and a failed
// append leaves nothing behind. Driver failures are returned as
// *StorageError.
type Storage interface {
	Append(ctx context.Context, batch AppendBatch) ([]Record, error)
	Read(ctx context.Context, q Query) (RecordCursor, error)
	// StreamVersion returns the version of the stream's last record, and
	// false when it has none.
	StreamVersion(ctx context.Context, stream StreamID) (int64, bool, error)
	RecordAt(ctx context.Context, stream StreamID, version int64) (Record, bool, error)
	RecordByID(ctx context.Context, id uuid.UUID) (Record, bool, error)
	// Head is the highest playhead written, 0 for an empty store.
	Head(ctx context.Context) (int64, error)
	// Begin starts a scope, or joins the one ctx carries.
	Begin(ctx context.Context) (context.Context, Scope, error)
	Close() error
}

// SubscriptionStorage persists subscription cursors.
type SubscriptionStorage interface {
	// CreateSubscription fails with ErrSubscriptionAlreadyExists.
	CreateSubscription(ctx context.Context, sub Subscription) error
	Subscription(ctx context.Context, id string) (Subscription, bool, error)
	// Subscriptions lists every subscription ordered by id.
	Subscriptions(ctx context.Context) ([]Subscription, error)
	// UpdateSubscription fails with ErrSubscriptionNotFound.
	UpdateSubscription(ctx context.Context, sub Subscription) error
	// DeleteSubscription does nothing for an unknown id.
	DeleteSubscription(ctx context.Context, id string) error
}

type Backend interface {
	Storage
	SubscriptionStorage
}

// Notifier is told about records once they are durable.
type Notifier interface {
	Notify(ctx context.Context, records []Record) error
}

type NotifierFunc func(ctx context.Context, records []Record) error

func (f NotifierFunc) Notify(ctx context.Context, records []Record) error {
	return f(ctx, records)
}

// SliceCursor is a RecordCursor over records already in memory.
type SliceCursor struct {
	records []Record
	pos     int
	current Record
}

func NewSliceCursor(records []Record) *SliceCursor {
	return &SliceCursor{records: records}
}

func (c *SliceCursor) Next(ctx context.Context) bool {
	if c.pos >= len(c.records) {
		return false
	}
	c.current = c.records[c.pos]
	c.pos++
	return true
}

func (c *SliceCursor) Record() Record {
	return c.current
}

func (c *SliceCursor) Err() error {
	return nil
}

func (c *SliceCursor) Close() error {
	c.pos = len(c.records)
	return nil
}

// PageFunc loads up to limit records of a query after the given playhead
// bound.
type PageFunc func(ctx context.Context, after int64, limit int) ([]Record, error)

// PagedCursor reads a query lazily in pages by keyset on playhead. Every
// page is a fresh read, so long reads hold no locks or connections.
type PagedCursor struct {
	q        Query
	pageSize int
	load     PageFunc

	page    []Record
	pos     int
	after   int64
	seen    int
	done    bool
	current Record
	err     error
}

func NewPagedCursor(q Query, pageSize int, load PageFunc) *PagedCursor {
	return &PagedCursor{q: q, pageSize: pageSize, load: load, after: q.After}
}

func (c *PagedCursor) Next(ctx context.Context) bool {
	if c.err != nil || (c.q.Limit > 0 && c.seen >= c.q.Limit) {
		return false
	}
	if c.pos >= len(c.page) {
		if c.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			c.err = err
			return false
		}
		size := c.pageSize
		if c.q.Limit > 0 && c.q.Limit-c.seen < size {
			size = c.q.Limit - c.seen
		}
		page, err := c.load(ctx, c.after, size)
		if err != nil {
			c.err = err
			return false
		}
		c.page, c.pos = page, 0
		if len(page) < size {
			c.done = true
		}
		if len(page) == 0 {
			return false
		}
		c.after = page[len(page)-1].Playhead
	}
	c.current = c.page[c.pos]
	c.pos++
	c.seen++
	return true
}

func (c *PagedCursor) Record() Record {
	return c.current
}

func (c *PagedCursor) Err() error {
	return c.err
}

func (c *PagedCursor) Close() error {
	c.done = true
	c.page = nil
	return nil
}
