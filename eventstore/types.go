// Package eventstore is an append-only, per-stream versioned log of domain
// events with optimistic concurrency on writes, a global playhead ordering
// every record in the store, and read-time upcasting of stored payloads.
//
// The Store holds the semantics. Storage engines implement Backend, see the
// memory, postgres and badger sub-packages.
package eventstore

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultOrigin is the version of the first event of every stream.
const DefaultOrigin int64 = 1

// StreamID identifies a stream.
type StreamID string

// GlobalStream is the virtual stream of every record ordered by playhead. It
// can be read and subscribed to, never appended to.
const GlobalStream StreamID = "$all"

func (id StreamID) IsGlobal() bool {
	return id == GlobalStream
}

func (id StreamID) String() string {
	return string(id)
}

// ExpectedVersion is the append precondition. Values >= 0 are exact stream
// versions.
type ExpectedVersion int64

const (
	// NoStream requires the stream to have no events.
	NoStream ExpectedVersion = -1
	// Any skips the check.
	Any ExpectedVersion = -2
)

func (v ExpectedVersion) String() string {
	switch v {
	case NoStream:
		return "no-stream"
	case Any:
		return "any"
	}
	return strconv.FormatInt(int64(v), 10)
}

// Metadata travels with each event untouched: causation and correlation
// ids, actor, and so on.
type Metadata map[string]interface{}

func (m Metadata) copy() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EventData is one event to append. ID is chosen by the caller and must be
// unique store-wide.
type EventData struct {
	ID       uuid.UUID
	Event    interface{}
	Metadata Metadata
}

// NewEvent wraps event with a fresh id.
func NewEvent(event interface{}, md Metadata) EventData {
	return EventData{ID: uuid.New(), Event: event, Metadata: md}
}

// PayloadVersioned events declare the schema version their payload is
// written in. Events that don't are written as version 0.
type PayloadVersioned interface {
	PayloadVersion() int
}

// Record is the durable unit.
type Record struct {
	EventID        uuid.UUID `json:"event_id"`
	StreamID       StreamID  `json:"stream_id"`
	StreamVersion  int64     `json:"stream_version"`
	Playhead       int64     `json:"playhead"`
	EventType      string    `json:"event_type"`
	PayloadVersion int       `json:"payload_version"`
	Payload        []byte    `json:"payload"`
	Metadata       Metadata  `json:"metadata"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Descriptor is a decoded event. One record can decode into several
// descriptors when an upcaster split it; they share the record's position.
type Descriptor struct {
	EventID        uuid.UUID
	StreamID       StreamID
	StreamVersion  int64
	Playhead       int64
	EventType      string
	PayloadVersion int
	Event          interface{}
	Metadata       Metadata
	RecordedAt     time.Time
}

// Stream is the derived state of a stream.
type Stream struct {
	ID      StreamID
	Version int64
}

type SubscriptionState string

const (
	SubscriptionCreated SubscriptionState = "created"
	SubscriptionActive  SubscriptionState = "active"
)

// Subscription is a durable read cursor over a stream. A null
// LastReadEventID means reading starts at the beginning.
type Subscription struct {
	ID              string            `json:"id"`
	Stream          StreamID          `json:"stream_id"`
	Types           []string          `json:"types"`
	CatchUp         bool              `json:"catch_up"`
	State           SubscriptionState `json:"state"`
	LastReadEventID uuid.NullUUID     `json:"last_read_event_id"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Wants reports whether the type filter lets eventType through.
func (s Subscription) Wants(eventType string) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == eventType {
			return true
		}
	}
	return false
}
