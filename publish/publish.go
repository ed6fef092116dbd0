// Package publish forwards committed records to a watermill publisher, so
// other processes can react to appends without polling the store.
package publish

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/GabrielCarpr/eventcore/eventstore"
	"github.com/GabrielCarpr/eventcore/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Metadata keys set on every message.
const (
	StreamKey   = "stream"
	VersionKey  = "version"
	PlayheadKey = "playhead"
	TypeKey     = "type"
)

// Envelope is the message payload: one record, still encoded. Consumers
// decode Payload with the store's codec.
type Envelope struct {
	EventID        uuid.UUID           `json:"event_id"`
	StreamID       eventstore.StreamID `json:"stream_id"`
	StreamVersion  int64               `json:"stream_version"`
	Playhead       int64               `json:"playhead"`
	EventType      string              `json:"event_type"`
	PayloadVersion int                 `json:"payload_version"`
	Payload        jsoniter.RawMessage `json:"payload"`
	Metadata       eventstore.Metadata `json:"metadata"`
	RecordedAt     time.Time           `json:"recorded_at"`
}

// NewMessage wraps r in a watermill message whose UUID is the event id, so
// redeliveries can be deduplicated downstream.
func NewMessage(r eventstore.Record) (*message.Message, error) {
	payload := jsoniter.RawMessage(r.Payload)
	if len(payload) == 0 {
		payload = jsoniter.RawMessage("{}")
	}
	data, err := json.Marshal(Envelope{
		EventID:        r.EventID,
		StreamID:       r.StreamID,
		StreamVersion:  r.StreamVersion,
		Playhead:       r.Playhead,
		EventType:      r.EventType,
		PayloadVersion: r.PayloadVersion,
		Payload:        payload,
		Metadata:       r.Metadata,
		RecordedAt:     r.RecordedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("eventcore.publish: encode %s: %w", r.EventID, err)
	}

	msg := message.NewMessage(r.EventID.String(), data)
	msg.Metadata.Set(StreamKey, r.StreamID.String())
	msg.Metadata.Set(VersionKey, strconv.FormatInt(r.StreamVersion, 10))
	msg.Metadata.Set(PlayheadKey, strconv.FormatInt(r.Playhead, 10))
	msg.Metadata.Set(TypeKey, r.EventType)
	return msg, nil
}

// Messages wraps every record.
func Messages(records []eventstore.Record) ([]*message.Message, error) {
	msgs := make([]*message.Message, 0, len(records))
	for _, r := range records {
		msg, err := NewMessage(r)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Decode turns a message written by NewMessage back into its record.
func Decode(msg *message.Message) (eventstore.Record, error) {
	var env Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		return eventstore.Record{}, fmt.Errorf("eventcore.publish: decode message %s: %w", msg.UUID, err)
	}
	return eventstore.Record{
		EventID:        env.EventID,
		StreamID:       env.StreamID,
		StreamVersion:  env.StreamVersion,
		Playhead:       env.Playhead,
		EventType:      env.EventType,
		PayloadVersion: env.PayloadVersion,
		Payload:        []byte(env.Payload),
		Metadata:       env.Metadata,
		RecordedAt:     env.RecordedAt,
	}, nil
}

// Publisher is an eventstore.Notifier over a watermill publisher.
type Publisher struct {
	publisher message.Publisher
	topic     string
}

var _ eventstore.Notifier = (*Publisher)(nil)

func New(publisher message.Publisher, topic string) *Publisher {
	return &Publisher{publisher: publisher, topic: topic}
}

func (p *Publisher) Notify(ctx context.Context, records []eventstore.Record) error {
	msgs, err := Messages(records)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		msg.SetContext(ctx)
	}

	log.Debug(ctx, "publishing records", log.F{"topic": p.topic, "count": len(msgs)})
	return p.publisher.Publish(p.topic, msgs...)
}

func (p *Publisher) Close() error {
	return p.publisher.Close()
}
