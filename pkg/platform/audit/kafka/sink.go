// Package kafka publishes audit events to a Kafka topic with franz-go.
// Records are keyed by user id so one user's events stay ordered in a partition.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	id "civreg/pkg/domain"
	audit "civreg/pkg/platform/audit"
)

// message is the JSON value of each record.
type message struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
}

type Sink struct {
	client *kgo.Client
	topic  string
}

// New connects a producer for topic. Extra kgo options are appended to the defaults.
func New(brokers []string, topic string, opts ...kgo.Opt) (*Sink, error) {
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProduceRequestTimeout(10 * time.Second),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Sink{client: client, topic: topic}, nil
}

// Append produces event and waits for the broker acknowledgement.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	record, err := Encode(s.topic, event)
	if err != nil {
		return err
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Ping checks broker connectivity.
func (s *Sink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Sink) Close() {
	s.client.Close()
}

// Encode builds the record for event.
func Encode(topic string, event audit.Event) (*kgo.Record, error) {
	m := message{
		ID:        uuid.NewString(),
		Category:  string(event.Category),
		Timestamp: event.Timestamp.UTC(),
		Subject:   event.Subject,
		Action:    event.Action,
		Reason:    event.Reason,
		RequestID: event.RequestID,
		ActorID:   event.ActorID,
	}
	if m.Category == "" {
		m.Category = string(audit.AuditEvent(event.Action).Category())
	}
	if !event.UserID.IsNil() {
		m.UserID = event.UserID.String()
	}
	value, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(m.UserID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(m.Category)},
		},
	}, nil
}

// Decode parses a record produced by Encode.
func Decode(record *kgo.Record) (audit.Event, error) {
	var m message
	if err := json.Unmarshal(record.Value, &m); err != nil {
		return audit.Event{}, fmt.Errorf("unmarshal audit event: %w", err)
	}
	event := audit.Event{
		Category:  audit.EventCategory(m.Category),
		Timestamp: m.Timestamp,
		Subject:   m.Subject,
		Action:    m.Action,
		Reason:    m.Reason,
		RequestID: m.RequestID,
		ActorID:   m.ActorID,
	}
	if m.UserID != "" {
		userID, err := id.ParseUserID(m.UserID)
		if err != nil {
			return audit.Event{}, err
		}
		event.UserID = userID
	}
	return event, nil
}
