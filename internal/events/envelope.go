package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the shared v1 wrapper around every event payload.
type Envelope[T any] struct {
	EventName     string    `json:"eventName"`
	EventVersion  int       `json:"eventVersion"`
	EventID       string    `json:"eventId"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
	Producer      string    `json:"producer"`
	PartitionKey  string    `json:"partitionKey"`
	Sequence      int64     `json:"sequence,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	Schema        string    `json:"schema"`
	Payload       T         `json:"payload"`
}

// RawEnvelope defers payload decoding until the event name is known.
type RawEnvelope = Envelope[json.RawMessage]

// Meta carries tracing identifiers from the triggering request or event.
type Meta struct {
	CorrelationID string
	CausationID   string
	PartitionKey  string
}

func newEnvelope[T any](name, producer string, meta Meta, seq int64, payload T, occurredAt time.Time) Envelope[T] {
	return Envelope[T]{
		EventName:     name,
		EventVersion:  1,
		EventID:       uuid.NewString(),
		CorrelationID: meta.CorrelationID,
		CausationID:   meta.CausationID,
		Producer:      producer,
		PartitionKey:  meta.PartitionKey,
		Sequence:      seq,
		OccurredAt:    occurredAt,
		Schema:        schemaFor(name),
		Payload:       payload,
	}
}

func (e Envelope[T]) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("unexpected eventName %q", e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("unexpected eventVersion %d", e.EventVersion)
	}
	if e.PartitionKey == "" {
		return fmt.Errorf("missing partitionKey")
	}
	if e.EventID == "" {
		return fmt.Errorf("missing eventId")
	}
	return nil
}

// Meta derives metadata for an event caused by this one.
func (e Envelope[T]) Meta(partitionKey string) Meta {
	return Meta{
		CorrelationID: e.CorrelationID,
		CausationID:   e.EventID,
		PartitionKey:  partitionKey,
	}
}

func ParseEnvelope(body []byte) (RawEnvelope, error) {
	var env RawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return RawEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}

// DecodePayload validates the envelope header and unmarshals its payload into T.
func DecodePayload[T any](env RawEnvelope, expectedName string) (T, error) {
	var payload T
	if err := env.Validate(expectedName, 1); err != nil {
		return payload, err
	}
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", expectedName, err)
	}
	return payload, nil
}
