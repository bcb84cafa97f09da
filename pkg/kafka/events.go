package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope published for every domain event.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Key       string          `json:"key,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent wraps data in an envelope with a fresh ID.
func NewEvent(eventType, source, key string, data any, at time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Key:       key,
		Data:      raw,
		Timestamp: at.UTC(),
	}, nil
}

// Encode serializes the envelope.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return b, nil
}

// DecodeEvent parses an envelope from a message value.
func DecodeEvent(value []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		return Event{}, fmt.Errorf("invalid event payload: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("invalid event payload: missing type")
	}
	return ev, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Event) DecodeData(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("invalid %s data: %w", e.Type, err)
	}
	return nil
}
