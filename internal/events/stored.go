package events

import (
	"encoding/json"
	"sort"
	"time"
)

// StoredEvent is one persisted entry of an aggregate stream. Immutable once
// appended. Version is 1-based and contiguous per stream; the store assigns
// it on append.
type StoredEvent struct {
	EventID       string          `json:"eventId"`
	EventType     EventType       `json:"eventType"`
	OccurredAt    time.Time       `json:"occurredUtc"`
	Data          json.RawMessage `json:"data"`
	CorrelationID *string         `json:"correlationId,omitempty"`
	CausationID   *string         `json:"causationId,omitempty"`
	Version       int64           `json:"version"`
}

// EventToAppend is a StoredEvent minus the store-assigned version.
type EventToAppend struct {
	EventID       string          `json:"eventId"`
	EventType     EventType       `json:"eventType"`
	OccurredAt    time.Time       `json:"occurredUtc"`
	Data          json.RawMessage `json:"data"`
	CorrelationID *string         `json:"correlationId,omitempty"`
	CausationID   *string         `json:"causationId,omitempty"`
}

// SortByVersion orders a stream slice ascending in place. Reads from the
// store already arrive ordered; replay code sorts anyway so it never depends
// on adapter behavior.
func SortByVersion(stream []StoredEvent) {
	sort.SliceStable(stream, func(i, j int) bool {
		return stream[i].Version < stream[j].Version
	})
}

// Decoded returns the typed payload of a stored event.
func (e StoredEvent) Decoded() (any, error) {
	return DecodePayload(e.EventType, e.Data)
}
