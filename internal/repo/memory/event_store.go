package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/geocoder89/steward/internal/events"
)

// EventStore mirrors the postgres store for tests: per-stream versioned
// history with optimistic appends and duplicate event id rejection.
type EventStore struct {
	mu       sync.RWMutex
	streams  map[string][]events.StoredEvent
	versions map[string]int64
}

func NewEventStore() *EventStore {
	return &EventStore{
		streams:  make(map[string][]events.StoredEvent),
		versions: make(map[string]int64),
	}
}

func (s *EventStore) Append(ctx context.Context, streamID string, evts []events.EventToAppend, expected *int64) (int64, error) {
	if streamID == "" {
		return 0, events.ErrEmptyAggregateID
	}
	if len(evts) == 0 {
		return 0, errors.New("append requires at least one event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.versions[streamID]

	if expected != nil && *expected != current {
		return 0, events.ErrConcurrency
	}

	// duplicate event ids within a stream are a concurrency signal
	seen := make(map[string]struct{}, len(s.streams[streamID]))
	for _, e := range s.streams[streamID] {
		seen[e.EventID] = struct{}{}
	}

	for _, evt := range evts {
		if _, dup := seen[evt.EventID]; dup {
			return 0, events.ErrConcurrency
		}
		seen[evt.EventID] = struct{}{}
	}

	for i, evt := range evts {
		s.streams[streamID] = append(s.streams[streamID], events.StoredEvent{
			EventID:       evt.EventID,
			EventType:     evt.EventType,
			OccurredAt:    evt.OccurredAt,
			Data:          evt.Data,
			CorrelationID: evt.CorrelationID,
			CausationID:   evt.CausationID,
			Version:       current + int64(i) + 1,
		})
	}

	s.versions[streamID] = current + int64(len(evts))
	return s.versions[streamID], nil
}

func (s *EventStore) ReadStream(ctx context.Context, streamID string) ([]events.StoredEvent, error) {
	if streamID == "" {
		return nil, events.ErrEmptyAggregateID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.streams[streamID]
	out := make([]events.StoredEvent, len(history))
	copy(out, history)

	return out, nil
}

func (s *EventStore) CurrentVersion(ctx context.Context, streamID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.versions[streamID], nil
}
