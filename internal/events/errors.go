package events

import "errors"

var (
	ErrInvalidEventType    = errors.New("invalid event type")
	ErrInvalidPayload      = errors.New("invalid event payload")
	ErrPayloadTypeMismatch = errors.New("payload type mismatch for event type")
	ErrEmptyAggregateID    = errors.New("aggregate id must not be empty")

	// ErrConcurrency is returned by the event store when an optimistic
	// version check fails or a duplicate event id lands in a stream. Handlers
	// treat it as "another worker advanced the stream".
	ErrConcurrency = errors.New("stream concurrency conflict")
)
