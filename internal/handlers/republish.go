package handlers

import (
	"context"
	"errors"
)

// ErrStreamNotFound is returned when a republish targets a request that never
// opened a stream.
var ErrStreamNotFound = errors.New("request stream not found")

// Republisher is the operator recovery tool: it rebuilds the projection and
// re-emits every stored event of one stream, oldest first, with the stored
// ids and metadata. Subscribers dedupe on the deterministic ids, so running
// it on a healthy request is harmless.
type Republisher struct {
	d Deps
}

func NewRepublisher(d Deps) *Republisher {
	return &Republisher{d: d}
}

func (h *Republisher) Republish(ctx context.Context, requestID string) (int, error) {
	history, err := h.d.Events.ReadStream(ctx, requestID)

	if err != nil {
		return 0, err
	}
	if len(history) == 0 {
		return 0, ErrStreamNotFound
	}

	if err := h.d.refreshProjection(ctx, history); err != nil {
		return 0, err
	}

	for i, evt := range history {
		if err := h.d.publishStored(ctx, requestID, evt); err != nil {
			return i, err
		}
	}

	h.d.Log.InfoContext(ctx, "republish.stream_replayed",
		"request_id", requestID,
		"event_count", len(history),
	)

	return len(history), nil
}
