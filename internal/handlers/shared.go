package handlers

import (
	"context"
	"time"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/corrctx"
	"github.com/geocoder89/steward/internal/domain/projection"
	"github.com/geocoder89/steward/internal/events"
)

func strptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// correlationFor resolves the correlation id carried forward by a handler:
// the trigger's correlation id when present, else the request id itself.
func correlationFor(env bus.Envelope, requestID string) string {
	if env.CorrelationID != nil && *env.CorrelationID != "" {
		return *env.CorrelationID
	}
	return requestID
}

// withTriggerCorrelation stamps the invocation context: correlation rides
// through from the trigger, causation becomes the trigger's own event id.
func withTriggerCorrelation(ctx context.Context, env bus.Envelope, requestID string) context.Context {
	return corrctx.WithCorrelation(ctx, correlationFor(env, requestID), env.ID)
}

// buildEvent validates, encodes, and derives the deterministic id for one new
// event. correlation and causation go into both the id derivation and the
// stored metadata.
func buildEvent(requestID string, t events.EventType, payload any, corr, caus *string, discriminator string, now time.Time) (events.EventToAppend, error) {
	if err := events.ValidatePayload(t, payload); err != nil {
		return events.EventToAppend{}, err
	}

	data, err := events.EncodePayload(t, payload)

	if err != nil {
		return events.EventToAppend{}, err
	}

	id, err := events.DeterministicID(requestID, t, corr, caus, discriminator)

	if err != nil {
		return events.EventToAppend{}, err
	}

	return events.EventToAppend{
		EventID:       id,
		EventType:     t,
		OccurredAt:    now.UTC(),
		Data:          data,
		CorrelationID: corr,
		CausationID:   caus,
	}, nil
}

func toStored(evt events.EventToAppend, version int64) events.StoredEvent {
	return events.StoredEvent{
		EventID:       evt.EventID,
		EventType:     evt.EventType,
		OccurredAt:    evt.OccurredAt,
		Data:          evt.Data,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.CausationID,
		Version:       version,
	}
}

// refreshProjection rebuilds the read model from a full stream and saves it.
// The reducer is monotonic, so rebuilding from scratch and upserting is safe
// even when another worker raced ahead.
func (d Deps) refreshProjection(ctx context.Context, history []events.StoredEvent) error {
	p := projection.ReduceAll(nil, history, d.Cfg.PollInterval)

	if p == nil {
		return nil
	}
	return d.Projections.Upsert(ctx, p)
}

// publishStored re-sends a persisted event with its stored id and metadata.
// Subscribers see the exact same envelope identity as the first delivery.
func (d Deps) publishStored(ctx context.Context, requestID string, evt events.StoredEvent) error {
	corr, caus := "", ""

	if evt.CorrelationID != nil {
		corr = *evt.CorrelationID
	}
	if evt.CausationID != nil {
		caus = *evt.CausationID
	}

	pubCtx := corrctx.WithCorrelation(ctx, corr, caus)

	return d.Bus.Publish(pubCtx, evt.EventType, bus.SubjectFor(requestID), evt.EventID, evt.Data)
}

// findStored returns the most recent stream event of the given type matching
// the predicate. A nil predicate matches any event of the type.
func findStored(history []events.StoredEvent, t events.EventType, match func(payload any) bool) (events.StoredEvent, bool) {
	var (
		found events.StoredEvent
		ok    bool
	)

	for _, evt := range history {
		if evt.EventType != t {
			continue
		}
		if match == nil {
			found, ok = evt, true
			continue
		}

		decoded, err := evt.Decoded()

		if err != nil {
			continue
		}
		if match(decoded) {
			found, ok = evt, true
		}
	}
	return found, ok
}

// finish marks the idempotency record completed and returns the outcome. A
// failed mark propagates: the trigger gets redelivered and the next run lands
// on a republish or skip path, which is safe.
func (d Deps) finish(ctx context.Context, handler, eventID string, outcome Outcome) (Outcome, error) {
	if err := d.Leases.MarkCompleted(ctx, handler, eventID); err != nil {
		return "", err
	}
	return outcome, nil
}
