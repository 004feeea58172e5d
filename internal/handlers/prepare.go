package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/events"
)

const PrepareHandlerName = "prepare"

// Prepare reacts to request.discovered.v1 by appending the next
// submission.prepared.v1. Attempt numbers come from the stream, never from
// the trigger, so a redelivered trigger after a crash lands on the republish
// path instead of starting a second attempt cycle.
type Prepare struct {
	d Deps
}

func NewPrepare(d Deps) *Prepare {
	return &Prepare{d: d}
}

func (h *Prepare) Name() string { return PrepareHandlerName }

func (h *Prepare) Triggers() []events.EventType {
	return []events.EventType{events.TypeRequestDiscovered}
}

func (h *Prepare) Handle(ctx context.Context, env bus.Envelope) (Outcome, error) {
	decoded, err := events.DecodePayload(env.Type, env.Data)

	if err != nil {
		h.d.Log.WarnContext(ctx, "prepare.bad_trigger", "event_id", env.ID, "err", err)
		return OutcomeSkipped, nil
	}

	trigger, ok := decoded.(events.RequestDiscoveredPayload)

	if !ok || trigger.RequestID == "" {
		h.d.Log.WarnContext(ctx, "prepare.bad_trigger", "event_id", env.ID, "event_type", string(env.Type))
		return OutcomeSkipped, nil
	}

	requestID := trigger.RequestID
	ctx = withTriggerCorrelation(ctx, env, requestID)

	acquired, err := h.d.Leases.TryBegin(ctx, PrepareHandlerName, env.ID, h.d.Cfg.IdempotencyLease)

	if err != nil {
		return "", err
	}
	if !acquired {
		return OutcomeSkipped, nil
	}

	history, err := h.d.Events.ReadStream(ctx, requestID)

	if err != nil {
		return "", err
	}

	agg, err := workflow.Rehydrate(requestID, history)

	if err != nil {
		return "", err
	}

	if agg.IsTerminal() {
		return h.d.finish(ctx, PrepareHandlerName, env.ID, OutcomeSkipped)
	}
	if !agg.HasKeys() {
		h.d.Log.WarnContext(ctx, "prepare.keys_missing", "request_id", requestID)
		return h.d.finish(ctx, PrepareHandlerName, env.ID, OutcomeSkipped)
	}

	attempt := agg.SubmitAttemptCount + 1

	if attempt > h.d.Cfg.MaxSubmitAttempts {
		return h.d.finish(ctx, PrepareHandlerName, env.ID, OutcomeSkipped)
	}

	if agg.HasPrepared(attempt) {
		stored, found := findStored(history, events.TypeSubmissionPrepared, func(payload any) bool {
			p, ok := payload.(events.SubmissionPreparedPayload)
			return ok && p.Attempt == attempt
		})

		if !found {
			h.d.Log.WarnContext(ctx, "prepare.stored_event_missing", "request_id", requestID, "attempt", attempt)
			return h.d.finish(ctx, PrepareHandlerName, env.ID, OutcomeSkipped)
		}

		if err := h.d.refreshProjection(ctx, history); err != nil {
			return "", err
		}
		if err := h.d.publishStored(ctx, requestID, stored); err != nil {
			return "", err
		}

		h.d.Log.InfoContext(ctx, "prepare.republished",
			"request_id", requestID,
			"attempt", attempt,
			"event_id", stored.EventID,
		)

		return h.d.finish(ctx, PrepareHandlerName, env.ID, OutcomeRepublished)
	}

	corr := correlationFor(env, requestID)

	evt, err := buildEvent(requestID, events.TypeSubmissionPrepared, events.SubmissionPreparedPayload{
		RequestID:    requestID,
		PartitionKey: agg.PartitionKey,
		RowKey:       agg.RowKey,
		Attempt:      attempt,
	}, &corr, strptr(env.ID), fmt.Sprintf("attempt:%d", attempt), h.d.Clock.Now())

	if err != nil {
		h.d.Log.WarnContext(ctx, "prepare.build_event_failed", "request_id", requestID, "err", err)
		return h.d.finish(ctx, PrepareHandlerName, env.ID, OutcomeSkipped)
	}

	expected := agg.Version
	newVersion, err := h.d.Events.Append(ctx, requestID, []events.EventToAppend{evt}, &expected)

	if errors.Is(err, events.ErrConcurrency) {
		// another worker advanced the stream, treat as handled
		return h.d.finish(ctx, PrepareHandlerName, env.ID, OutcomeSkipped)
	}
	if err != nil {
		return "", err
	}

	history = append(history, toStored(evt, newVersion))

	if err := h.d.refreshProjection(ctx, history); err != nil {
		return "", err
	}
	if err := h.d.Bus.Publish(ctx, evt.EventType, bus.SubjectFor(requestID), evt.EventID, evt.Data); err != nil {
		return "", err
	}

	h.d.Log.InfoContext(ctx, "prepare.attempt_prepared",
		"request_id", requestID,
		"attempt", attempt,
		"stream_version", newVersion,
	)

	return h.d.finish(ctx, PrepareHandlerName, env.ID, OutcomeCompleted)
}
