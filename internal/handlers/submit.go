package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/events"
)

const SubmitHandlerName = "submit"

// Submit reacts to submission.prepared.v1 by creating the remote job and
// appending job.submitted.v1. The external call happens before the append:
// createJob is idempotent on (requestId, attempt), so if the append loses a
// race or the worker dies, the retry calls the same endpoint and gets the
// same jobId back.
type Submit struct {
	d Deps
}

func NewSubmit(d Deps) *Submit {
	return &Submit{d: d}
}

func (h *Submit) Name() string { return SubmitHandlerName }

func (h *Submit) Triggers() []events.EventType {
	return []events.EventType{events.TypeSubmissionPrepared}
}

func (h *Submit) Handle(ctx context.Context, env bus.Envelope) (Outcome, error) {
	decoded, err := events.DecodePayload(env.Type, env.Data)

	if err != nil {
		h.d.Log.WarnContext(ctx, "submit.bad_trigger", "event_id", env.ID, "err", err)
		return OutcomeSkipped, nil
	}

	trigger, ok := decoded.(events.SubmissionPreparedPayload)

	if !ok || trigger.RequestID == "" {
		h.d.Log.WarnContext(ctx, "submit.bad_trigger", "event_id", env.ID, "event_type", string(env.Type))
		return OutcomeSkipped, nil
	}

	requestID := trigger.RequestID
	ctx = withTriggerCorrelation(ctx, env, requestID)

	acquired, err := h.d.Leases.TryBegin(ctx, SubmitHandlerName, env.ID, h.d.Cfg.IdempotencyLease)

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
		return h.d.finish(ctx, SubmitHandlerName, env.ID, OutcomeSkipped)
	}

	attempt := trigger.Attempt

	if attempt < 1 || attempt > h.d.Cfg.MaxSubmitAttempts {
		h.d.Log.WarnContext(ctx, "submit.attempt_out_of_range",
			"request_id", requestID,
			"attempt", attempt,
		)
		return h.d.finish(ctx, SubmitHandlerName, env.ID, OutcomeSkipped)
	}

	if agg.HasSubmitted(attempt) {
		stored, found := findStored(history, events.TypeJobSubmitted, func(payload any) bool {
			p, ok := payload.(events.JobSubmittedPayload)
			return ok && p.Attempt == attempt
		})

		if !found {
			h.d.Log.WarnContext(ctx, "submit.stored_event_missing", "request_id", requestID, "attempt", attempt)
			return h.d.finish(ctx, SubmitHandlerName, env.ID, OutcomeSkipped)
		}

		if err := h.d.refreshProjection(ctx, history); err != nil {
			return "", err
		}
		if err := h.d.publishStored(ctx, requestID, stored); err != nil {
			return "", err
		}

		h.d.Log.InfoContext(ctx, "submit.republished",
			"request_id", requestID,
			"attempt", attempt,
			"event_id", stored.EventID,
		)

		return h.d.finish(ctx, SubmitHandlerName, env.ID, OutcomeRepublished)
	}

	job, err := h.d.External.CreateJob(ctx, requestID, attempt)

	if err != nil {
		// transient by contract: let the bus redeliver, the stream is unchanged
		return "", err
	}

	partitionKey, rowKey := agg.PartitionKey, agg.RowKey

	if partitionKey == "" || rowKey == "" {
		partitionKey, rowKey = trigger.PartitionKey, trigger.RowKey
	}

	corr := correlationFor(env, requestID)

	evt, err := buildEvent(requestID, events.TypeJobSubmitted, events.JobSubmittedPayload{
		RequestID:     requestID,
		PartitionKey:  partitionKey,
		RowKey:        rowKey,
		ExternalJobID: job.JobID,
		Attempt:       attempt,
	}, &corr, strptr(env.ID), fmt.Sprintf("attempt:%d", attempt), h.d.Clock.Now())

	if err != nil {
		h.d.Log.WarnContext(ctx, "submit.build_event_failed", "request_id", requestID, "err", err)
		return h.d.finish(ctx, SubmitHandlerName, env.ID, OutcomeSkipped)
	}

	expected := agg.Version
	newVersion, err := h.d.Events.Append(ctx, requestID, []events.EventToAppend{evt}, &expected)

	if errors.Is(err, events.ErrConcurrency) {
		return h.d.finish(ctx, SubmitHandlerName, env.ID, OutcomeSkipped)
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

	h.d.Log.InfoContext(ctx, "submit.job_created",
		"request_id", requestID,
		"attempt", attempt,
		"external_job_id", job.JobID,
		"stream_version", newVersion,
	)

	return h.d.finish(ctx, SubmitHandlerName, env.ID, OutcomeCompleted)
}
