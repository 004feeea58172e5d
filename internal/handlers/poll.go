package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/external"
)

const PollHandlerName = "poll"

// Poll reacts to job.pollrequested.v1: it asks the remote service where the
// job stands and decides between doing nothing, starting another attempt, or
// declaring the outcome. This is the only producer of job.terminal.v1.
//
// FailCanRetry from the remote side is not terminal by itself; it becomes a
// fresh submission.prepared.v1 while attempts remain and a terminal Fail once
// the budget is spent.
type Poll struct {
	d Deps
}

func NewPoll(d Deps) *Poll {
	return &Poll{d: d}
}

func (h *Poll) Name() string { return PollHandlerName }

func (h *Poll) Triggers() []events.EventType {
	return []events.EventType{events.TypeJobPollRequested}
}

func (h *Poll) Handle(ctx context.Context, env bus.Envelope) (Outcome, error) {
	decoded, err := events.DecodePayload(env.Type, env.Data)

	if err != nil {
		h.d.Log.WarnContext(ctx, "poll.bad_trigger", "event_id", env.ID, "err", err)
		return OutcomeSkipped, nil
	}

	trigger, ok := decoded.(events.JobPollRequestedPayload)

	if !ok || trigger.RequestID == "" {
		h.d.Log.WarnContext(ctx, "poll.bad_trigger", "event_id", env.ID, "event_type", string(env.Type))
		return OutcomeSkipped, nil
	}

	requestID := trigger.RequestID
	ctx = withTriggerCorrelation(ctx, env, requestID)

	acquired, err := h.d.Leases.TryBegin(ctx, PollHandlerName, env.ID, h.d.Cfg.IdempotencyLease)

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
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeSkipped)
	}

	// a stored terminal means the outcome was already decided; the completion
	// chain just needs the event again
	if stored, found := findStored(history, events.TypeJobTerminal, nil); found {
		if err := h.d.refreshProjection(ctx, history); err != nil {
			return "", err
		}
		if err := h.d.publishStored(ctx, requestID, stored); err != nil {
			return "", err
		}
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeRepublished)
	}

	jobID := agg.ExternalJobID

	if jobID == "" {
		jobID = trigger.ExternalJobID
	}
	if jobID == "" {
		h.d.Log.WarnContext(ctx, "poll.job_id_missing", "request_id", requestID)
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeSkipped)
	}

	status, err := h.d.External.GetStatus(ctx, jobID)

	if errors.Is(err, external.ErrJobNotFound) {
		// the job will never settle; fail the request rather than poll forever
		h.d.Log.WarnContext(ctx, "poll.job_vanished", "request_id", requestID, "external_job_id", jobID)
		return h.appendTerminal(ctx, env, agg, history, jobID, events.TerminalFail)
	}
	if err != nil {
		return "", err
	}

	switch status {
	case external.StatusCreated, external.StatusInprogress:
		// nothing to record; the scheduler already pushed nextPollAt forward
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeSkipped)

	case external.StatusPass:
		return h.appendTerminal(ctx, env, agg, history, jobID, events.TerminalPass)

	case external.StatusFail:
		return h.appendTerminal(ctx, env, agg, history, jobID, events.TerminalFail)

	case external.StatusFailCanRetry:
		return h.retryOrFail(ctx, env, agg, history, jobID)

	default:
		h.d.Log.WarnContext(ctx, "poll.unknown_status",
			"request_id", requestID,
			"external_job_id", jobID,
			"status", string(status),
		)
		return h.appendTerminal(ctx, env, agg, history, jobID, events.TerminalFail)
	}
}

// appendTerminal records the decided outcome. The discriminator carries the
// full (attempt, job, status) tuple so distinct outcomes can never collide on
// one event id.
func (h *Poll) appendTerminal(
	ctx context.Context,
	env bus.Envelope,
	agg *workflow.Aggregate,
	history []events.StoredEvent,
	jobID string,
	status events.TerminalStatus,
) (Outcome, error) {
	requestID := agg.RequestID
	attempt := agg.SubmitAttemptCount

	if attempt < 1 {
		attempt = 1
	}

	corr := correlationFor(env, requestID)
	disc := fmt.Sprintf("attempt:%d|job:%s|status:%s", attempt, jobID, status)

	evt, err := buildEvent(requestID, events.TypeJobTerminal, events.JobTerminalPayload{
		RequestID:      requestID,
		ExternalJobID:  jobID,
		TerminalStatus: status,
		Attempt:        attempt,
	}, &corr, strptr(env.ID), disc, h.d.Clock.Now())

	if err != nil {
		h.d.Log.WarnContext(ctx, "poll.build_event_failed", "request_id", requestID, "err", err)
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeSkipped)
	}

	expected := agg.Version
	newVersion, err := h.d.Events.Append(ctx, requestID, []events.EventToAppend{evt}, &expected)

	if errors.Is(err, events.ErrConcurrency) {
		// another worker advanced the stream; republish its terminal if it won
		latest, readErr := h.d.Events.ReadStream(ctx, requestID)

		if readErr != nil {
			return "", readErr
		}
		if stored, found := findStored(latest, events.TypeJobTerminal, nil); found {
			if err := h.d.refreshProjection(ctx, latest); err != nil {
				return "", err
			}
			if err := h.d.publishStored(ctx, requestID, stored); err != nil {
				return "", err
			}
			return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeRepublished)
		}
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeSkipped)
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

	h.d.Log.InfoContext(ctx, "poll.terminal_reached",
		"request_id", requestID,
		"external_job_id", jobID,
		"terminal_status", string(status),
		"attempt", attempt,
	)

	return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeCompleted)
}

// retryOrFail handles FailCanRetry: start the next attempt if budget remains,
// otherwise coerce to a terminal Fail.
func (h *Poll) retryOrFail(
	ctx context.Context,
	env bus.Envelope,
	agg *workflow.Aggregate,
	history []events.StoredEvent,
	jobID string,
) (Outcome, error) {
	requestID := agg.RequestID
	next := agg.SubmitAttemptCount + 1

	if next > h.d.Cfg.MaxSubmitAttempts || !agg.HasKeys() {
		h.d.Log.InfoContext(ctx, "poll.retries_exhausted",
			"request_id", requestID,
			"submit_attempt_count", agg.SubmitAttemptCount,
			"max_submit_attempts", h.d.Cfg.MaxSubmitAttempts,
		)
		return h.appendTerminal(ctx, env, agg, history, jobID, events.TerminalFail)
	}

	if agg.HasPrepared(next) {
		stored, found := findStored(history, events.TypeSubmissionPrepared, func(payload any) bool {
			p, ok := payload.(events.SubmissionPreparedPayload)
			return ok && p.Attempt == next
		})

		if !found {
			h.d.Log.WarnContext(ctx, "poll.stored_event_missing", "request_id", requestID, "attempt", next)
			return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeSkipped)
		}

		if err := h.d.refreshProjection(ctx, history); err != nil {
			return "", err
		}
		if err := h.d.publishStored(ctx, requestID, stored); err != nil {
			return "", err
		}
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeRepublished)
	}

	corr := correlationFor(env, requestID)

	evt, err := buildEvent(requestID, events.TypeSubmissionPrepared, events.SubmissionPreparedPayload{
		RequestID:    requestID,
		PartitionKey: agg.PartitionKey,
		RowKey:       agg.RowKey,
		Attempt:      next,
	}, &corr, strptr(env.ID), fmt.Sprintf("attempt:%d", next), h.d.Clock.Now())

	if err != nil {
		h.d.Log.WarnContext(ctx, "poll.build_event_failed", "request_id", requestID, "err", err)
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeSkipped)
	}

	expected := agg.Version
	newVersion, err := h.d.Events.Append(ctx, requestID, []events.EventToAppend{evt}, &expected)

	if errors.Is(err, events.ErrConcurrency) {
		return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeSkipped)
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

	h.d.Log.InfoContext(ctx, "poll.retry_prepared",
		"request_id", requestID,
		"attempt", next,
		"external_job_id", jobID,
	)

	return h.d.finish(ctx, PollHandlerName, env.ID, OutcomeCompleted)
}
