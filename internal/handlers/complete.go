package handlers

import (
	"context"
	"errors"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/domain/intake"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/events"
)

const CompleteHandlerName = "complete"

// Complete reacts to job.terminal.v1: it writes the outcome back to the
// intake row and seals the stream with request.completed.v1. The intake write
// comes first and is an unconditional overwrite, so a crash between the two
// steps is healed by the redelivery.
type Complete struct {
	d Deps
}

func NewComplete(d Deps) *Complete {
	return &Complete{d: d}
}

func (h *Complete) Name() string { return CompleteHandlerName }

func (h *Complete) Triggers() []events.EventType {
	return []events.EventType{events.TypeJobTerminal}
}

// finalFor maps a terminal status onto the two final outcomes. A terminal
// event carrying FailCanRetry should not exist (the poll handler coerces
// exhausted retries to Fail before appending); mapping it to Fail here keeps
// a producer bug from wedging the request.
func finalFor(s events.TerminalStatus) events.FinalStatus {
	if s == events.TerminalPass {
		return events.FinalPass
	}
	return events.FinalFail
}

func intakeStatusFor(s events.FinalStatus) workflow.Status {
	if s == events.FinalPass {
		return workflow.StatusPass
	}
	return workflow.StatusFail
}

func (h *Complete) Handle(ctx context.Context, env bus.Envelope) (Outcome, error) {
	decoded, err := events.DecodePayload(env.Type, env.Data)

	if err != nil {
		h.d.Log.WarnContext(ctx, "complete.bad_trigger", "event_id", env.ID, "err", err)
		return OutcomeSkipped, nil
	}

	trigger, ok := decoded.(events.JobTerminalPayload)

	if !ok || trigger.RequestID == "" {
		h.d.Log.WarnContext(ctx, "complete.bad_trigger", "event_id", env.ID, "event_type", string(env.Type))
		return OutcomeSkipped, nil
	}

	requestID := trigger.RequestID
	ctx = withTriggerCorrelation(ctx, env, requestID)

	if trigger.TerminalStatus == events.TerminalFailCanRetry {
		h.d.Log.WarnContext(ctx, "complete.retryable_terminal",
			"request_id", requestID,
			"event_id", env.ID,
		)
	}

	acquired, err := h.d.Leases.TryBegin(ctx, CompleteHandlerName, env.ID, h.d.Cfg.IdempotencyLease)

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

	partitionKey, rowKey := agg.PartitionKey, agg.RowKey

	if partitionKey == "" || rowKey == "" {
		rid, parseErr := workflow.ParseRequestID(requestID)

		if parseErr != nil {
			h.d.Log.WarnContext(ctx, "complete.keys_missing", "request_id", requestID, "err", parseErr)
			return h.d.finish(ctx, CompleteHandlerName, env.ID, OutcomeSkipped)
		}
		partitionKey, rowKey = rid.PartitionKey, rid.RowKey
	}

	// an existing completion event wins over the trigger: redeliveries only
	// repeat its intake write and its publication
	if stored, found := findStored(history, events.TypeRequestCompleted, nil); found {
		final := finalFor(trigger.TerminalStatus)

		if p, decodeErr := stored.Decoded(); decodeErr == nil {
			if completed, ok := p.(events.RequestCompletedPayload); ok {
				final = completed.FinalStatus
			}
		}

		if err := h.writeIntake(ctx, partitionKey, rowKey, final); err != nil {
			return "", err
		}
		if err := h.d.refreshProjection(ctx, history); err != nil {
			return "", err
		}
		if err := h.d.publishStored(ctx, requestID, stored); err != nil {
			return "", err
		}
		return h.d.finish(ctx, CompleteHandlerName, env.ID, OutcomeRepublished)
	}

	final := finalFor(trigger.TerminalStatus)

	if err := h.writeIntake(ctx, partitionKey, rowKey, final); err != nil {
		return "", err
	}

	corr := correlationFor(env, requestID)

	evt, err := buildEvent(requestID, events.TypeRequestCompleted, events.RequestCompletedPayload{
		RequestID:   requestID,
		FinalStatus: final,
	}, &corr, strptr(env.ID), "final:"+string(final), h.d.Clock.Now())

	if err != nil {
		h.d.Log.WarnContext(ctx, "complete.build_event_failed", "request_id", requestID, "err", err)
		return h.d.finish(ctx, CompleteHandlerName, env.ID, OutcomeSkipped)
	}

	expected := agg.Version
	newVersion, err := h.d.Events.Append(ctx, requestID, []events.EventToAppend{evt}, &expected)

	if errors.Is(err, events.ErrConcurrency) {
		return h.d.finish(ctx, CompleteHandlerName, env.ID, OutcomeSkipped)
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

	h.d.Log.InfoContext(ctx, "complete.request_finished",
		"request_id", requestID,
		"final_status", string(final),
		"stream_version", newVersion,
	)

	return h.d.finish(ctx, CompleteHandlerName, env.ID, OutcomeCompleted)
}

// writeIntake forces the terminal status onto the intake row. A missing row
// is logged and tolerated: the stream still completes, the row is an operator
// problem.
func (h *Complete) writeIntake(ctx context.Context, partitionKey, rowKey string, final events.FinalStatus) error {
	err := h.d.Intake.MarkTerminal(ctx, partitionKey, rowKey, intakeStatusFor(final))

	if errors.Is(err, intake.ErrRowNotFound) {
		h.d.Log.WarnContext(ctx, "complete.intake_row_missing",
			"partition_key", partitionKey,
			"row_key", rowKey,
		)
		return nil
	}
	return err
}
