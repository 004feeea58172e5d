package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/geocoder89/steward/internal/corrctx"
	"github.com/geocoder89/steward/internal/domain/projection"
	"github.com/geocoder89/steward/internal/events"
)

// Scheduler turns due projections into job.pollrequested.v1 events. Timer
// driven. The reducer advances nextPollAt when the event is applied, so a
// scheduled request drops out of the due set for a full poll interval.
type Scheduler struct {
	d Deps
}

func NewScheduler(d Deps) *Scheduler {
	return &Scheduler{d: d}
}

// Run processes one scheduling batch, returning how many poll requests were
// appended and published.
func (h *Scheduler) Run(ctx context.Context) (int, error) {
	now := h.d.Clock.Now().UTC()

	due, err := h.d.Projections.GetDueForPoll(ctx, now, h.d.Cfg.PollBatchSize)

	if err != nil {
		return 0, err
	}

	scheduled := 0

	for _, p := range due {
		if ctx.Err() != nil {
			return scheduled, ctx.Err()
		}
		if h.scheduleOne(ctx, p, now) {
			scheduled++
		}
	}

	return scheduled, nil
}

func (h *Scheduler) scheduleOne(ctx context.Context, p projection.RequestProjection, now time.Time) bool {
	if p.ExternalJobID == nil || *p.ExternalJobID == "" || p.SubmitAttemptCount == 0 {
		// due but not yet submitted; the submit chain will set the job id
		h.d.Log.DebugContext(ctx, "schedule.not_submitted_yet", "request_id", p.RequestID)
		return false
	}
	if p.NextPollAt == nil {
		return false
	}

	requestID := p.RequestID
	ctx = corrctx.WithCorrelation(ctx, requestID, "")

	// the due time namespaces the id: retries inside one interval collide,
	// the next interval gets a fresh event
	disc := fmt.Sprintf("attempt:%d|due:%s", p.SubmitAttemptCount, p.NextPollAt.UTC().Format(time.RFC3339Nano))

	evt, err := buildEvent(requestID, events.TypeJobPollRequested, events.JobPollRequestedPayload{
		RequestID:     requestID,
		ExternalJobID: *p.ExternalJobID,
		Attempt:       p.SubmitAttemptCount,
	}, strptr(requestID), nil, disc, now)

	if err != nil {
		h.d.Log.WarnContext(ctx, "schedule.build_event_failed", "request_id", requestID, "err", err)
		return false
	}

	expected := p.LastAppliedVersion
	newVersion, err := h.d.Events.Append(ctx, requestID, []events.EventToAppend{evt}, &expected)

	if errors.Is(err, events.ErrConcurrency) {
		// another writer advanced the stream since this projection was built
		h.d.Log.DebugContext(ctx, "schedule.stream_advanced", "request_id", requestID)
		return false
	}
	if err != nil {
		h.d.Log.ErrorContext(ctx, "schedule.append_failed", "request_id", requestID, "err", err)
		return false
	}

	next := projection.Reduce(&p, toStored(evt, newVersion), h.d.Cfg.PollInterval)

	if err := h.d.Projections.Upsert(ctx, next); err != nil {
		// publish anyway: a stale nextPollAt only costs a redundant poll
		h.d.Log.WarnContext(ctx, "schedule.projection_refresh_failed", "request_id", requestID, "err", err)
	}

	if err := h.d.publishStored(ctx, requestID, toStored(evt, newVersion)); err != nil {
		h.d.Log.ErrorContext(ctx, "schedule.publish_failed", "request_id", requestID, "err", err)
		return false
	}

	h.d.Log.InfoContext(ctx, "schedule.poll_requested",
		"request_id", requestID,
		"external_job_id", *p.ExternalJobID,
		"attempt", p.SubmitAttemptCount,
	)

	return true
}
