package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/external"
)

// Append succeeds, publish does not; the redelivery must republish the stored
// job.submitted.v1 without calling the external service a second time.
func TestSubmit_CrashAfterAppendRepublishes(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	requestID := "pA|rK"

	seedDiscovered(t, te, requestID, "pA", "rK")
	te.appendSeed(t, requestID, events.TypeSubmissionPrepared, events.SubmissionPreparedPayload{
		RequestID:    requestID,
		PartitionKey: "pA",
		RowKey:       "rK",
		Attempt:      1,
	}, "attempt:1")

	env := triggerEnvelope(t, events.TypeSubmissionPrepared, events.SubmissionPreparedPayload{
		RequestID:    requestID,
		PartitionKey: "pA",
		RowKey:       "rK",
		Attempt:      1,
	}, "evt-prepared-1")

	te.bus.setPublishFunc(func(ctx context.Context, typ events.EventType, subject, eventID string, data json.RawMessage) error {
		return errors.New("broker down")
	})

	submit := NewSubmit(te.deps)

	if _, err := submit.Handle(ctx, env); err == nil {
		t.Fatalf("expected publish failure to propagate")
	}

	history := te.history(t, requestID)

	if len(history) != 3 || history[2].EventType != events.TypeJobSubmitted {
		t.Fatalf("stream after crash = %v, want discovered/prepared/submitted", te.streamTypes(t, requestID))
	}

	te.bus.setPublishFunc(nil)
	te.clock.Advance(te.deps.Cfg.IdempotencyLease + time.Second)

	out, err := submit.Handle(ctx, env)

	if err != nil || out != OutcomeRepublished {
		t.Fatalf("redelivery = (%s, %v), want (republished, nil)", out, err)
	}

	if got := len(te.history(t, requestID)); got != 3 {
		t.Fatalf("redelivery appended, stream has %d events", got)
	}

	created, _ := te.ext.calls()

	if created != 1 {
		t.Fatalf("external createJob called %d times, want 1", created)
	}
	if got := te.bus.last(t).EventID; got != history[2].EventID {
		t.Fatalf("republished id = %s, want stored id %s", got, history[2].EventID)
	}
}

func TestSubmit_RejectsAttemptOutOfRange(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	requestID := "pA|rK"

	seedDiscovered(t, te, requestID, "pA", "rK")

	submit := NewSubmit(te.deps)

	for i, attempt := range []int{0, te.deps.Cfg.MaxSubmitAttempts + 1} {
		env := triggerEnvelope(t, events.TypeSubmissionPrepared, events.SubmissionPreparedPayload{
			RequestID:    requestID,
			PartitionKey: "pA",
			RowKey:       "rK",
			Attempt:      attempt,
		}, "evt-prepared-bad-"+string(rune('a'+i)))

		if out, err := submit.Handle(ctx, env); err != nil || out != OutcomeSkipped {
			t.Fatalf("attempt %d: Handle = (%s, %v), want (skipped, nil)", attempt, out, err)
		}
	}

	created, _ := te.ext.calls()

	if created != 0 {
		t.Fatalf("external called for invalid attempts")
	}
	if got := len(te.history(t, requestID)); got != 1 {
		t.Fatalf("stream has %d events, want 1", got)
	}
}

func TestSubmit_ExternalFailurePropagates(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	requestID := "pA|rK"

	seedDiscovered(t, te, requestID, "pA", "rK")
	te.appendSeed(t, requestID, events.TypeSubmissionPrepared, events.SubmissionPreparedPayload{
		RequestID:    requestID,
		PartitionKey: "pA",
		RowKey:       "rK",
		Attempt:      1,
	}, "attempt:1")

	te.ext.CreateJobFunc = func(ctx context.Context, requestID string, attempt int) (external.Job, error) {
		return external.Job{}, errors.New("upstream 503")
	}

	env := triggerEnvelope(t, events.TypeSubmissionPrepared, events.SubmissionPreparedPayload{
		RequestID:    requestID,
		PartitionKey: "pA",
		RowKey:       "rK",
		Attempt:      1,
	}, "evt-prepared-1")

	if _, err := NewSubmit(te.deps).Handle(ctx, env); err == nil {
		t.Fatalf("expected external failure to propagate")
	}

	// the stream is unchanged, so redelivery repeats the whole step
	if got := len(te.history(t, requestID)); got != 2 {
		t.Fatalf("stream has %d events, want 2", got)
	}
}
