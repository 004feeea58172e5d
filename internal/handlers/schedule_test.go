package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/geocoder89/steward/internal/domain/projection"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/events"
)

func TestScheduler_AppendsPollRequestWhenDue(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	requestID := "pA|rK"

	te.seedSubmitted(t, requestID, "pA", "rK", 1, "J-001")
	te.clock.Advance(5 * time.Minute)

	n, err := NewScheduler(te.deps).Run(ctx)

	if err != nil || n != 1 {
		t.Fatalf("Run = (%d, %v), want (1, nil)", n, err)
	}

	history := te.history(t, requestID)
	last := history[len(history)-1]

	if last.EventType != events.TypeJobPollRequested {
		t.Fatalf("last event = %s, want job.pollrequested.v1", last.EventType)
	}

	payload := decodeAs[events.JobPollRequestedPayload](t, last)

	if payload.ExternalJobID != "J-001" || payload.Attempt != 1 {
		t.Fatalf("poll payload = %+v, want J-001 attempt 1", payload)
	}

	// the reducer pushed the due time out a full interval
	proj, err := te.projections.Get(ctx, requestID)

	if err != nil {
		t.Fatalf("Get projection: %v", err)
	}

	wantDue := te.clock.Now().Add(5 * time.Minute)

	if proj.NextPollAt == nil || !proj.NextPollAt.Equal(wantDue) {
		t.Fatalf("nextPollAt = %v, want %v", proj.NextPollAt, wantDue)
	}

	// immediately rescheduling finds nothing due
	if n, err := NewScheduler(te.deps).Run(ctx); err != nil || n != 0 {
		t.Fatalf("second Run = (%d, %v), want (0, nil)", n, err)
	}
}

func TestScheduler_SkipsUnsubmittedProjection(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	due := te.clock.Now()

	p := &projection.RequestProjection{
		RequestID:          "pA|rK",
		PartitionKey:       "pA",
		RowKey:             "rK",
		Status:             workflow.StatusInProgress,
		SubmitAttemptCount: 0,
		NextPollAt:         &due,
		LastAppliedVersion: 1,
		UpdatedAt:          te.clock.Now(),
	}

	if err := te.projections.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if n, err := NewScheduler(te.deps).Run(ctx); err != nil || n != 0 {
		t.Fatalf("Run = (%d, %v), want (0, nil)", n, err)
	}
	if got := te.bus.count(); got != 0 {
		t.Fatalf("published %d events, want 0", got)
	}
}

// A projection that lags the stream loses the optimistic append and schedules
// nothing; the next refresh catches the projection up.
func TestScheduler_StaleProjectionLosesAppend(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()
	requestID := "pA|rK"

	te.seedSubmitted(t, requestID, "pA", "rK", 1, "J-001")

	proj, err := te.projections.Get(ctx, requestID)

	if err != nil {
		t.Fatalf("Get projection: %v", err)
	}

	proj.LastAppliedVersion--

	if err := te.projections.Upsert(ctx, proj); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	te.clock.Advance(5 * time.Minute)

	if n, err := NewScheduler(te.deps).Run(ctx); err != nil || n != 0 {
		t.Fatalf("Run = (%d, %v), want (0, nil)", n, err)
	}
	if got := len(te.history(t, requestID)); got != 3 {
		t.Fatalf("stream has %d events, want 3", got)
	}
	if got := te.bus.count(); got != 0 {
		t.Fatalf("published %d events, want 0", got)
	}
}
