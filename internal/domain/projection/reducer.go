package projection

import (
	"time"

	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/events"
)

// Reduce applies one stored event to the current projection and returns the
// new value. It is pure and monotonic: an event at or below the last applied
// version returns current unchanged. A nil current stands for "no projection
// yet". Unknown event types are ignored.
func Reduce(current *RequestProjection, evt events.StoredEvent, pollInterval time.Duration) *RequestProjection {
	if current != nil && evt.Version <= current.LastAppliedVersion {
		return current
	}

	next := RequestProjection{}
	if current != nil {
		next = *current
	}

	decoded, err := evt.Decoded()

	if err != nil {
		// events outside the catalog or with undecodable payloads do not
		// advance the projection
		return current
	}

	switch p := decoded.(type) {
	case events.RequestDiscoveredPayload:
		next = RequestProjection{
			RequestID:          p.RequestID,
			PartitionKey:       p.PartitionKey,
			RowKey:             p.RowKey,
			Status:             workflow.StatusInProgress,
			SubmitAttemptCount: 0,
		}

	case events.SubmissionPreparedPayload:
		// a higher attempt starts a fresh submit cycle, drop the stale job
		if p.Attempt > next.SubmitAttemptCount {
			next.ExternalJobID = nil
			next.NextPollAt = nil
		}
		next.Status = workflow.StatusInProgress
		if next.RequestID == "" {
			next.RequestID = p.RequestID
		}

	case events.JobSubmittedPayload:
		jobID := p.ExternalJobID
		due := evt.OccurredAt.Add(pollInterval)
		next.ExternalJobID = &jobID
		next.NextPollAt = &due
		if p.Attempt > next.SubmitAttemptCount {
			next.SubmitAttemptCount = p.Attempt
		}
		next.Status = workflow.StatusInProgress
		if next.RequestID == "" {
			next.RequestID = p.RequestID
		}

	case events.JobPollRequestedPayload:
		// pushing the due time forward keeps the scheduler from re-selecting
		// this request within the interval
		due := evt.OccurredAt.Add(pollInterval)
		next.NextPollAt = &due
		if next.RequestID == "" {
			next.RequestID = p.RequestID
		}

	case events.JobTerminalPayload:
		switch p.TerminalStatus {
		case events.TerminalPass:
			next.Status = workflow.StatusPass
		default:
			// Fail and FailCanRetry both land here; a terminal event is only
			// appended once the outcome is decided
			next.Status = workflow.StatusFail
		}
		next.NextPollAt = nil
		if next.RequestID == "" {
			next.RequestID = p.RequestID
		}

	case events.RequestCompletedPayload:
		switch p.FinalStatus {
		case events.FinalPass:
			next.Status = workflow.StatusPass
		default:
			next.Status = workflow.StatusFail
		}
		next.NextPollAt = nil
		if next.RequestID == "" {
			next.RequestID = p.RequestID
		}
	}

	next.LastAppliedVersion = evt.Version
	next.UpdatedAt = evt.OccurredAt

	return &next
}

// ReduceAll folds an ordered stream into a projection, starting from current
// (nil for a fresh build).
func ReduceAll(current *RequestProjection, history []events.StoredEvent, pollInterval time.Duration) *RequestProjection {
	events.SortByVersion(history)

	out := current
	for _, evt := range history {
		out = Reduce(out, evt, pollInterval)
	}

	return out
}
