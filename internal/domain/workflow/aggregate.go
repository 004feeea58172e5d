package workflow

import (
	"errors"

	"github.com/geocoder89/steward/internal/events"
)

// Aggregate is the in-memory state of one request, rebuilt by replaying
// its stream. It is never persisted; the stream is the source of truth.
type Aggregate struct {
	RequestID    string
	PartitionKey string
	RowKey       string
	Status       Status
	Version      int64

	SubmitAttemptCount int
	ExternalJobID      string

	preparedAttempts  map[int]struct{}
	submittedAttempts map[int]struct{}
}

// Rehydrate folds a stream into an Aggregate. Events are sorted by version
// ascending first, so callers may pass history in any order. Unknown event
// types are skipped.
func Rehydrate(requestID string, history []events.StoredEvent) (*Aggregate, error) {
	agg := &Aggregate{
		RequestID:         requestID,
		Status:            StatusUnprocessed,
		preparedAttempts:  make(map[int]struct{}),
		submittedAttempts: make(map[int]struct{}),
	}

	events.SortByVersion(history)

	for _, evt := range history {
		if err := agg.apply(evt); err != nil {
			return nil, err
		}
		agg.Version = evt.Version
	}

	return agg, nil
}

func (a *Aggregate) apply(evt events.StoredEvent) error {
	decoded, err := evt.Decoded()

	if err != nil {
		if errors.Is(err, events.ErrInvalidEventType) {
			// not part of the catalog, skip it
			return nil
		}
		return err
	}

	switch p := decoded.(type) {
	case events.RequestDiscoveredPayload:
		a.PartitionKey = p.PartitionKey
		a.RowKey = p.RowKey
		a.Status = StatusInProgress

	case events.SubmissionPreparedPayload:
		a.preparedAttempts[p.Attempt] = struct{}{}

	case events.JobSubmittedPayload:
		a.submittedAttempts[p.Attempt] = struct{}{}
		if p.Attempt > a.SubmitAttemptCount {
			a.SubmitAttemptCount = p.Attempt
		}
		a.ExternalJobID = p.ExternalJobID
		a.Status = StatusInProgress

	case events.JobTerminalPayload:
		// FailCanRetry is not terminal for the aggregate; another attempt follows.
		switch p.TerminalStatus {
		case events.TerminalPass:
			a.Status = StatusPass
		case events.TerminalFail:
			a.Status = StatusFail
		}

	case events.RequestCompletedPayload:
		switch p.FinalStatus {
		case events.FinalPass:
			a.Status = StatusPass
		case events.FinalFail:
			a.Status = StatusFail
		}

	case events.JobPollRequestedPayload:
		// poll markers do not change aggregate state
	}

	return nil
}

func (a *Aggregate) HasPrepared(attempt int) bool {
	_, ok := a.preparedAttempts[attempt]
	return ok
}

func (a *Aggregate) HasSubmitted(attempt int) bool {
	_, ok := a.submittedAttempts[attempt]
	return ok
}

func (a *Aggregate) IsTerminal() bool {
	return a.Status.IsTerminal()
}

// HasKeys reports whether a discovered event has populated the intake keys.
func (a *Aggregate) HasKeys() bool {
	return a.PartitionKey != "" && a.RowKey != ""
}
