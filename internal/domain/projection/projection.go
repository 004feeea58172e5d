package projection

import (
	"errors"
	"time"

	"github.com/geocoder89/steward/internal/domain/workflow"
)

var ErrNotFound = errors.New("projection not found")

// RequestProjection is the denormalized read model for one request. It is a
// cache over the stream: always rebuildable, updated last-writer-wins, and
// consulted by the poll scheduler and the ops API.
type RequestProjection struct {
	RequestID          string          `json:"requestId"`
	PartitionKey       string          `json:"partitionKey"`
	RowKey             string          `json:"rowKey"`
	Status             workflow.Status `json:"status"`
	SubmitAttemptCount int             `json:"submitAttemptCount"`
	ExternalJobID      *string         `json:"externalJobId,omitempty"`
	NextPollAt         *time.Time      `json:"nextPollAtUtc,omitempty"`
	LastAppliedVersion int64           `json:"lastAppliedEventVersion"`
	UpdatedAt          time.Time       `json:"updatedUtc"`
}

// DueForPoll reports whether the scheduler should request a poll now.
func (p RequestProjection) DueForPoll(now time.Time) bool {
	if p.Status.IsTerminal() {
		return false
	}
	if p.NextPollAt == nil {
		return false
	}
	return !p.NextPollAt.After(now)
}
