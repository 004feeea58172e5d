package intake

import (
	"errors"
	"time"

	"github.com/geocoder89/steward/internal/domain/workflow"
)

var (
	ErrRowNotFound = errors.New("intake row not found")
	ErrRowExists   = errors.New("intake row already exists")
)

// Row is one unit of work waiting to enter the pipeline. Discover leases
// rows with an ETag-conditional claim; terminal writes are unconditional.
type Row struct {
	PartitionKey string          `json:"partitionKey"`
	RowKey       string          `json:"rowKey"`
	Status       workflow.Status `json:"status"`
	LeaseUntil   time.Time       `json:"leaseUntil"`
	ETag         string          `json:"etag"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Eligible reports whether Discover may pick this row up: not yet terminal
// and any previous lease has lapsed.
func (r Row) Eligible(now time.Time) bool {
	if r.Status != workflow.StatusUnprocessed && r.Status != workflow.StatusInProgress {
		return false
	}
	return !r.LeaseUntil.After(now)
}

func (r Row) RequestID() (workflow.RequestID, error) {
	return workflow.NewRequestID(r.PartitionKey, r.RowKey)
}
