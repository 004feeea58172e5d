package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/steward/internal/domain/intake"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

type IntakeRepo struct {
	mu    sync.RWMutex
	items map[string]intake.Row
	clock clockwork.Clock
}

func NewIntakeRepo(clock clockwork.Clock) *IntakeRepo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &IntakeRepo{
		items: make(map[string]intake.Row),
		clock: clock,
	}
}

func rowKeyOf(partitionKey, rowKey string) string {
	return partitionKey + "|" + rowKey
}

func (r *IntakeRepo) Insert(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rowKeyOf(partitionKey, rowKey)

	if _, exists := r.items[key]; exists {
		return intake.Row{}, intake.ErrRowExists
	}

	now := r.clock.Now().UTC()

	row := intake.Row{
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Status:       workflow.StatusUnprocessed,
		LeaseUntil:   time.Unix(0, 0).UTC(),
		ETag:         uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	r.items[key] = row
	return row, nil
}

func (r *IntakeRepo) GetAvailableUnprocessed(ctx context.Context, take int, now time.Time) ([]intake.Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]intake.Row, 0)

	for _, row := range r.items {
		if row.Eligible(now) {
			out = append(out, row)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RowKey < out[j].RowKey
	})

	if take > 0 && len(out) > take {
		out = out[:take]
	}

	return out, nil
}

func (r *IntakeRepo) TryClaim(ctx context.Context, row intake.Row, leaseUntil time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rowKeyOf(row.PartitionKey, row.RowKey)

	stored, ok := r.items[key]
	if !ok || stored.ETag != row.ETag {
		return false, nil
	}

	stored.Status = workflow.StatusInProgress
	stored.LeaseUntil = leaseUntil
	stored.ETag = uuid.NewString()
	stored.UpdatedAt = r.clock.Now().UTC()
	r.items[key] = stored

	return true, nil
}

func (r *IntakeRepo) MarkTerminal(ctx context.Context, partitionKey, rowKey string, status workflow.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rowKeyOf(partitionKey, rowKey)

	stored, ok := r.items[key]
	if !ok {
		return intake.ErrRowNotFound
	}

	stored.Status = status
	stored.ETag = uuid.NewString()
	stored.UpdatedAt = r.clock.Now().UTC()
	r.items[key] = stored

	return nil
}

func (r *IntakeRepo) Get(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.items[rowKeyOf(partitionKey, rowKey)]
	if !ok {
		return intake.Row{}, intake.ErrRowNotFound
	}

	return row, nil
}
