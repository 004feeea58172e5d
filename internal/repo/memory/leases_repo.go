package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type leaseRecord struct {
	status     string
	leaseUntil time.Time
}

type LeasesRepo struct {
	mu    sync.Mutex
	items map[string]leaseRecord
	clock clockwork.Clock
}

func NewLeasesRepo(clock clockwork.Clock) *LeasesRepo {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LeasesRepo{
		items: make(map[string]leaseRecord),
		clock: clock,
	}
}

func leaseKey(handler, eventID string) string {
	return handler + "/" + eventID
}

func (r *LeasesRepo) TryBegin(ctx context.Context, handler, eventID string, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UTC()
	key := leaseKey(handler, eventID)

	rec, exists := r.items[key]

	if !exists {
		r.items[key] = leaseRecord{status: "InProgress", leaseUntil: now.Add(lease)}
		return true, nil
	}

	if rec.status == "Completed" {
		return false, nil
	}

	// expired lease can be taken over
	if !rec.leaseUntil.After(now) {
		r.items[key] = leaseRecord{status: "InProgress", leaseUntil: now.Add(lease)}
		return true, nil
	}

	return false, nil
}

func (r *LeasesRepo) MarkCompleted(ctx context.Context, handler, eventID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := leaseKey(handler, eventID)

	rec := r.items[key]
	rec.status = "Completed"
	r.items[key] = rec

	return nil
}

// CompletedCount is a test hook: how many records are marked completed.
func (r *LeasesRepo) CompletedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.items {
		if rec.status == "Completed" {
			n++
		}
	}
	return n
}
