package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/geocoder89/steward/internal/domain/projection"
)

type ProjectionsRepo struct {
	mu    sync.RWMutex
	items map[string]projection.RequestProjection
}

func NewProjectionsRepo() *ProjectionsRepo {
	return &ProjectionsRepo{
		items: make(map[string]projection.RequestProjection),
	}
}

func (r *ProjectionsRepo) Upsert(ctx context.Context, p *projection.RequestProjection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[p.RequestID] = *p
	return nil
}

func (r *ProjectionsRepo) Get(ctx context.Context, requestID string) (*projection.RequestProjection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.items[requestID]
	if !ok {
		return nil, projection.ErrNotFound
	}

	out := p
	return &out, nil
}

func (r *ProjectionsRepo) GetDueForPoll(ctx context.Context, now time.Time, take int) ([]projection.RequestProjection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]projection.RequestProjection, 0)

	for _, p := range r.items {
		if p.DueForPoll(now) {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextPollAt.Before(*out[j].NextPollAt)
	})

	if take > 0 && len(out) > take {
		out = out[:take]
	}

	return out, nil
}
