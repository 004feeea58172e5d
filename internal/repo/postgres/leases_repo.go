package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/steward/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LeasesRepo is the idempotency store: one record per (handler, trigger
// event id). A record moves InProgress -> Completed; an expired InProgress
// lease can be taken over by another worker.
type LeasesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewLeasesRepo(pool *pgxpool.Pool, prom *observability.Prom) *LeasesRepo {
	return &LeasesRepo{pool: pool, prom: prom}
}

func (r *LeasesRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// TryBegin acquires the lease for one delivery. Returns false when the work
// is already completed or another worker holds an unexpired lease; the
// caller skips the delivery in both cases.
func (r *LeasesRepo) TryBegin(ctx context.Context, handler, eventID string, lease time.Duration) (bool, error) {
	acquired := false

	op := "leases.try_begin"

	err := r.observe(op, func() error {
		leaseUntil := time.Now().UTC().Add(lease)

		// 1) Insert if missing
		_, err := r.pool.Exec(ctx, `
			INSERT INTO handler_leases (handler, event_id, status, lease_until, created_at, updated_at)
			VALUES ($1, $2, 'InProgress', $3, NOW(), NOW())
		`, handler, eventID, leaseUntil)

		if err == nil {
			acquired = true
			return nil
		}
		if !IsUniqueViolation(err) {
			return err
		}

		// 2) Row exists. Take over only if the previous lease expired and
		// the work never completed. Atomic: one worker wins the flip.
		tag, uErr := r.pool.Exec(ctx, `
			UPDATE handler_leases
			SET lease_until = $3,
			    updated_at = NOW()
			WHERE handler = $1 AND event_id = $2
			  AND status = 'InProgress'
			  AND lease_until <= NOW()
		`, handler, eventID, leaseUntil)

		if uErr != nil {
			return uErr
		}
		if tag.RowsAffected() == 1 {
			acquired = true
			return nil
		}

		// 3) Completed, or someone else holds a live lease. Either way the
		// delivery is a duplicate.
		var status string

		qErr := r.pool.QueryRow(ctx, `
			SELECT status FROM handler_leases WHERE handler = $1 AND event_id = $2
		`, handler, eventID).Scan(&status)

		if qErr != nil {
			if errors.Is(qErr, pgx.ErrNoRows) {
				// row disappeared; let the caller's retry sort it out
				return nil
			}
			return qErr
		}

		return nil
	})

	if err != nil {
		return false, err
	}

	return acquired, nil
}

func (r *LeasesRepo) MarkCompleted(ctx context.Context, handler, eventID string) error {
	op := "leases.mark_completed"

	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			UPDATE handler_leases
			SET status = 'Completed',
			    updated_at = NOW()
			WHERE handler = $1 AND event_id = $2
		`, handler, eventID)

		return err
	})
}
