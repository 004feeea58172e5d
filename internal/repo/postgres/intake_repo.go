package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/steward/internal/domain/intake"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/observability"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IntakeRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewIntakeRepo(pool *pgxpool.Pool, prom *observability.Prom) *IntakeRepo {
	return &IntakeRepo{pool: pool, prom: prom}
}

func (r *IntakeRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Insert seeds a fresh Unprocessed row. Duplicate keys map to ErrRowExists.
func (r *IntakeRepo) Insert(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
	now := time.Now().UTC()

	row := intake.Row{
		PartitionKey: partitionKey,
		RowKey:       rowKey,
		Status:       workflow.StatusUnprocessed,
		LeaseUntil:   time.Unix(0, 0).UTC(),
		ETag:         uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	op := "intake.insert"

	err := r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO intake_rows (partition_key, row_key, status, lease_until, etag, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, row.PartitionKey, row.RowKey, string(row.Status), row.LeaseUntil, row.ETag, row.CreatedAt, row.UpdatedAt)

		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return intake.Row{}, intake.ErrRowExists
		}
		return intake.Row{}, err
	}

	return row, nil
}

// GetAvailableUnprocessed returns eligible rows: not terminal, lease lapsed.
func (r *IntakeRepo) GetAvailableUnprocessed(ctx context.Context, take int, now time.Time) ([]intake.Row, error) {
	if take <= 0 {
		take = 50
	}

	var out []intake.Row

	op := "intake.get_available"

	err := r.observe(op, func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT partition_key, row_key, status, lease_until, etag, created_at, updated_at
			FROM intake_rows
			WHERE status IN ('Unprocessed','InProgress')
			  AND lease_until <= $1
			ORDER BY created_at ASC, row_key ASC
			LIMIT $2
		`, now, take)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]intake.Row, 0, take)

		for rows.Next() {
			var row intake.Row
			var status string

			err = rows.Scan(&row.PartitionKey, &row.RowKey, &status, &row.LeaseUntil, &row.ETag, &row.CreatedAt, &row.UpdatedAt)

			if err != nil {
				return err
			}

			row.Status = workflowStatus(status)
			out = append(out, row)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// TryClaim leases a row for one discovery pass. The update is conditional on
// the ETag the caller read, so exactly one of several competing workers wins.
func (r *IntakeRepo) TryClaim(ctx context.Context, row intake.Row, leaseUntil time.Time) (bool, error) {
	claimed := false

	op := "intake.try_claim"

	err := r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE intake_rows
			SET status = 'InProgress',
			    lease_until = $3,
			    etag = $4,
			    updated_at = NOW()
			WHERE partition_key = $1 AND row_key = $2 AND etag = $5
		`, row.PartitionKey, row.RowKey, leaseUntil, uuid.NewString(), row.ETag)

		if err != nil {
			return err
		}

		claimed = tag.RowsAffected() == 1
		return nil
	})

	if err != nil {
		return false, err
	}

	if r.prom != nil {
		result := "claimed"
		if !claimed {
			result = "contended"
		}
		r.prom.IntakeClaims.WithLabelValues(result).Inc()
	}

	return claimed, nil
}

// MarkTerminal forces the row to its final status. Unconditional: completion
// must stick even when another worker holds the lease.
func (r *IntakeRepo) MarkTerminal(ctx context.Context, partitionKey, rowKey string, status workflow.Status) error {
	var err error

	op := "intake.mark_terminal"

	err = r.observe(op, func() error {
		tag, err := r.pool.Exec(ctx, `
			UPDATE intake_rows
			SET status = $3,
			    etag = $4,
			    updated_at = NOW()
			WHERE partition_key = $1 AND row_key = $2
		`, partitionKey, rowKey, string(status), uuid.NewString())

		if err != nil {
			return err
		}

		if tag.RowsAffected() == 0 {
			return intake.ErrRowNotFound
		}
		return nil
	})

	return err
}

func (r *IntakeRepo) Get(ctx context.Context, partitionKey, rowKey string) (intake.Row, error) {
	var row intake.Row
	var status string
	var err error

	op := "intake.get"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
			SELECT partition_key, row_key, status, lease_until, etag, created_at, updated_at
			FROM intake_rows
			WHERE partition_key = $1 AND row_key = $2
		`, partitionKey, rowKey).Scan(&row.PartitionKey, &row.RowKey, &status, &row.LeaseUntil, &row.ETag, &row.CreatedAt, &row.UpdatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return intake.Row{}, intake.ErrRowNotFound
		}
		return intake.Row{}, err
	}

	row.Status = workflowStatus(status)
	return row, nil
}
