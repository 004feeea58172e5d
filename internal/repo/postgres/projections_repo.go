package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geocoder89/steward/internal/domain/projection"
	"github.com/geocoder89/steward/internal/observability"
	"github.com/geocoder89/steward/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProjectionsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewProjectionsRepo(pool *pgxpool.Pool, prom *observability.Prom) *ProjectionsRepo {
	return &ProjectionsRepo{pool: pool, prom: prom}
}

func (r *ProjectionsRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Upsert writes the projection last-writer-wins. Staleness is handled by the
// reducer's monotonic version check before the write, not here; the
// projection is a rebuildable cache over the stream.
func (r *ProjectionsRepo) Upsert(ctx context.Context, p *projection.RequestProjection) error {
	op := "projections.upsert"

	return r.observe(op, func() error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO request_projections (
				request_id, partition_key, row_key, status,
				submit_attempt_count, external_job_id, next_poll_at,
				last_applied_version, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (request_id) DO UPDATE SET
				partition_key = EXCLUDED.partition_key,
				row_key = EXCLUDED.row_key,
				status = EXCLUDED.status,
				submit_attempt_count = EXCLUDED.submit_attempt_count,
				external_job_id = EXCLUDED.external_job_id,
				next_poll_at = EXCLUDED.next_poll_at,
				last_applied_version = EXCLUDED.last_applied_version,
				updated_at = EXCLUDED.updated_at
		`, p.RequestID, p.PartitionKey, p.RowKey, string(p.Status),
			p.SubmitAttemptCount, p.ExternalJobID, p.NextPollAt,
			p.LastAppliedVersion, p.UpdatedAt)

		return err
	})
}

func (r *ProjectionsRepo) Get(ctx context.Context, requestID string) (*projection.RequestProjection, error) {
	var p projection.RequestProjection
	var status string
	var err error

	op := "projections.get"

	err = r.observe(op, func() error {
		return r.pool.QueryRow(ctx, `
			SELECT request_id, partition_key, row_key, status,
			       submit_attempt_count, external_job_id, next_poll_at,
			       last_applied_version, updated_at
			FROM request_projections
			WHERE request_id = $1
		`, requestID).Scan(
			&p.RequestID, &p.PartitionKey, &p.RowKey, &status,
			&p.SubmitAttemptCount, &p.ExternalJobID, &p.NextPollAt,
			&p.LastAppliedVersion, &p.UpdatedAt,
		)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, projection.ErrNotFound
		}
		return nil, err
	}

	p.Status = workflowStatus(status)
	return &p, nil
}

// GetDueForPoll selects projections the scheduler should poll: in progress,
// with a due time that has arrived. Oldest due first so a backlog drains in
// order.
func (r *ProjectionsRepo) GetDueForPoll(ctx context.Context, now time.Time, take int) ([]projection.RequestProjection, error) {
	if take <= 0 {
		take = 200
	}

	var out []projection.RequestProjection

	op := "projections.get_due_for_poll"

	err := r.observe(op, func() error {
		rows, err := r.pool.Query(ctx, `
			SELECT request_id, partition_key, row_key, status,
			       submit_attempt_count, external_job_id, next_poll_at,
			       last_applied_version, updated_at
			FROM request_projections
			WHERE status = 'InProgress'
			  AND next_poll_at IS NOT NULL
			  AND next_poll_at <= $1
			ORDER BY next_poll_at ASC
			LIMIT $2
		`, now, take)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]projection.RequestProjection, 0, take)

		for rows.Next() {
			var p projection.RequestProjection
			var status string

			err = rows.Scan(
				&p.RequestID, &p.PartitionKey, &p.RowKey, &status,
				&p.SubmitAttemptCount, &p.ExternalJobID, &p.NextPollAt,
				&p.LastAppliedVersion, &p.UpdatedAt,
			)

			if err != nil {
				return err
			}

			p.Status = workflowStatus(status)
			out = append(out, p)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// ListCursor pages through projections for the ops API, newest first,
// optionally filtered by status. Keyset pagination on (updated_at, request_id).
func (r *ProjectionsRepo) ListCursor(
	ctx context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID string,
) (items []projection.RequestProjection, nextCursor *string, hasMore bool, err error) {
	op := "projections.list_cursor"

	base := `
		SELECT request_id, partition_key, row_key, status,
		       submit_attempt_count, external_job_id, next_poll_at,
		       last_applied_version, updated_at
		FROM request_projections
	`

	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	// DESC keyset: fetch rows "older" than cursor
	conds = append(conds, fmt.Sprintf("(updated_at, request_id) < ($%d, $%d)", argsPos, argsPos+1))
	args = append(args, afterUpdatedAt, afterID)
	argsPos += 2

	q := base + " WHERE " + strings.Join(conds, " AND ")

	limitPlusOne := limit + 1
	q += fmt.Sprintf(" ORDER BY updated_at DESC, request_id DESC LIMIT $%d", argsPos)
	args = append(args, limitPlusOne)

	var rows pgx.Rows

	err = r.observe(op, func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}
	defer rows.Close()

	out := make([]projection.RequestProjection, 0, limit)

	for rows.Next() {
		var p projection.RequestProjection
		var st string

		if scanErr := rows.Scan(
			&p.RequestID, &p.PartitionKey, &p.RowKey, &st,
			&p.SubmitAttemptCount, &p.ExternalJobID, &p.NextPollAt,
			&p.LastAppliedVersion, &p.UpdatedAt,
		); scanErr != nil {
			return nil, nil, false, scanErr
		}
		p.Status = workflowStatus(st)
		out = append(out, p)
	}

	if rows.Err() != nil {
		return nil, nil, false, rows.Err()
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]

		cur, encErr := utils.EncodeProjectionCursor(last.UpdatedAt, last.RequestID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}
