package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/observability"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventStore persists per-request streams. Appends are transactional: the
// stream's version row is advanced under an optimistic check and the event
// rows are inserted in the same transaction, so a failure rolls back both.
type EventStore struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewEventStore(pool *pgxpool.Pool, prom *observability.Prom) *EventStore {
	return &EventStore{pool: pool, prom: prom}
}

func (s *EventStore) observe(op string, fn func() error) error {
	if s.prom != nil {
		return s.prom.ObserveDB(op, fn)
	}
	return fn()
}

// Append writes evts to the stream and returns the new version. A non-nil
// expected enforces optimistic concurrency: 0 means the stream must not
// exist yet, any other value must match the current version exactly. A nil
// expected appends at whatever the current version is. Version conflicts
// and duplicate event ids surface as events.ErrConcurrency.
func (s *EventStore) Append(ctx context.Context, streamID string, evts []events.EventToAppend, expected *int64) (int64, error) {
	if streamID == "" {
		return 0, events.ErrEmptyAggregateID
	}
	if len(evts) == 0 {
		return 0, errors.New("append requires at least one event")
	}

	var newVersion int64

	err := s.observe("events.append", func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}

		defer func() {
			_ = tx.Rollback(ctx)
		}()

		base, err := s.advanceStream(ctx, tx, streamID, expected, int64(len(evts)))

		if err != nil {
			return err
		}

		for i, evt := range evts {
			version := base + int64(i) + 1

			_, err = tx.Exec(ctx, `
				INSERT INTO events (stream_id, version, event_id, event_type, occurred_at, data, correlation_id, causation_id)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			`, streamID, version, evt.EventID, string(evt.EventType), evt.OccurredAt, evt.Data, evt.CorrelationID, evt.CausationID)

			if err != nil {
				// a duplicate event id means this exact action already
				// happened in the stream
				if IsUniqueViolation(err) {
					return events.ErrConcurrency
				}
				return err
			}
		}

		newVersion = base + int64(len(evts))
		return tx.Commit(ctx)
	})

	if err != nil {
		return 0, err
	}

	return newVersion, nil
}

// advanceStream bumps the stream metadata row and returns the version the
// new events build on.
func (s *EventStore) advanceStream(ctx context.Context, tx pgx.Tx, streamID string, expected *int64, count int64) (int64, error) {
	if expected == nil {
		// unconditional append: make sure the row exists, then lock it
		_, err := tx.Exec(ctx, `
			INSERT INTO event_streams (stream_id, version, updated_at)
			VALUES ($1, 0, NOW())
			ON CONFLICT (stream_id) DO NOTHING
		`, streamID)

		if err != nil {
			return 0, err
		}

		var current int64
		err = tx.QueryRow(ctx, `
			SELECT version FROM event_streams WHERE stream_id = $1 FOR UPDATE
		`, streamID).Scan(&current)

		if err != nil {
			return 0, err
		}

		_, err = tx.Exec(ctx, `
			UPDATE event_streams SET version = $2, updated_at = NOW() WHERE stream_id = $1
		`, streamID, current+count)

		return current, err
	}

	if *expected == 0 {
		// stream must not exist yet
		_, err := tx.Exec(ctx, `
			INSERT INTO event_streams (stream_id, version, updated_at)
			VALUES ($1, $2, NOW())
		`, streamID, count)

		if err != nil {
			if IsUniqueViolation(err) {
				return 0, events.ErrConcurrency
			}
			return 0, err
		}

		return 0, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE event_streams
		SET version = $2,
		    updated_at = NOW()
		WHERE stream_id = $1 AND version = $3
	`, streamID, *expected+count, *expected)

	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, events.ErrConcurrency
	}

	return *expected, nil
}

// ReadStream returns the full history for one stream ordered by version.
// A missing stream reads as an empty history.
func (s *EventStore) ReadStream(ctx context.Context, streamID string) ([]events.StoredEvent, error) {
	if streamID == "" {
		return nil, events.ErrEmptyAggregateID
	}

	var out []events.StoredEvent

	err := s.observe("events.read_stream", func() error {
		rows, err := s.pool.Query(ctx, `
			SELECT event_id, event_type, occurred_at, data, correlation_id, causation_id, version
			FROM events
			WHERE stream_id = $1
			ORDER BY version ASC
		`, streamID)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]events.StoredEvent, 0, 16)

		for rows.Next() {
			var evt events.StoredEvent
			var eventType string

			err = rows.Scan(&evt.EventID, &eventType, &evt.OccurredAt, &evt.Data, &evt.CorrelationID, &evt.CausationID, &evt.Version)

			if err != nil {
				return err
			}

			evt.EventType = events.EventType(eventType)
			out = append(out, evt)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// CurrentVersion reads the stream metadata row; 0 means no stream yet.
func (s *EventStore) CurrentVersion(ctx context.Context, streamID string) (int64, error) {
	var version int64

	err := s.observe("events.current_version", func() error {
		err := s.pool.QueryRow(ctx, `
			SELECT version FROM event_streams WHERE stream_id = $1
		`, streamID).Scan(&version)

		if errors.Is(err, pgx.ErrNoRows) {
			version = 0
			return nil
		}
		return err
	})

	if err != nil {
		return 0, fmt.Errorf("current version: %w", err)
	}

	return version, nil
}
