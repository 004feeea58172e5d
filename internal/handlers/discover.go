package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/geocoder89/steward/internal/corrctx"
	"github.com/geocoder89/steward/internal/domain/intake"
	"github.com/geocoder89/steward/internal/events"
)

// Discover claims eligible intake rows and opens a stream for each with
// request.discovered.v1. Timer-driven; runs on every worker instance, so two
// instances may race on the same row. The ETag claim loses one racer and
// expectedVersion=0 on append loses the other, which is why no idempotency
// lease is needed here.
type Discover struct {
	d Deps
}

func NewDiscover(d Deps) *Discover {
	return &Discover{d: d}
}

// Run processes one discovery batch and reports how many rows opened a new
// stream. Row-level trouble is logged and skipped; the row stays leased and
// becomes eligible again once the lease runs out.
func (h *Discover) Run(ctx context.Context) (int, error) {
	now := h.d.Clock.Now().UTC()

	rows, err := h.d.Intake.GetAvailableUnprocessed(ctx, h.d.Cfg.IntakeBatchSize, now)

	if err != nil {
		return 0, err
	}

	discovered := 0

	for _, row := range rows {
		if ctx.Err() != nil {
			return discovered, ctx.Err()
		}
		if h.discoverRow(ctx, row, now) {
			discovered++
		}
	}

	return discovered, nil
}

func (h *Discover) discoverRow(ctx context.Context, row intake.Row, now time.Time) bool {
	claimed, err := h.d.Intake.TryClaim(ctx, row, now.Add(h.d.Cfg.LeaseDuration))

	if err != nil {
		h.d.Log.ErrorContext(ctx, "discover.claim_failed",
			"partition_key", row.PartitionKey,
			"row_key", row.RowKey,
			"err", err,
		)
		return false
	}
	if !claimed {
		// someone else holds the row now
		return false
	}

	rid, err := row.RequestID()

	if err != nil {
		h.d.Log.WarnContext(ctx, "discover.bad_row_keys",
			"partition_key", row.PartitionKey,
			"row_key", row.RowKey,
			"err", err,
		)
		return false
	}

	requestID := rid.String()
	ctx = corrctx.WithCorrelation(ctx, requestID, "")

	evt, err := buildEvent(requestID, events.TypeRequestDiscovered, events.RequestDiscoveredPayload{
		RequestID:    requestID,
		PartitionKey: row.PartitionKey,
		RowKey:       row.RowKey,
	}, strptr(requestID), nil, "", now)

	if err != nil {
		h.d.Log.WarnContext(ctx, "discover.build_event_failed", "request_id", requestID, "err", err)
		return false
	}

	expected := int64(0)
	newVersion, err := h.d.Events.Append(ctx, requestID, []events.EventToAppend{evt}, &expected)

	if errors.Is(err, events.ErrConcurrency) {
		// stream already exists: discovery already happened, nothing to publish
		h.d.Log.DebugContext(ctx, "discover.stream_exists", "request_id", requestID)
		return false
	}
	if err != nil {
		h.d.Log.ErrorContext(ctx, "discover.append_failed", "request_id", requestID, "err", err)
		return false
	}

	history := []events.StoredEvent{toStored(evt, newVersion)}

	if err := h.d.refreshProjection(ctx, history); err != nil {
		// the projection heals on the next append; publishing still must happen
		// or the workflow never leaves discovery
		h.d.Log.WarnContext(ctx, "discover.projection_refresh_failed", "request_id", requestID, "err", err)
	}

	if err := h.d.publishStored(ctx, requestID, history[0]); err != nil {
		h.d.Log.ErrorContext(ctx, "discover.publish_failed", "request_id", requestID, "err", err)
		return false
	}

	h.d.Log.InfoContext(ctx, "discover.request_opened",
		"request_id", requestID,
		"event_id", evt.EventID,
	)

	return true
}
