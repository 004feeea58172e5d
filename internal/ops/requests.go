package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"

	"github.com/geocoder89/steward/internal/cache"
	"github.com/geocoder89/steward/internal/domain/projection"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/handlers"
	"github.com/geocoder89/steward/internal/utils"
)

type ProjectionReader interface {
	Get(ctx context.Context, requestID string) (*projection.RequestProjection, error)
	GetDueForPoll(ctx context.Context, now time.Time, take int) ([]projection.RequestProjection, error)
	ListCursor(
		ctx context.Context,
		status *string,
		limit int,
		afterUpdatedAt time.Time,
		afterID string,
	) ([]projection.RequestProjection, *string, bool, error)
}

type StreamReader interface {
	ReadStream(ctx context.Context, streamID string) ([]events.StoredEvent, error)
}

type StreamRepublisher interface {
	Republish(ctx context.Context, requestID string) (int, error)
}

// RequestsHandler serves the inspection and recovery endpoints. Reads are
// cached briefly; the projection store is authoritative, the cache only
// shields it from dashboard refresh storms.
type RequestsHandler struct {
	projections ProjectionReader
	streams     StreamReader
	republisher StreamRepublisher
	cache       *cache.Cache
	clock       clockwork.Clock
}

func NewRequestsHandler(
	projections ProjectionReader,
	streams StreamReader,
	republisher StreamRepublisher,
	c *cache.Cache,
	clock clockwork.Clock,
) *RequestsHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &RequestsHandler{
		projections: projections,
		streams:     streams,
		republisher: republisher,
		cache:       c,
		clock:       clock,
	}
}

// GET /admin/requests/:id
//
// The id is "{partitionKey}|{rowKey}"; callers URL-encode the separator.
func (h *RequestsHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	if _, err := workflow.ParseRequestID(id); err != nil {
		RespondBadRequest(ctx, "Request id must be partitionKey|rowKey", nil)
		return
	}

	cacheKey := utils.BuildRequestDetailCacheKey(id)

	if h.cache != nil {
		if cached, ok := h.cache.Get(cacheKey); ok {
			RespondJSONWithETag(ctx, http.StatusOK, cached)
			return
		}
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	proj, err := h.projections.Get(cctx, id)

	if err != nil && !errors.Is(err, projection.ErrNotFound) {
		RespondInternal(ctx, "Could not fetch request")
		return
	}

	history, err := h.streams.ReadStream(cctx, id)

	if err != nil {
		RespondInternal(ctx, "Could not read request stream")
		return
	}

	if proj == nil && len(history) == 0 {
		RespondNotFound(ctx, "Request not found")
		return
	}

	resp := gin.H{
		"requestId":    id,
		"projection":   proj,
		"stream":       history,
		"streamLength": len(history),
	}

	if h.cache != nil {
		h.cache.Set(cacheKey, resp)
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// GET /admin/requests?due=true&status=InProgress&limit=50&cursor=...
//
// due=true returns what the poll scheduler would pick up right now and
// ignores status/cursor; everything else pages newest-updated first.
func (h *RequestsHandler) List(ctx *gin.Context) {
	limit := parseIntDefault(ctx.Query("limit"), 20)

	if limit < 1 || limit > 200 {
		RespondBadRequest(ctx, "limit must be between 1 and 200", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	if ctx.Query("due") == "true" {
		h.listDue(ctx, cctx, limit)
		return
	}

	var statusPtr *string

	if s := ctx.Query("status"); s != "" {
		if !validListStatus(s) {
			RespondBadRequest(ctx, "status must be one of Unprocessed, InProgress, Pass, Fail", nil)
			return
		}
		statusPtr = &s
	}

	cursor := ctx.Query("cursor")

	// DESC first-page sentinel: "far future", so every real row qualifies.
	// The id component is never compared while the timestamp is ahead.
	afterUpdatedAt := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	afterID := "~"

	if cursor != "" {
		cur, err := utils.DecodeProjectionCursor(cursor)

		if err != nil {
			RespondBadRequest(ctx, "cursor is invalid", nil)
			return
		}
		afterUpdatedAt = cur.UpdatedAt
		afterID = cur.RequestID
	}

	cacheKey := utils.BuildRequestsListCacheKey(limit, statusPtr, cursor)

	if h.cache != nil {
		if cached, ok := h.cache.Get(cacheKey); ok {
			RespondJSONWithETag(ctx, http.StatusOK, cached)
			return
		}
	}

	items, next, hasMore, err := h.projections.ListCursor(cctx, statusPtr, limit, afterUpdatedAt, afterID)

	if err != nil {
		RespondInternal(ctx, "Could not list requests")
		return
	}

	resp := gin.H{
		"limit":      limit,
		"count":      len(items),
		"items":      items,
		"hasMore":    hasMore,
		"nextCursor": next,
	}

	if h.cache != nil {
		h.cache.Set(cacheKey, resp)
	}

	RespondJSONWithETag(ctx, http.StatusOK, resp)
}

// listDue answers the scheduler preview. Never cached: the whole point is
// seeing what is due at this instant.
func (h *RequestsHandler) listDue(ctx *gin.Context, cctx context.Context, limit int) {
	now := h.clock.Now().UTC()

	items, err := h.projections.GetDueForPoll(cctx, now, limit)

	if err != nil {
		RespondInternal(ctx, "Could not list due requests")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"asOf":  now,
		"limit": limit,
		"count": len(items),
		"items": items,
	})
}

// POST /admin/requests/:id/republish
//
// Re-emits every stored event of the stream with its original deterministic
// id. Safe on healthy requests; meant for the crash-recovery case where an
// append landed but the publish never did.
func (h *RequestsHandler) Republish(ctx *gin.Context) {
	id := ctx.Param("id")

	if _, err := workflow.ParseRequestID(id); err != nil {
		RespondBadRequest(ctx, "Request id must be partitionKey|rowKey", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	n, err := h.republisher.Republish(cctx, id)

	if err != nil {
		if errors.Is(err, handlers.ErrStreamNotFound) {
			RespondNotFound(ctx, "Request not found")
			return
		}
		RespondInternal(ctx, "Could not republish request stream")
		return
	}

	if h.cache != nil {
		h.cache.Delete(utils.BuildRequestDetailCacheKey(id))
	}

	ctx.JSON(http.StatusOK, gin.H{
		"requestId":   id,
		"republished": n,
	})
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}

	n, err := strconv.Atoi(s)

	if err != nil {
		return fallback
	}

	return n
}

func validListStatus(s string) bool {
	switch workflow.Status(s) {
	case workflow.StatusUnprocessed, workflow.StatusInProgress, workflow.StatusPass, workflow.StatusFail:
		return true
	default:
		return false
	}
}
