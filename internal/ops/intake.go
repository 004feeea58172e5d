package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/geocoder89/steward/internal/domain/intake"
	"github.com/geocoder89/steward/internal/domain/workflow"
)

type IntakeWriter interface {
	Insert(ctx context.Context, partitionKey, rowKey string) (intake.Row, error)
	Get(ctx context.Context, partitionKey, rowKey string) (intake.Row, error)
}

type IntakeHandler struct {
	repo IntakeWriter
}

func NewIntakeHandler(repo IntakeWriter) *IntakeHandler {
	return &IntakeHandler{repo: repo}
}

type seedIntakeRequest struct {
	PartitionKey string `json:"partitionKey" binding:"required,excludes=0x7C"`
	RowKey       string `json:"rowKey" binding:"required,excludes=0x7C"`
}

// POST /admin/intake
func (h *IntakeHandler) Seed(ctx *gin.Context) {
	var req seedIntakeRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// the separator rule is enforced twice: binding tags for the 400 body,
	// NewRequestID as the source of truth
	if _, err := workflow.NewRequestID(req.PartitionKey, req.RowKey); err != nil {
		RespondBadRequest(ctx, "Keys do not form a valid request id", gin.H{"reason": err.Error()})
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	row, err := h.repo.Insert(cctx, req.PartitionKey, req.RowKey)

	if err != nil {
		if errors.Is(err, intake.ErrRowExists) {
			RespondConflict(ctx, "row_exists", "Intake row already exists")
			return
		}
		RespondInternal(ctx, "Could not seed intake row")
		return
	}

	ctx.JSON(http.StatusCreated, row)
}

// GET /admin/intake/:partitionKey/:rowKey
func (h *IntakeHandler) Get(ctx *gin.Context) {
	partitionKey := ctx.Param("partitionKey")
	rowKey := ctx.Param("rowKey")

	if _, err := workflow.NewRequestID(partitionKey, rowKey); err != nil {
		RespondBadRequest(ctx, "Keys do not form a valid request id", nil)
		return
	}

	cctx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
	defer cancel()

	row, err := h.repo.Get(cctx, partitionKey, rowKey)

	if err != nil {
		if errors.Is(err, intake.ErrRowNotFound) {
			RespondNotFound(ctx, "Intake row not found")
			return
		}
		RespondInternal(ctx, "Could not fetch intake row")
		return
	}

	RespondJSONWithETag(ctx, http.StatusOK, row)
}
