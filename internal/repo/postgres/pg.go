package postgres

import (
	"errors"

	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/jackc/pgx/v5/pgconn"
)

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

// Helper to convert a scanned status column back to the domain type.
func workflowStatus(s string) workflow.Status {
	switch workflow.Status(s) {
	case workflow.StatusUnprocessed, workflow.StatusInProgress, workflow.StatusPass, workflow.StatusFail:
		return workflow.Status(s)
	default:
		return workflow.StatusUnprocessed
	}
}
