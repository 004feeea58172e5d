package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/geocoder89/steward/internal/domain/intake"
	"github.com/geocoder89/steward/internal/domain/projection"
	"github.com/geocoder89/steward/internal/domain/workflow"
	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/external"
	"github.com/geocoder89/steward/internal/observability"
)

// EventStore is the append/read surface handlers need from the stream store.
type EventStore interface {
	Append(ctx context.Context, streamID string, evts []events.EventToAppend, expected *int64) (int64, error)
	ReadStream(ctx context.Context, streamID string) ([]events.StoredEvent, error)
}

type ProjectionStore interface {
	Upsert(ctx context.Context, p *projection.RequestProjection) error
	GetDueForPoll(ctx context.Context, now time.Time, take int) ([]projection.RequestProjection, error)
}

type IntakeStore interface {
	GetAvailableUnprocessed(ctx context.Context, take int, now time.Time) ([]intake.Row, error)
	TryClaim(ctx context.Context, row intake.Row, leaseUntil time.Time) (bool, error)
	MarkTerminal(ctx context.Context, partitionKey, rowKey string, status workflow.Status) error
}

// IdempotencyStore guards against duplicate deliveries. TryBegin returning
// false means the work is done or someone else is on it; skip either way.
type IdempotencyStore interface {
	TryBegin(ctx context.Context, handler, eventID string, lease time.Duration) (bool, error)
	MarkCompleted(ctx context.Context, handler, eventID string) error
}

type ExternalClient interface {
	CreateJob(ctx context.Context, requestID string, attempt int) (external.Job, error)
	GetStatus(ctx context.Context, jobID string) (external.JobStatus, error)
}

type Publisher interface {
	Publish(ctx context.Context, eventType events.EventType, subject, eventID string, data json.RawMessage) error
}

// Config is the tuning surface shared by all handlers.
type Config struct {
	IntakeBatchSize   int
	PollBatchSize     int
	LeaseDuration     time.Duration
	PollInterval      time.Duration
	MaxSubmitAttempts int
	IdempotencyLease  time.Duration
}

// Deps bundles everything a handler touches. One value is built in main and
// shared; handlers themselves stay stateless.
type Deps struct {
	Events      EventStore
	Projections ProjectionStore
	Intake      IntakeStore
	Leases      IdempotencyStore
	External    ExternalClient
	Bus         Publisher
	Clock       clockwork.Clock
	Log         *slog.Logger
	Prom        *observability.Prom
	Cfg         Config
}

// Outcome tells the caller (and the metrics) what a handler invocation did.
type Outcome string

const (
	// OutcomeCompleted means a new event was appended and published.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkipped means the trigger was a duplicate or the work was
	// already done; nothing was appended or published.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeRepublished means no new event was needed but a stored one was
	// sent again, same deterministic id.
	OutcomeRepublished Outcome = "republished"
)
