package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/corrctx"
	"github.com/geocoder89/steward/internal/domain/projection"
	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/external"
	"github.com/geocoder89/steward/internal/repo/memory"
)

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type publishedEvent struct {
	Type    events.EventType
	Subject string
	EventID string
	Data    json.RawMessage
	Corr    string
	Caus    string
}

// fakeBus records publishes; setting PublishFunc overrides delivery entirely,
// which is how tests simulate a broker outage.
type fakeBus struct {
	mu          sync.Mutex
	PublishFunc func(ctx context.Context, t events.EventType, subject, eventID string, data json.RawMessage) error
	published   []publishedEvent
}

func (b *fakeBus) Publish(ctx context.Context, t events.EventType, subject, eventID string, data json.RawMessage) error {
	b.mu.Lock()
	fn := b.PublishFunc
	b.mu.Unlock()

	if fn != nil {
		return fn(ctx, t, subject, eventID, data)
	}

	rec := publishedEvent{Type: t, Subject: subject, EventID: eventID, Data: data}

	if corr, ok := corrctx.CorrelationFrom(ctx); ok {
		rec.Corr = corr
	}
	if caus, ok := corrctx.CausationFrom(ctx); ok {
		rec.Caus = caus
	}

	b.mu.Lock()
	b.published = append(b.published, rec)
	b.mu.Unlock()

	return nil
}

func (b *fakeBus) setPublishFunc(fn func(ctx context.Context, t events.EventType, subject, eventID string, data json.RawMessage) error) {
	b.mu.Lock()
	b.PublishFunc = fn
	b.mu.Unlock()
}

func (b *fakeBus) events() []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]publishedEvent, len(b.published))
	copy(out, b.published)
	return out
}

func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func (b *fakeBus) last(t *testing.T) publishedEvent {
	t.Helper()

	evts := b.events()

	if len(evts) == 0 {
		t.Fatalf("expected at least one published event")
	}
	return evts[len(evts)-1]
}

// envelopeAt turns the i-th published record back into the envelope a
// consumer would receive, for chaining handlers in pipeline tests.
func (b *fakeBus) envelopeAt(t *testing.T, i int) bus.Envelope {
	t.Helper()

	evts := b.events()

	if i >= len(evts) {
		t.Fatalf("published %d events, wanted index %d", len(evts), i)
	}

	rec := evts[i]
	env := bus.Envelope{
		ID:              rec.EventID,
		Type:            rec.Type,
		Source:          bus.DefaultSource,
		Subject:         rec.Subject,
		Time:            testStart,
		DataContentType: "application/json",
		Data:            rec.Data,
	}

	if rec.Corr != "" {
		env.CorrelationID = &rec.Corr
	}
	if rec.Caus != "" {
		env.CausationID = &rec.Caus
	}
	return env
}

type fakeExternal struct {
	mu            sync.Mutex
	CreateJobFunc func(ctx context.Context, requestID string, attempt int) (external.Job, error)
	GetStatusFunc func(ctx context.Context, jobID string) (external.JobStatus, error)
	createCalls   int
	statusCalls   int
}

func (f *fakeExternal) CreateJob(ctx context.Context, requestID string, attempt int) (external.Job, error) {
	f.mu.Lock()
	f.createCalls++
	fn := f.CreateJobFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, requestID, attempt)
	}
	return external.Job{JobID: fmt.Sprintf("J-%03d", attempt), Status: external.StatusCreated}, nil
}

func (f *fakeExternal) GetStatus(ctx context.Context, jobID string) (external.JobStatus, error) {
	f.mu.Lock()
	f.statusCalls++
	fn := f.GetStatusFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, jobID)
	}
	return external.StatusPass, nil
}

func (f *fakeExternal) calls() (created, polled int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.statusCalls
}

type testEnv struct {
	deps        Deps
	clock       *clockwork.FakeClock
	store       *memory.EventStore
	projections *memory.ProjectionsRepo
	intake      *memory.IntakeRepo
	leases      *memory.LeasesRepo
	bus         *fakeBus
	ext         *fakeExternal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testStart)
	te := &testEnv{
		clock:       clock,
		store:       memory.NewEventStore(),
		projections: memory.NewProjectionsRepo(),
		intake:      memory.NewIntakeRepo(clock),
		leases:      memory.NewLeasesRepo(clock),
		bus:         &fakeBus{},
		ext:         &fakeExternal{},
	}

	te.deps = Deps{
		Events:      te.store,
		Projections: te.projections,
		Intake:      te.intake,
		Leases:      te.leases,
		External:    te.ext,
		Bus:         te.bus,
		Clock:       clock,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cfg: Config{
			IntakeBatchSize:   50,
			PollBatchSize:     200,
			LeaseDuration:     30 * time.Minute,
			PollInterval:      5 * time.Minute,
			MaxSubmitAttempts: 3,
			IdempotencyLease:  2 * time.Minute,
		},
	}

	return te
}

func (te *testEnv) history(t *testing.T, requestID string) []events.StoredEvent {
	t.Helper()

	history, err := te.store.ReadStream(context.Background(), requestID)

	if err != nil {
		t.Fatalf("ReadStream: %v", err)
	}
	return history
}

func (te *testEnv) streamTypes(t *testing.T, requestID string) []events.EventType {
	t.Helper()

	history := te.history(t, requestID)
	types := make([]events.EventType, 0, len(history))

	for _, evt := range history {
		types = append(types, evt.EventType)
	}
	return types
}

// appendSeed writes one event straight into the store, bypassing handlers.
func (te *testEnv) appendSeed(t *testing.T, requestID string, typ events.EventType, payload any, discriminator string) events.StoredEvent {
	t.Helper()

	evt, err := buildEvent(requestID, typ, payload, strptr(requestID), nil, discriminator, te.clock.Now())

	if err != nil {
		t.Fatalf("buildEvent(%s): %v", typ, err)
	}

	version, err := te.store.Append(context.Background(), requestID, []events.EventToAppend{evt}, nil)

	if err != nil {
		t.Fatalf("Append(%s): %v", typ, err)
	}
	return toStored(evt, version)
}

// seedSubmitted builds a discovered→prepared→submitted stream covering the
// given number of attempts, with the last submission using jobID, and puts a
// matching projection in place. Returns the stream history.
func (te *testEnv) seedSubmitted(t *testing.T, requestID, partitionKey, rowKey string, attempts int, jobID string) []events.StoredEvent {
	t.Helper()

	te.appendSeed(t, requestID, events.TypeRequestDiscovered, events.RequestDiscoveredPayload{
		RequestID:    requestID,
		PartitionKey: partitionKey,
		RowKey:       rowKey,
	}, "")

	for a := 1; a <= attempts; a++ {
		jid := fmt.Sprintf("J-%03d", a)

		if a == attempts {
			jid = jobID
		}

		te.appendSeed(t, requestID, events.TypeSubmissionPrepared, events.SubmissionPreparedPayload{
			RequestID:    requestID,
			PartitionKey: partitionKey,
			RowKey:       rowKey,
			Attempt:      a,
		}, fmt.Sprintf("attempt:%d", a))

		te.appendSeed(t, requestID, events.TypeJobSubmitted, events.JobSubmittedPayload{
			RequestID:     requestID,
			PartitionKey:  partitionKey,
			RowKey:        rowKey,
			ExternalJobID: jid,
			Attempt:       a,
		}, fmt.Sprintf("attempt:%d", a))
	}

	history := te.history(t, requestID)

	if p := projection.ReduceAll(nil, history, te.deps.Cfg.PollInterval); p != nil {
		if err := te.projections.Upsert(context.Background(), p); err != nil {
			t.Fatalf("Upsert projection: %v", err)
		}
	}
	return history
}

// triggerEnvelope fabricates a bus delivery for a handler under test.
func triggerEnvelope(t *testing.T, typ events.EventType, payload any, eventID string) bus.Envelope {
	t.Helper()

	data, err := events.EncodePayload(typ, payload)

	if err != nil {
		t.Fatalf("EncodePayload(%s): %v", typ, err)
	}

	return bus.Envelope{
		ID:              eventID,
		Type:            typ,
		Source:          bus.DefaultSource,
		Subject:         "/requests/test",
		Time:            testStart,
		DataContentType: "application/json",
		Data:            data,
	}
}

func decodeAs[T any](t *testing.T, evt events.StoredEvent) T {
	t.Helper()

	decoded, err := evt.Decoded()

	if err != nil {
		t.Fatalf("Decoded(%s): %v", evt.EventType, err)
	}

	typed, ok := decoded.(T)

	if !ok {
		t.Fatalf("payload of %s has type %T", evt.EventType, decoded)
	}
	return typed
}
