package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/handlers"
	"github.com/geocoder89/steward/internal/observability"
)

type fakeBatch struct {
	runs atomic.Int64
	n    int
	err  error
}

func (f *fakeBatch) Run(_ context.Context) (int, error) {
	f.runs.Add(1)
	return f.n, f.err
}

type fakeHandler struct {
	name     string
	triggers []events.EventType
	calls    atomic.Int64
	outcome  handlers.Outcome
	err      error
}

func (f *fakeHandler) Name() string                 { return f.name }
func (f *fakeHandler) Triggers() []events.EventType { return f.triggers }

func (f *fakeHandler) Handle(_ context.Context, _ bus.Envelope) (handlers.Outcome, error) {
	f.calls.Add(1)
	return f.outcome, f.err
}

// chanPump feeds envelopes from a channel to the handler, swallowing handler
// errors the way the real consumer does (it leaves the delivery pending).
type chanPump struct {
	in chan bus.Envelope
}

func (p *chanPump) Run(ctx context.Context, handle bus.HandleFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-p.in:
			_ = handle(ctx, env)
		}
	}
}

// stuckPump never delivers and never exits, even when ctx ends.
type stuckPump struct{}

func (p *stuckPump) Run(_ context.Context, _ bus.HandleFunc) error {
	select {}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testEnvelope(id string, typ events.EventType) bus.Envelope {
	return bus.Envelope{
		ID:      id,
		Type:    typ,
		Source:  bus.DefaultSource,
		Subject: bus.SubjectFor("pA|rK"),
		Time:    time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		Data:    json.RawMessage(`{"requestId":"pA|rK"}`),
	}
}

func TestRunnerTimersFire(t *testing.T) {
	discover := &fakeBatch{n: 3}
	scheduler := &fakeBatch{err: errors.New("projection store down")}

	r := NewRunner(
		Config{
			ConsumerID:    "w1",
			DiscoverEvery: 5 * time.Millisecond,
			ScheduleEvery: 5 * time.Millisecond,
		},
		Deps{
			Log:       testLogger(),
			Discover:  discover,
			Scheduler: scheduler,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "discover ticks", func() bool { return discover.runs.Load() >= 2 })
	// a failing tick must not stop the timer
	waitFor(t, "scheduler ticks", func() bool { return scheduler.runs.Load() >= 2 })

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	if r.Ready() {
		t.Fatal("runner still ready after shutdown")
	}
}

func TestRunnerPumpsDeliveries(t *testing.T) {
	h := &fakeHandler{
		name:     "prepare",
		triggers: []events.EventType{events.TypeRequestDiscovered},
		outcome:  handlers.OutcomeCompleted,
	}

	var (
		mu      sync.Mutex
		groups  []string
		ids     []string
		pumpIn  = make(chan bus.Envelope, 8)
		factory = func(group, consumerID string, types []events.EventType) MessagePump {
			mu.Lock()
			groups = append(groups, group)
			ids = append(ids, consumerID)
			mu.Unlock()

			if len(types) != 1 || types[0] != events.TypeRequestDiscovered {
				t.Errorf("unexpected trigger types: %v", types)
			}
			return &chanPump{in: pumpIn}
		}
	)

	stats := observability.NewRunnerMetrics()

	r := NewRunner(
		Config{ConsumerID: "w1", Concurrency: 2},
		Deps{
			Log:      testLogger(),
			Prom:     observability.NewProm(prometheus.NewRegistry()),
			Stats:    stats,
			Handlers: []Handler{h},
			Pumps:    factory,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "runner ready", r.Ready)

	mu.Lock()
	if len(groups) != 2 || groups[0] != "prepare" || groups[1] != "prepare" {
		t.Fatalf("expected one pump per slot in group prepare, got %v", groups)
	}
	if ids[0] == ids[1] {
		t.Fatalf("consumer ids must differ per slot, got %v", ids)
	}
	mu.Unlock()

	pumpIn <- testEnvelope("evt-1", events.TypeRequestDiscovered)
	pumpIn <- testEnvelope("evt-2", events.TypeRequestDiscovered)

	waitFor(t, "handler invocations", func() bool { return h.calls.Load() == 2 })
	waitFor(t, "stats", func() bool {
		snap := stats.Snapshot()
		return snap.Consumed == 2 && snap.Completed == 2
	})

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestRunnerCountsOutcomes(t *testing.T) {
	skipping := &fakeHandler{
		name:     "poll",
		triggers: []events.EventType{events.TypeJobPollRequested},
		outcome:  handlers.OutcomeSkipped,
	}
	failing := &fakeHandler{
		name:     "submit",
		triggers: []events.EventType{events.TypeSubmissionPrepared},
		err:      errors.New("store unavailable"),
	}

	pumps := map[string]*chanPump{
		"poll":   {in: make(chan bus.Envelope, 1)},
		"submit": {in: make(chan bus.Envelope, 1)},
	}
	factory := func(group, _ string, _ []events.EventType) MessagePump {
		return pumps[group]
	}

	stats := observability.NewRunnerMetrics()

	r := NewRunner(
		Config{ConsumerID: "w1", Concurrency: 1},
		Deps{
			Log:      testLogger(),
			Stats:    stats,
			Handlers: []Handler{skipping, failing},
			Pumps:    factory,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx) }()
	waitFor(t, "runner ready", r.Ready)

	pumps["poll"].in <- testEnvelope("evt-1", events.TypeJobPollRequested)
	pumps["submit"].in <- testEnvelope("evt-2", events.TypeSubmissionPrepared)

	waitFor(t, "outcome counters", func() bool {
		snap := stats.Snapshot()
		return snap.Skipped == 1 && snap.Transient == 1
	})

	snap := stats.Snapshot()
	if snap.Consumed != 2 || snap.Completed != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestRunnerDrainTimeout(t *testing.T) {
	h := &fakeHandler{
		name:     "complete",
		triggers: []events.EventType{events.TypeJobTerminal},
		outcome:  handlers.OutcomeCompleted,
	}
	factory := func(_, _ string, _ []events.EventType) MessagePump {
		return &stuckPump{}
	}

	r := NewRunner(
		Config{ConsumerID: "w1", Concurrency: 1, DrainGrace: 20 * time.Millisecond},
		Deps{
			Log:      testLogger(),
			Handlers: []Handler{h},
			Pumps:    factory,
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, "runner ready", r.Ready)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrDrainTimeout) {
			t.Fatalf("expected drain timeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after grace window")
	}
}

func TestHealthHandlerEndpoints(t *testing.T) {
	pingErr := errors.New("connection refused")

	r := NewRunner(
		Config{ConsumerID: "w1"},
		Deps{
			Log:      testLogger(),
			Discover: &fakeBatch{},
			Pings: map[string]PingFunc{
				"postgres": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return pingErr },
			},
		},
	)

	reg := prometheus.NewRegistry()
	srv := httptest.NewServer(HealthHandler(r, reg))
	defer srv.Close()

	get := func(path string) (*http.Response, string) {
		t.Helper()

		res, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		return res, string(body)
	}

	// liveness is up regardless of runner state
	if res, body := get("/healthz"); res.StatusCode != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: status=%d body=%q", res.StatusCode, body)
	}

	// not started yet: draining
	if res, _ := get("/readyz"); res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start: status=%d", res.StatusCode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx) }()
	waitFor(t, "runner ready", r.Ready)

	res, body := get("/readyz")
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing ping: status=%d", res.StatusCode)
	}

	var payload struct {
		Status  string   `json:"status"`
		Failing []string `json:"failing"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("readyz body: %v", err)
	}
	if payload.Status != "not_ready" || len(payload.Failing) != 1 || payload.Failing[0] != "redis" {
		t.Fatalf("unexpected readyz payload: %+v", payload)
	}

	if res, _ := get("/metrics"); res.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status=%d", res.StatusCode)
	}
}

func TestHealthHandlerReadyWhenPingsPass(t *testing.T) {
	r := NewRunner(
		Config{ConsumerID: "w1"},
		Deps{
			Log:      testLogger(),
			Discover: &fakeBatch{},
			Pings: map[string]PingFunc{
				"postgres": func(context.Context) error { return nil },
			},
		},
	)

	srv := httptest.NewServer(HealthHandler(r, nil))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = r.Run(ctx) }()
	waitFor(t, "runner ready", r.Ready)

	res, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()

	if res.StatusCode != http.StatusOK || string(body) != "ready" {
		t.Fatalf("readyz: status=%d body=%q", res.StatusCode, body)
	}
}
