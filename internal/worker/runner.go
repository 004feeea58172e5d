package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/handlers"
	"github.com/geocoder89/steward/internal/observability"
)

// Handler is one bus-triggered workflow step. The runner owns the consumer
// plumbing around it: group subscription, tracing, metrics, redelivery.
type Handler interface {
	Name() string
	Triggers() []events.EventType
	Handle(ctx context.Context, env bus.Envelope) (handlers.Outcome, error)
}

// BatchRunner is a timer-driven step (discovery, poll scheduling) that
// processes one batch per tick.
type BatchRunner interface {
	Run(ctx context.Context) (int, error)
}

// MessagePump delivers envelopes to handle until ctx ends. bus.Consumer is
// the production pump; tests substitute in-memory ones.
type MessagePump interface {
	Run(ctx context.Context, handle bus.HandleFunc) error
}

// PumpFactory builds the pump for one consumer-group slot. The runner calls
// it once per handler per concurrency slot.
type PumpFactory func(group, consumerID string, types []events.EventType) MessagePump

type PingFunc func(ctx context.Context) error

type Config struct {
	// ConsumerID distinguishes this worker instance inside consumer groups.
	ConsumerID string
	// Concurrency is the number of pump slots per handler group.
	Concurrency int

	DiscoverEvery time.Duration
	ScheduleEvery time.Duration
	// DrainGrace bounds how long shutdown waits for in-flight work.
	DrainGrace time.Duration
	// StatsEvery is how often the runner logs its counter snapshot.
	StatsEvery time.Duration
}

type Deps struct {
	Log   *slog.Logger
	Clock clockwork.Clock
	Prom  *observability.Prom
	Stats *observability.RunnerMetrics

	Discover  BatchRunner
	Scheduler BatchRunner
	Handlers  []Handler
	Pumps     PumpFactory

	// Pings feed the readiness endpoint.
	Pings map[string]PingFunc
}

// ErrDrainTimeout reports that in-flight work outlived the shutdown grace
// window. The process exits anyway; redis redelivers whatever was cut off.
var ErrDrainTimeout = errors.New("worker drain timed out")

// Runner is the worker's conductor: it drives the two timers, keeps one
// consumer pump per handler slot alive, and owns the readiness flag the
// health server reports. All real work happens inside the handlers; the
// runner only schedules, observes, and drains.
type Runner struct {
	cfg    Config
	d      Deps
	tracer trace.Tracer
	ready  atomic.Bool
}

func NewRunner(cfg Config, d Deps) *Runner {
	if cfg.ConsumerID == "" {
		cfg.ConsumerID = "worker"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.DiscoverEvery <= 0 {
		cfg.DiscoverEvery = time.Minute
	}
	if cfg.ScheduleEvery <= 0 {
		cfg.ScheduleEvery = 30 * time.Second
	}
	if cfg.DrainGrace <= 0 {
		cfg.DrainGrace = 10 * time.Second
	}
	if cfg.StatsEvery <= 0 {
		cfg.StatsEvery = time.Minute
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Stats == nil {
		d.Stats = observability.NewRunnerMetrics()
	}

	return &Runner{
		cfg:    cfg,
		d:      d,
		tracer: otel.Tracer("steward-worker"),
	}
}

// Ready reports whether the runner accepts work. It flips false the moment
// shutdown starts so the load balancer stops routing before the drain.
func (r *Runner) Ready() bool {
	return r.ready.Load()
}

// Run blocks until ctx is cancelled, then drains. It returns nil on a clean
// drain and ErrDrainTimeout when in-flight work outlived the grace window.
func (r *Runner) Run(ctx context.Context) error {
	defer r.ready.Store(false)

	r.d.Log.InfoContext(ctx, "worker.starting",
		"consumer_id", r.cfg.ConsumerID,
		"concurrency", r.cfg.Concurrency,
		"handlers", len(r.d.Handlers),
		"discover_every", r.cfg.DiscoverEvery.String(),
		"schedule_every", r.cfg.ScheduleEvery.String(),
	)

	var wg sync.WaitGroup

	if r.d.Discover != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.timerLoop(ctx, "discover", r.cfg.DiscoverEvery, r.d.Discover)
		}()
	}

	if r.d.Scheduler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.timerLoop(ctx, "schedule_polls", r.cfg.ScheduleEvery, r.d.Scheduler)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.statsLoop(ctx)
	}()

	for _, h := range r.d.Handlers {
		handle := r.wrap(h)

		for slot := 0; slot < r.cfg.Concurrency; slot++ {
			pump := r.d.Pumps(h.Name(), fmt.Sprintf("%s-%d", r.cfg.ConsumerID, slot), h.Triggers())

			wg.Add(1)
			go func(name string, p MessagePump) {
				defer wg.Done()
				r.pumpLoop(ctx, name, p, handle)
			}(h.Name(), pump)
		}
	}

	r.ready.Store(true)

	<-ctx.Done()

	r.ready.Store(false)
	r.d.Log.Info("worker.draining", "grace", r.cfg.DrainGrace.String())

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logStats(context.Background())
		r.d.Log.Info("worker.drained")
		return nil

	case <-r.d.Clock.After(r.cfg.DrainGrace):
		r.d.Log.Error("worker.drain_timed_out", "grace", r.cfg.DrainGrace.String())
		return ErrDrainTimeout
	}
}

// wrap turns a workflow handler into a pump HandleFunc: span per invocation,
// duration and outcome bookkeeping, transient errors returned so the pump
// leaves the delivery pending.
func (r *Runner) wrap(h Handler) bus.HandleFunc {
	name := h.Name()

	return func(ctx context.Context, env bus.Envelope) error {
		ctx, span := r.tracer.Start(ctx, "handler.run",
			trace.WithAttributes(
				attribute.String("handler", name),
				attribute.String("event.id", env.ID),
				attribute.String("event.type", string(env.Type)),
				attribute.String("event.subject", env.Subject),
			),
		)
		defer span.End()

		r.d.Stats.IncConsumed()
		start := r.d.Clock.Now()

		var (
			outcome handlers.Outcome
			err     error
		)

		invoke := func() string {
			outcome, err = h.Handle(ctx, env)

			if err != nil {
				return "transient"
			}
			return string(outcome)
		}

		if r.d.Prom != nil {
			r.d.Prom.ObserveHandler(name, invoke)
		} else {
			invoke()
		}

		r.d.Stats.ObserveDuration(r.d.Clock.Since(start))

		if err != nil {
			r.d.Stats.IncTransient()
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed")

			r.d.Log.WarnContext(ctx, "worker.handler_transient",
				"handler", name,
				"event_id", env.ID,
				"event_type", string(env.Type),
				"err", err,
			)
			return err
		}

		span.SetAttributes(attribute.String("handler.outcome", string(outcome)))

		switch outcome {
		case handlers.OutcomeCompleted, handlers.OutcomeRepublished:
			r.d.Stats.IncCompleted()
		default:
			r.d.Stats.IncSkipped()
		}

		return nil
	}
}

// timerLoop fires the batch runner on every tick. Tick-level failures are
// logged and absorbed; the next tick retries from scratch.
func (r *Runner) timerLoop(ctx context.Context, name string, every time.Duration, batch BatchRunner) {
	ticker := r.d.Clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			r.runBatch(ctx, name, batch)
		}
	}
}

func (r *Runner) runBatch(ctx context.Context, name string, batch BatchRunner) {
	ctx, span := r.tracer.Start(ctx, "timer."+name)
	defer span.End()

	n, err := batch.Run(ctx)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "batch failed")
		r.d.Log.ErrorContext(ctx, "worker.timer_failed", "timer", name, "err", err)
		return
	}

	span.SetAttributes(attribute.Int("batch.processed", n))

	if n > 0 {
		r.d.Log.InfoContext(ctx, "worker.timer_tick", "timer", name, "processed", n)
	}
}

// pumpLoop keeps one consumer pump alive, reconnecting with backoff when the
// transport fails under it.
func (r *Runner) pumpLoop(ctx context.Context, name string, pump MessagePump, handle bus.HandleFunc) {
	attempt := 0

	for {
		err := pump.Run(ctx, handle)

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// pumps only return cleanly when their context ends
			return
		}

		delay := ExponentialBackoff(attempt)
		attempt++

		r.d.Log.ErrorContext(ctx, "worker.pump_failed",
			"handler", name,
			"attempt", attempt,
			"retry_in", delay.String(),
			"err", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-r.d.Clock.After(delay):
		}
	}
}

func (r *Runner) statsLoop(ctx context.Context) {
	ticker := r.d.Clock.NewTicker(r.cfg.StatsEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.Chan():
			r.logStats(ctx)
		}
	}
}

func (r *Runner) logStats(ctx context.Context) {
	snap := r.d.Stats.Snapshot()

	r.d.Log.InfoContext(ctx, "worker.stats",
		"consumed", snap.Consumed,
		"completed", snap.Completed,
		"skipped", snap.Skipped,
		"transient", snap.Transient,
		"poisoned", snap.Poisoned,
		"avg_duration", snap.AverageDuration.String(),
		"max_duration", snap.MaxDuration.String(),
	)
}
