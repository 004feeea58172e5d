package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/config"
	"github.com/geocoder89/steward/internal/db"
	"github.com/geocoder89/steward/internal/events"
	"github.com/geocoder89/steward/internal/external"
	"github.com/geocoder89/steward/internal/handlers"
	"github.com/geocoder89/steward/internal/observability"
	"github.com/geocoder89/steward/internal/repo/postgres"
	"github.com/geocoder89/steward/internal/worker"
)

func main() {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "steward-worker", cfg.OTELEndpoint, cfg.Env)

	if err != nil {
		log.Error("tracer init failed", "err", err)
		os.Exit(1)
	}

	defer func() {
		flushCtx, cancel := config.WithTimeout(5 * time.Second)
		defer cancel()

		if err := shutdownTracer(flushCtx); err != nil {
			log.Error("tracer shutdown failed", "err", err)
		}
	}()

	pool, err := db.NewPool(ctx, cfg.DBURL)

	if err != nil {
		log.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	defer pool.Close()

	if err := db.Bootstrap(ctx, pool); err != nil {
		log.Error("schema bootstrap failed", "err", err)
		os.Exit(1)
	}

	redisClient := bus.NewClient(bus.ClientConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	defer redisClient.Close()

	if err := redisClient.Ping(ctx); err != nil {
		log.Error("redis connect failed", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	prom := observability.NewProm(reg)

	deps := handlers.Deps{
		Events:      postgres.NewEventStore(pool, prom),
		Projections: postgres.NewProjectionsRepo(pool, prom),
		Intake:      postgres.NewIntakeRepo(pool, prom),
		Leases:      postgres.NewLeasesRepo(pool, prom),
		External:    external.NewClient(cfg.ExternalBaseURL, prom),
		Bus:         bus.NewRedisPublisher(redisClient.Raw(), log, prom),
		Clock:       clockwork.NewRealClock(),
		Log:         log,
		Prom:        prom,
		Cfg: handlers.Config{
			IntakeBatchSize:   cfg.IntakeBatchSize,
			PollBatchSize:     cfg.PollBatchSize,
			LeaseDuration:     cfg.LeaseDuration,
			PollInterval:      cfg.PollInterval,
			MaxSubmitAttempts: cfg.MaxSubmitAttempts,
			IdempotencyLease:  cfg.IdempotencyLease,
		},
	}

	host, _ := os.Hostname()
	consumerID := host + "-" + strconv.Itoa(os.Getpid())

	pumps := func(group, consumerID string, types []events.EventType) worker.MessagePump {
		return bus.NewConsumer(redisClient.Raw(), bus.ConsumerConfig{
			Group:      group,
			ConsumerID: consumerID,
			Types:      types,
		}, log, prom)
	}

	runner := worker.NewRunner(
		worker.Config{
			ConsumerID:    consumerID,
			Concurrency:   cfg.Concurrency,
			DiscoverEvery: cfg.DiscoverEvery,
			ScheduleEvery: cfg.ScheduleEvery,
			DrainGrace:    cfg.DrainGrace,
		},
		worker.Deps{
			Log:       log,
			Clock:     deps.Clock,
			Prom:      prom,
			Stats:     observability.NewRunnerMetrics(),
			Discover:  handlers.NewDiscover(deps),
			Scheduler: handlers.NewScheduler(deps),
			Handlers: []worker.Handler{
				handlers.NewPrepare(deps),
				handlers.NewSubmit(deps),
				handlers.NewPoll(deps),
				handlers.NewComplete(deps),
			},
			Pumps: pumps,
			Pings: map[string]worker.PingFunc{
				"postgres": pool.Ping,
				"redis":    redisClient.Ping,
			},
		},
	)

	health := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           worker.HealthHandler(runner, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("worker health listening", "addr", cfg.HealthAddr)
		err := health.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("health server failed", "err", err)
			os.Exit(1)
		}
	}()

	log.Info("worker starting", "env", cfg.Env, "consumer_id", consumerID)

	if err := runner.Run(ctx); err != nil {
		log.Error("worker stopped with error", "err", err)
	}

	// health server outlives the runner so /readyz reports the drain
	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	if err := health.Shutdown(shutdownCtx); err != nil {
		log.Error("health server shutdown failed", "err", err)
	}

	log.Info("worker shutdown complete")
}
