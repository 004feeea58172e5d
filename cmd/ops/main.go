package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/geocoder89/steward/internal/auth"
	"github.com/geocoder89/steward/internal/bus"
	"github.com/geocoder89/steward/internal/cache"
	"github.com/geocoder89/steward/internal/config"
	"github.com/geocoder89/steward/internal/db"
	"github.com/geocoder89/steward/internal/handlers"
	"github.com/geocoder89/steward/internal/observability"
	"github.com/geocoder89/steward/internal/ops"
	"github.com/geocoder89/steward/internal/repo/postgres"
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

	shutdownTracer, err := observability.InitTracer(ctx, "steward-ops", cfg.OTELEndpoint, cfg.Env)

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
	clock := clockwork.NewRealClock()

	eventStore := postgres.NewEventStore(pool, prom)
	projections := postgres.NewProjectionsRepo(pool, prom)
	intakeRepo := postgres.NewIntakeRepo(pool, prom)
	publisher := bus.NewRedisPublisher(redisClient.Raw(), log, prom)

	// the republish endpoint reuses the worker's replay path, including its
	// poll-interval math for the projection rebuild
	republisher := handlers.NewRepublisher(handlers.Deps{
		Events:      eventStore,
		Projections: projections,
		Bus:         publisher,
		Clock:       clock,
		Log:         log,
		Prom:        prom,
		Cfg: handlers.Config{
			PollInterval: cfg.PollInterval,
		},
	})

	router := ops.NewRouter(ops.RouterDeps{
		Log:         log,
		Env:         cfg.Env,
		JWT:         auth.NewManager(cfg.JWTSecret, cfg.JWTTTL),
		Prom:        prom,
		Registry:    reg,
		Intake:      intakeRepo,
		Projections: projections,
		Streams:     eventStore,
		Republisher: republisher,
		Cache:       cache.New(cfg.CacheTTL),
		Clock:       clock,
		Pings: map[string]ops.PingFunc{
			"postgres": pool.Ping,
			"redis":    redisClient.Ping,
		},
		CORSOrigins: cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.OpsPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("ops api starting", "port", cfg.OpsPort, "env", cfg.Env)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("ops api shutting down")

	shutdownCh := make(chan struct{})

	go func() {
		defer close(shutdownCh)

		shutdownCtx, cancel := config.WithTimeout(10 * time.Second)

		defer cancel()

		err := srv.Shutdown(shutdownCtx)

		if err != nil {
			log.Error("graceful shutdown failed", "err", err)

			return
		}
	}()

	select {
	case <-shutdownCh:
		log.Info("shutdown complete")

	case <-time.After(12 * time.Second):
		log.Error("shutdown timed out")
	}
}
