package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/geocoder89/steward/internal/config"
	"github.com/geocoder89/steward/internal/externalsim"
	"github.com/geocoder89/steward/internal/observability"
)

// externalsim is the scripted stand-in for the remote job service, used in
// integration runs and demos. Not part of the production deployment.
func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := observability.NewLogger(cfg.Env)

	sim := externalsim.New(externalsim.ConfigFromEnv(), log)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.SimPort),
		Handler:           sim.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("external sim starting", "port", cfg.SimPort)
		err := srv.ListenAndServe()

		if err != nil && err != http.ErrServerClosed {
			log.Error("sim server failed", "err", err)
			os.Exit(1)
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info("external sim shutting down")

	shutdownCtx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}

	log.Info("shutdown complete")
}
