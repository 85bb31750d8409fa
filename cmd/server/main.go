// Package main is the entry point for the fleet orchestrator: it supervises
// one browser instance per trading account, fans webhook trade intents out
// to the accounts a routing rule selects, and serves a dashboard API over
// the fleet's live state.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/riverlock/fleetctl/internal/config"
	"github.com/riverlock/fleetctl/internal/di"
	"github.com/riverlock/fleetctl/internal/logging"
)

// main orchestrates startup in the order the fleet actually depends on
// itself: load configuration, wire every dependency (databases, supervisor,
// watchdog, fleet controller, per-account instances), start serving HTTP,
// then block until a shutdown signal arrives.
func main() {
	var dataDirFlag string
	flag.StringVar(&dataDirFlag, "data-dir", "", "database directory path (overrides FLEET_DATA_DIR environment variable)")
	flag.Parse()

	cfg, err := config.Load(dataDirFlag)
	if err != nil {
		fallbackLog := logging.New(logging.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	log.Info().Msg("starting fleet orchestrator")

	container, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependencies")
	}

	router := chi.NewRouter()
	container.DashboardRoutes.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("dashboard server failed")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("dashboard server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("dashboard server forced to shutdown")
	}

	container.Close()
	log.Info().Msg("fleet orchestrator stopped")
}
