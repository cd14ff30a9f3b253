// Package main is the entry point for the portfolio risk engine HTTP service.
// It serves risk measures, stress scenarios, Monte Carlo simulation,
// cross-validation, model comparison and overfitting analysis over JSON.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/riskengine/internal/config"
	"github.com/aristath/riskengine/internal/modules/attribution"
	"github.com/aristath/riskengine/internal/modules/comparison"
	"github.com/aristath/riskengine/internal/modules/montecarlo"
	"github.com/aristath/riskengine/internal/modules/overfit"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/aristath/riskengine/internal/modules/scenarios"
	"github.com/aristath/riskengine/internal/server"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/aristath/riskengine/pkg/logger"
)

func main() {
	// Load configuration first to get log level
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting risk engine")

	pool := workers.NewPool(cfg.Workers)
	log.Info().Int("workers", pool.Size()).Msg("Worker pool initialized")

	riskCfg := risk.DefaultConfig()
	riskCfg.PeriodsPerYear = cfg.PeriodsPerYear
	riskCfg.EVaRTheta = cfg.EVaRTheta
	riskCfg.TailFraction = cfg.TailFraction
	riskCfg.RiskFreeRate = cfg.RiskFreeRate

	riskEngine, err := risk.NewEngine(riskCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create risk engine")
	}
	cache := risk.NewCache(cfg.CacheSize)
	riskEngine.SetCache(cache)
	if cache == nil {
		log.Info().Msg("Risk measure cache disabled")
	}

	mcDefaults := montecarlo.DefaultConfig()
	mcDefaults.Seed = cfg.MonteCarloSeed
	mcDefaults.SevereLossThreshold = cfg.SevereLossThreshold

	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		Pool:        pool,
		RiskEngine:  riskEngine,
		Cache:       cache,
		Attribution: attribution.NewEngine(cfg.PeriodsPerYear, log),
		Scenarios:   scenarios.NewEngine(scenarios.Config{Seed: cfg.MonteCarloSeed}, pool, log),
		Simulator:   montecarlo.NewSimulator(pool, log),
		MonteCarlo:  mcDefaults,
		Comparison:  comparison.NewEngine(pool, log),
		Overfit:     overfit.NewAnalyzer(log),
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// In-flight requests get up to 10 seconds to finish.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
