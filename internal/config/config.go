// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	LogLevel string
	Port     int
	DevMode  bool
	Workers  int // 0 = host CPU count

	PeriodsPerYear      float64
	RiskFreeRate        float64
	EVaRTheta           float64
	TailFraction        float64
	MonteCarloSeed      uint64 // 0 = time-derived seed per run
	SevereLossThreshold float64
	CacheSize           int // 0 disables the risk measure cache
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:            getEnv("RISK_LOG_LEVEL", "info"),
		Port:                getEnvAsInt("RISK_PORT", 8080),
		DevMode:             getEnvAsBool("RISK_DEV_MODE", false),
		Workers:             getEnvAsInt("RISK_WORKERS", 0),
		PeriodsPerYear:      getEnvAsFloat("RISK_PERIODS_PER_YEAR", 252),
		RiskFreeRate:        getEnvAsFloat("RISK_FREE_RATE", 0.02),
		EVaRTheta:           getEnvAsFloat("RISK_EVAR_THETA", 1.0),
		TailFraction:        getEnvAsFloat("RISK_TAIL_FRACTION", 0.05),
		MonteCarloSeed:      getEnvAsUint("RISK_MC_SEED", 0),
		SevereLossThreshold: getEnvAsFloat("RISK_SEVERE_LOSS_THRESHOLD", -0.20),
		CacheSize:           getEnvAsInt("RISK_CACHE_SIZE", 1024),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that numeric settings are in range.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", domain.ErrInvalidConfiguration, c.Port)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must be >= 0, got %d", domain.ErrInvalidConfiguration, c.Workers)
	case c.PeriodsPerYear <= 0:
		return fmt.Errorf("%w: periods per year must be positive, got %v", domain.ErrInvalidConfiguration, c.PeriodsPerYear)
	case c.EVaRTheta <= 0:
		return fmt.Errorf("%w: EVaR theta must be positive, got %v", domain.ErrInvalidConfiguration, c.EVaRTheta)
	case c.TailFraction <= 0 || c.TailFraction >= 0.5:
		return fmt.Errorf("%w: tail fraction must be in (0, 0.5), got %v", domain.ErrInvalidConfiguration, c.TailFraction)
	case c.SevereLossThreshold >= 0:
		return fmt.Errorf("%w: severe loss threshold must be negative, got %v", domain.ErrInvalidConfiguration, c.SevereLossThreshold)
	case c.CacheSize < 0:
		return fmt.Errorf("%w: cache size must be >= 0, got %d", domain.ErrInvalidConfiguration, c.CacheSize)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintVal, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
