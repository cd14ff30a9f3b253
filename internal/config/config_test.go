package config

import (
	"testing"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 252.0, cfg.PeriodsPerYear)
	assert.Equal(t, 0.02, cfg.RiskFreeRate)
	assert.Equal(t, -0.20, cfg.SevereLossThreshold)
	assert.Equal(t, uint64(0), cfg.MonteCarloSeed)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("RISK_PORT", "9090")
	t.Setenv("RISK_FREE_RATE", "0.035")
	t.Setenv("RISK_MC_SEED", "42")
	t.Setenv("RISK_DEV_MODE", "true")
	t.Setenv("RISK_WORKERS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 0.035, cfg.RiskFreeRate)
	assert.Equal(t, uint64(42), cfg.MonteCarloSeed)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, 0, cfg.Workers)
}

func TestLoad_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"tail fraction too large", "RISK_TAIL_FRACTION", "0.6"},
		{"non-positive theta", "RISK_EVAR_THETA", "0"},
		{"positive severe threshold", "RISK_SEVERE_LOSS_THRESHOLD", "0.1"},
		{"zero periods", "RISK_PERIODS_PER_YEAR", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}
