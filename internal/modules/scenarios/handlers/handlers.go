// Package handlers provides HTTP handlers for stress testing and Monte Carlo simulation.
package handlers

import (
	"net/http"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/httpapi"
	"github.com/aristath/riskengine/internal/modules/montecarlo"
	"github.com/aristath/riskengine/internal/modules/scenarios"
	"github.com/rs/zerolog"
)

// DefaultSamples is the per-scenario sample count when a request omits it.
const DefaultSamples = 1000

// Handler handles scenario HTTP requests
type Handler struct {
	engine     *scenarios.Engine
	simulator  *montecarlo.Simulator
	mcDefaults montecarlo.Config
	log        zerolog.Logger
}

// NewHandler creates a new scenarios handler. mcDefaults fills fields a
// Monte Carlo request leaves unset.
func NewHandler(engine *scenarios.Engine, simulator *montecarlo.Simulator, mcDefaults montecarlo.Config, log zerolog.Logger) *Handler {
	return &Handler{
		engine:     engine,
		simulator:  simulator,
		mcDefaults: mcDefaults,
		log:        log.With().Str("handler", "scenarios").Logger(),
	}
}

// HandleCatalog handles GET /api/scenarios/catalog
func (h *Handler) HandleCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := scenarios.Catalog()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, catalog)
}

// StressRequest evaluates custom scenarios, named catalog scenarios, or the
// whole catalog when neither is given.
type StressRequest struct {
	Matrix    httpapi.MatrixPayload `json:"matrix"`
	Weights   domain.WeightVector   `json:"weights"`
	Scenarios []scenarios.Scenario  `json:"scenarios,omitempty"`
	Catalog   []string              `json:"catalog,omitempty"`
	Samples   int                   `json:"samples,omitempty"`
}

func (req StressRequest) resolve() ([]scenarios.Scenario, error) {
	out := append([]scenarios.Scenario(nil), req.Scenarios...)
	for _, name := range req.Catalog {
		s, err := scenarios.CatalogScenario(name)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return scenarios.Catalog()
	}
	return out, nil
}

// HandleStress handles POST /api/scenarios/stress
func (h *Handler) HandleStress(w http.ResponseWriter, r *http.Request) {
	var req StressRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	m, err := req.Matrix.Matrix()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	list, err := req.resolve()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	samples := req.Samples
	if samples == 0 {
		samples = DefaultSamples
	}

	report, err := h.engine.EvaluateAll(r.Context(), req.Weights, m, list, samples)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, report)
}

// MonteCarloRequest overrides the server's default simulation settings.
type MonteCarloRequest struct {
	Matrix              httpapi.MatrixPayload `json:"matrix"`
	Weights             domain.WeightVector   `json:"weights"`
	NumSimulations      int                   `json:"num_simulations,omitempty"`
	HorizonDays         int                   `json:"horizon_days,omitempty"`
	ConfidenceIntervals []float64             `json:"confidence_intervals,omitempty"`
	Seed                *uint64               `json:"seed,omitempty"`
	SevereLossThreshold *float64              `json:"severe_loss_threshold,omitempty"`
	BatchSize           int                   `json:"batch_size,omitempty"`
}

func (req MonteCarloRequest) config(defaults montecarlo.Config) montecarlo.Config {
	cfg := defaults
	if req.NumSimulations != 0 {
		cfg.NumSimulations = req.NumSimulations
	}
	if req.HorizonDays != 0 {
		cfg.HorizonDays = req.HorizonDays
	}
	if len(req.ConfidenceIntervals) > 0 {
		cfg.ConfidenceIntervals = req.ConfidenceIntervals
	}
	if req.Seed != nil {
		cfg.Seed = *req.Seed
	}
	if req.SevereLossThreshold != nil {
		cfg.SevereLossThreshold = *req.SevereLossThreshold
	}
	if req.BatchSize != 0 {
		cfg.BatchSize = req.BatchSize
	}
	return cfg
}

// HandleMonteCarlo handles POST /api/scenarios/montecarlo
func (h *Handler) HandleMonteCarlo(w http.ResponseWriter, r *http.Request) {
	var req MonteCarloRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	m, err := req.Matrix.Matrix()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	report, err := h.simulator.Simulate(r.Context(), req.Weights, m, req.config(h.mcDefaults))
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, report)
}
