// Package handlers provides HTTP handlers for risk measures and attribution.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/httpapi"
	"github.com/aristath/riskengine/internal/modules/attribution"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/rs/zerolog"
)

// Handler handles risk HTTP requests
type Handler struct {
	engine      *risk.Engine
	attribution *attribution.Engine
	log         zerolog.Logger
}

// NewHandler creates a new risk handler
func NewHandler(engine *risk.Engine, attributionEngine *attribution.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine:      engine,
		attribution: attributionEngine,
		log:         log.With().Str("handler", "risk").Logger(),
	}
}

// MeasuresRequest scores either a single series or a weighted portfolio of
// matrix columns.
type MeasuresRequest struct {
	Returns          *httpapi.SeriesPayload `json:"returns,omitempty"`
	Matrix           *httpapi.MatrixPayload `json:"matrix,omitempty"`
	Weights          domain.WeightVector    `json:"weights,omitempty"`
	Benchmark        *httpapi.SeriesPayload `json:"benchmark,omitempty"`
	ConfidenceLevels []float64              `json:"confidence_levels,omitempty"`
	RiskFreeRate     *float64               `json:"risk_free_rate,omitempty"`
	Beta             *float64               `json:"beta,omitempty"`
}

func (req MeasuresRequest) series() (domain.ReturnSeries, error) {
	switch {
	case req.Returns != nil && req.Matrix != nil:
		return domain.ReturnSeries{}, fmt.Errorf("%w: supply either returns or matrix, not both", domain.ErrInvalidConfiguration)
	case req.Returns != nil:
		return req.Returns.Series()
	case req.Matrix != nil:
		m, err := req.Matrix.Matrix()
		if err != nil {
			return domain.ReturnSeries{}, err
		}
		return m.PortfolioReturns(req.Weights)
	}
	return domain.ReturnSeries{}, fmt.Errorf("%w: returns or matrix is required", domain.ErrInvalidConfiguration)
}

func (req MeasuresRequest) options() ([]risk.Option, error) {
	var opts []risk.Option
	if len(req.ConfidenceLevels) > 0 {
		opts = append(opts, risk.WithConfidenceLevels(req.ConfidenceLevels...))
	}
	if req.RiskFreeRate != nil {
		opts = append(opts, risk.WithRiskFreeRate(*req.RiskFreeRate))
	}
	if req.Beta != nil {
		opts = append(opts, risk.WithBeta(*req.Beta))
	}
	if req.Benchmark != nil {
		b, err := req.Benchmark.Series()
		if err != nil {
			return nil, err
		}
		opts = append(opts, risk.WithBenchmark(b))
	}
	return opts, nil
}

// HandleMeasures handles POST /api/risk/measures
func (h *Handler) HandleMeasures(w http.ResponseWriter, r *http.Request) {
	var req MeasuresRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	series, err := req.series()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	opts, err := req.options()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	measures, err := h.engine.Compute(series, opts...)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, measures)
}

// AttributionRequest decomposes portfolio volatility by asset.
type AttributionRequest struct {
	Matrix     httpapi.MatrixPayload `json:"matrix"`
	Weights    domain.WeightVector   `json:"weights"`
	Covariance [][]float64           `json:"covariance,omitempty"`
}

// HandleAttribution handles POST /api/risk/attribution
func (h *Handler) HandleAttribution(w http.ResponseWriter, r *http.Request) {
	var req AttributionRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	m, err := req.Matrix.Matrix()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	report, err := h.attribution.Attribute(req.Weights, m, req.Covariance)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, report)
}

// HandleMetrics handles GET /api/risk/metrics
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"metrics":           risk.MetricNames(),
		"confidence_levels": risk.DefaultConfidenceLevels,
		"config":            h.engine.Config(),
	})
}
