// Package handlers provides HTTP handlers for cross-validation, model
// comparison and overfitting analysis.
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/httpapi"
	"github.com/aristath/riskengine/internal/modules/comparison"
	"github.com/aristath/riskengine/internal/modules/optimization"
	"github.com/aristath/riskengine/internal/modules/overfit"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/aristath/riskengine/internal/modules/validation"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/rs/zerolog"
)

// Handler handles validation HTTP requests
type Handler struct {
	engine     *risk.Engine
	pool       *workers.Pool
	comparison *comparison.Engine
	analyzer   *overfit.Analyzer
	log        zerolog.Logger
}

// NewHandler creates a new validation handler
func NewHandler(engine *risk.Engine, pool *workers.Pool, cmp *comparison.Engine, analyzer *overfit.Analyzer, log zerolog.Logger) *Handler {
	return &Handler{
		engine:     engine,
		pool:       pool,
		comparison: cmp,
		analyzer:   analyzer,
		log:        log.With().Str("handler", "validation").Logger(),
	}
}

// ModelSpec selects a reference model.
type ModelSpec struct {
	Kind    string               `json:"kind"`
	Name    string               `json:"name,omitempty"`
	Options optimization.Options `json:"options"`
}

func (s ModelSpec) build(log zerolog.Logger) (*optimization.Model, error) {
	m, err := optimization.NewModel(s.Kind, s.Options, log)
	if err != nil {
		return nil, err
	}
	if s.Name != "" {
		m = m.Named(s.Name)
	}
	return m, nil
}

func (s ModelSpec) label() string {
	if s.Name != "" {
		return s.Name
	}
	return strings.ToLower(strings.TrimSpace(s.Kind))
}

// PolicySpec selects a split policy.
type PolicySpec struct {
	Name   string                  `json:"name"`
	Params validation.PolicyParams `json:"params"`
}

// ValidationOptions configure fold scoring.
type ValidationOptions struct {
	ScoreMetric   string   `json:"score_metric,omitempty"`
	TrackInSample bool     `json:"track_in_sample,omitempty"`
	RiskFreeRate  *float64 `json:"risk_free_rate,omitempty"`
}

func (o ValidationOptions) config(engine *risk.Engine) validation.Config {
	cfg := validation.DefaultConfig()
	if engine != nil {
		cfg.RiskFreeRate = engine.Config().RiskFreeRate
	}
	if o.ScoreMetric != "" {
		cfg.ScoreMetric = o.ScoreMetric
	}
	cfg.TrackInSample = o.TrackInSample
	if o.RiskFreeRate != nil {
		cfg.RiskFreeRate = *o.RiskFreeRate
	}
	return cfg
}

// RunRequest cross-validates one model.
type RunRequest struct {
	Matrix httpapi.MatrixPayload `json:"matrix"`
	Model  ModelSpec             `json:"model"`
	Policy PolicySpec            `json:"policy"`
	ValidationOptions
}

func (h *Handler) validate(ctx context.Context, m domain.ReturnMatrix, spec ModelSpec, policySpec PolicySpec, cfg validation.Config) (*validation.Report, error) {
	model, err := spec.build(h.log)
	if err != nil {
		return nil, err
	}
	policy, err := validation.NewSplitPolicy(policySpec.Name, policySpec.Params)
	if err != nil {
		return nil, err
	}
	framework, err := validation.NewFramework(h.engine, h.pool, cfg, h.log)
	if err != nil {
		return nil, err
	}
	return framework.Validate(ctx, m, model, policy)
}

// HandleRun handles POST /api/validation/run
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	m, err := req.Matrix.Matrix()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	report, err := h.validate(r.Context(), m, req.Model, req.Policy, req.config(h.engine))
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, report)
}

// CompareRequest cross-validates several models on the same folds and
// compares them.
type CompareRequest struct {
	Matrix            httpapi.MatrixPayload `json:"matrix"`
	Models            []ModelSpec           `json:"models"`
	Policy            PolicySpec            `json:"policy"`
	PrimaryMetric     string                `json:"primary_metric,omitempty"`
	Test              string                `json:"test,omitempty"`
	SignificanceLevel *float64              `json:"significance_level,omitempty"`
	ValidationOptions
}

func (req CompareRequest) comparisonConfig() (comparison.Config, error) {
	cfg := comparison.DefaultConfig()
	test, err := comparison.ParseTest(req.Test)
	if err != nil {
		return cfg, err
	}
	cfg.Test = test
	if req.SignificanceLevel != nil {
		cfg.SignificanceLevel = *req.SignificanceLevel
	}
	return cfg, cfg.Validate()
}

// HandleCompare handles POST /api/validation/compare
func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	var req CompareRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	if len(req.Models) == 0 {
		httpapi.WriteError(w, h.log, fmt.Errorf("%w: no models to compare", httpapi.ErrBadRequest))
		return
	}
	seen := make(map[string]bool, len(req.Models))
	for _, spec := range req.Models {
		if seen[spec.label()] {
			httpapi.WriteError(w, h.log, fmt.Errorf("%w: duplicate model name %q", httpapi.ErrBadRequest, spec.label()))
			return
		}
		seen[spec.label()] = true
	}
	cmpCfg, err := req.comparisonConfig()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	m, err := req.Matrix.Matrix()
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	reports := make(map[string]*validation.Report, len(req.Models))
	for _, spec := range req.Models {
		report, err := h.validate(r.Context(), m, spec, req.Policy, req.config(h.engine))
		if err != nil {
			httpapi.WriteError(w, h.log, fmt.Errorf("model %q: %w", spec.label(), err))
			return
		}
		reports[report.Model] = report
	}

	result, err := h.comparison.Compare(r.Context(), reports, req.PrimaryMetric, cmpCfg)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, result)
}

// OverfitRequest either supplies in-sample and out-of-sample metrics
// directly, or a matrix, model and policy to cross-validate with in-sample
// tracking.
type OverfitRequest struct {
	InSample    *overfit.Metrics       `json:"in_sample,omitempty"`
	OutOfSample *overfit.Metrics       `json:"out_of_sample,omitempty"`
	Matrix      *httpapi.MatrixPayload `json:"matrix,omitempty"`
	Model       *ModelSpec             `json:"model,omitempty"`
	Policy      *PolicySpec            `json:"policy,omitempty"`
	ValidationOptions
}

// HandleOverfit handles POST /api/validation/overfit
func (h *Handler) HandleOverfit(w http.ResponseWriter, r *http.Request) {
	var req OverfitRequest
	if err := httpapi.Decode(r, &req); err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}

	switch {
	case req.InSample != nil && req.OutOfSample != nil:
		httpapi.WriteJSON(w, h.log, http.StatusOK, h.analyzer.Analyze(*req.InSample, *req.OutOfSample))
	case req.Matrix != nil && req.Model != nil && req.Policy != nil:
		m, err := req.Matrix.Matrix()
		if err != nil {
			httpapi.WriteError(w, h.log, err)
			return
		}
		cfg := req.config(h.engine)
		cfg.TrackInSample = true
		vr, err := h.validate(r.Context(), m, *req.Model, *req.Policy, cfg)
		if err != nil {
			httpapi.WriteError(w, h.log, err)
			return
		}
		report, err := h.analyzer.AnalyzeReport(vr)
		if err != nil {
			httpapi.WriteError(w, h.log, err)
			return
		}
		httpapi.WriteJSON(w, h.log, http.StatusOK, report)
	default:
		httpapi.WriteError(w, h.log, fmt.Errorf("%w: supply in_sample and out_of_sample, or matrix, model and policy", httpapi.ErrBadRequest))
	}
}
