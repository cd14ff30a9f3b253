package handlers

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aristath/riskengine/internal/modules/montecarlo"
	"github.com/aristath/riskengine/internal/modules/scenarios"
	"github.com/aristath/riskengine/internal/workers"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) *chi.Mux {
	t.Helper()
	logger := zerolog.Nop()
	pool := workers.NewPool(2)

	mc := montecarlo.DefaultConfig()
	mc.NumSimulations = 200
	mc.HorizonDays = 10
	mc.BatchSize = 50
	mc.Seed = 5

	handler := NewHandler(
		scenarios.NewEngine(scenarios.Config{Seed: 11}, pool, logger),
		montecarlo.NewSimulator(pool, logger),
		mc,
		logger,
	)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)
	return router
}

// matrixJSON renders a two-asset matrix payload with n observations.
func matrixJSON(t *testing.T, n int) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 4))
	a := make([]float64, n)
	b := make([]float64, n)
	for i := range a {
		z := rng.NormFloat64()
		a[i] = 0.0005 + 0.01*z
		b[i] = 0.0002 + 0.005*(0.4*z+0.9*rng.NormFloat64())
	}
	data, err := json.Marshal(map[string]interface{}{
		"assets": map[string][]float64{"A": a, "B": b},
	})
	require.NoError(t, err)
	return string(data)
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Contains(t, body, "metadata")
	return body
}

func TestHandleCatalog(t *testing.T) {
	router := setupRouter(t)

	w := do(router, http.MethodGet, "/scenarios/catalog", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	list, ok := body["data"].([]interface{})
	require.True(t, ok)

	catalog, err := scenarios.Catalog()
	require.NoError(t, err)
	assert.Len(t, list, len(catalog))
}

func TestHandleStress(t *testing.T) {
	router := setupRouter(t)
	matrix := matrixJSON(t, 250)

	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantResults int
	}{
		{
			name:        "named catalog scenario",
			body:        `{"matrix":` + matrix + `,"weights":{"A":0.6,"B":0.4},"catalog":["market_crash"],"samples":200}`,
			wantStatus:  http.StatusOK,
			wantResults: 1,
		},
		{
			name: "custom scenario",
			body: `{"matrix":` + matrix + `,"weights":{"A":1},"samples":200,` +
				`"scenarios":[{"name":"a_down","description":"A falls","probability":0.1,"shocks":{"A":-0.01}}]}`,
			wantStatus:  http.StatusOK,
			wantResults: 1,
		},
		{"unknown catalog scenario", `{"matrix":` + matrix + `,"weights":{"A":1},"catalog":["nope"]}`, http.StatusBadRequest, 0},
		{"unknown weight", `{"matrix":` + matrix + `,"weights":{"Z":1},"catalog":["market_crash"]}`, http.StatusBadRequest, 0},
		{"malformed", `{"matrix":`, http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/scenarios/stress", tt.body)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())

			body := decode(t, w)
			if tt.wantStatus != http.StatusOK {
				assert.NotEmpty(t, body["error"])
				return
			}
			data := body["data"].(map[string]interface{})
			assert.Len(t, data["results"], tt.wantResults)
			assert.NotEmpty(t, data["run_id"])
		})
	}
}

func TestHandleMonteCarlo(t *testing.T) {
	router := setupRouter(t)
	matrix := matrixJSON(t, 200)

	w := do(router, http.MethodPost, "/scenarios/montecarlo",
		`{"matrix":`+matrix+`,"weights":{"A":0.5,"B":0.5},"num_simulations":100,"seed":9}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, float64(100), data["simulations"])
	cfg := data["config"].(map[string]interface{})
	assert.Equal(t, float64(10), cfg["horizon_days"], "unset fields keep server defaults")
	assert.Equal(t, float64(9), cfg["seed"])

	w = do(router, http.MethodPost, "/scenarios/montecarlo",
		`{"matrix":`+matrix+`,"weights":{"A":1},"horizon_days":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMonteCarloRequest_Config(t *testing.T) {
	defaults := montecarlo.DefaultConfig()
	threshold := -0.3

	cfg := MonteCarloRequest{HorizonDays: 21, SevereLossThreshold: &threshold}.config(defaults)
	assert.Equal(t, 21, cfg.HorizonDays)
	assert.Equal(t, -0.3, cfg.SevereLossThreshold)
	assert.Equal(t, defaults.NumSimulations, cfg.NumSimulations)
	assert.Equal(t, defaults.BatchSize, cfg.BatchSize)
}
