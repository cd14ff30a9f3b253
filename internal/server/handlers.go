package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/aristath/riskengine/internal/httpapi"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "riskengine",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// SystemStatus reports host load and engine state.
type SystemStatus struct {
	CPUPercent    float64          `json:"cpu_percent"`
	MemoryPercent float64          `json:"memory_percent"`
	Goroutines    int              `json:"goroutines"`
	Workers       int              `json:"workers"`
	Uptime        string           `json:"uptime"`
	Cache         *risk.CacheStats `json:"cache,omitempty"`
}

// handleSystemStatus handles GET /api/system/status
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := s.getSystemStats()

	status := SystemStatus{
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Goroutines:    runtime.NumGoroutine(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
	}
	if s.cfg.Pool != nil {
		status.Workers = s.cfg.Pool.Size()
	}
	if s.cfg.Cache != nil {
		stats := s.cfg.Cache.Stats()
		status.Cache = &stats
	}

	httpapi.WriteJSON(w, s.log, http.StatusOK, status)
}

// getSystemStats returns CPU and RAM usage percentages. CPU is sampled over
// 100ms so the endpoint stays responsive.
func (s *Server) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
