// Package api provides the HTTP handlers for querying risk snapshots,
// re-running scenarios and liquidity estimates on demand, and streaming
// refresh updates over WebSocket.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/atmx/cdp-risk/internal/config"
	"github.com/atmx/cdp-risk/internal/correlation"
	"github.com/atmx/cdp-risk/internal/impact"
	"github.com/atmx/cdp-risk/internal/model"
	"github.com/atmx/cdp-risk/internal/monitor"
	"github.com/atmx/cdp-risk/internal/report"
	"github.com/atmx/cdp-risk/internal/scenario"
)

// depthParamPrefix marks per-symbol depth overrides in query strings,
// e.g. ?depth.ETH=250000.
const depthParamPrefix = "depth."

// Service serves the latest monitor snapshot.
type Service struct {
	monitor *monitor.Monitor
}

// NewService creates a new API service.
func NewService(m *monitor.Monitor) *Service {
	return &Service{monitor: m}
}

// --- Request/Response types ---

// ScenariosResponse is the JSON body returned from GET /scenarios.
type ScenariosResponse struct {
	ReportID  string               `json:"report_id"`
	Scenarios []report.ScenarioRow `json:"scenarios"`
}

// ImpactResponse is the JSON body returned from GET /impact.
type ImpactResponse struct {
	ReportID string             `json:"report_id"`
	Shock    model.Shock        `json:"shock"`
	Impact   []report.ImpactRow `json:"impact"`
}

// CorrelationRequest is the JSON body for POST /correlation. Each history
// entry is an [open-interest change, average-ICR change] pair.
type CorrelationRequest struct {
	History [][]float64 `json:"history"`
}

// CorrelationResponse is returned by both correlation endpoints.
type CorrelationResponse struct {
	Coefficient float64 `json:"coefficient"`
	Pairs       int     `json:"pairs"`
}

// --- HTTP Handlers ---

// GetReport handles GET /api/v1/report
func (s *Service) GetReport(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, snap.Report)
}

// Refresh handles POST /api/v1/refresh
// Runs one refresh cycle synchronously and returns the new report.
func (s *Service) Refresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.monitor.Refresh(r.Context())
	if err != nil {
		writeError(w, "refresh failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, snap.Report)
}

// GetPositions handles GET /api/v1/positions
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.latest(w)
	if !ok {
		return
	}
	fused := snap.Fused
	if fused == nil {
		fused = []model.FusedRecord{}
	}
	writeJSON(w, http.StatusOK, fused)
}

// GetScenarios handles GET /api/v1/scenarios?shocks=-0.1,-0.2
// Recomputes scenarios over the latest snapshot; the configured shocks are
// used when none are given.
func (s *Service) GetScenarios(w http.ResponseWriter, r *http.Request) {
	shocks := s.monitor.Options().Shocks
	if raw := r.URL.Query().Get("shocks"); raw != "" {
		parsed, err := config.ParseShocks(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		shocks = parsed
	}

	snap, ok := s.latest(w)
	if !ok {
		return
	}

	stats := scenario.ComputeLiquidationStatsParallel(snap.Fused, shocks...)
	writeJSON(w, http.StatusOK, ScenariosResponse{
		ReportID:  snap.Report.ID.String(),
		Scenarios: report.ScenarioRows(stats),
	})
}

// GetImpact handles GET /api/v1/impact?shock=-0.2&depth.ETH=250000
// Query depth overrides take precedence over configured ones.
func (s *Service) GetImpact(w http.ResponseWriter, r *http.Request) {
	opts := s.monitor.Options()
	query := r.URL.Query()

	shock := opts.FocusShock
	if raw := query.Get("shock"); raw != "" {
		f, err := parseFinite(raw)
		if err != nil {
			writeError(w, "invalid shock: "+err.Error(), http.StatusBadRequest)
			return
		}
		shock = f
	}

	overrides := make(map[string]float64, len(opts.DepthOverrides))
	for sym, depth := range opts.DepthOverrides {
		overrides[strings.ToUpper(sym)] = depth
	}
	for key, vals := range query {
		if !strings.HasPrefix(key, depthParamPrefix) || len(vals) == 0 {
			continue
		}
		sym := strings.ToUpper(strings.TrimPrefix(key, depthParamPrefix))
		depth, err := parseFinite(vals[0])
		if err != nil || depth < 0 || sym == "" {
			writeError(w, fmt.Sprintf("invalid depth override %s=%s", key, vals[0]), http.StatusBadRequest)
			return
		}
		overrides[sym] = depth
	}

	snap, ok := s.latest(w)
	if !ok {
		return
	}

	ratios := impact.ComputeLiquidityImpact(snap.Fused, shock, overrides)
	writeJSON(w, http.StatusOK, ImpactResponse{
		ReportID: snap.Report.ID.String(),
		Shock:    model.ShockFromFloat(shock),
		Impact:   report.ImpactRows(ratios),
	})
}

// GetCorrelation handles GET /api/v1/correlation
// Returns the coefficient over the history collected by the refresh loop.
func (s *Service) GetCorrelation(w http.ResponseWriter, r *http.Request) {
	history := s.monitor.Tracker().History()
	writeJSON(w, http.StatusOK, CorrelationResponse{
		Coefficient: correlation.Pearson(history),
		Pairs:       len(history),
	})
}

// ComputeCorrelation handles POST /api/v1/correlation
// Computes the coefficient over a caller-supplied history.
func (s *Service) ComputeCorrelation(w http.ResponseWriter, r *http.Request) {
	var req CorrelationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	history := make([]correlation.Pair, 0, len(req.History))
	for i, pair := range req.History {
		if len(pair) != 2 {
			writeError(w, fmt.Sprintf("history[%d] must be an [x, y] pair", i), http.StatusBadRequest)
			return
		}
		history = append(history, correlation.Pair{X: pair[0], Y: pair[1]})
	}

	writeJSON(w, http.StatusOK, CorrelationResponse{
		Coefficient: correlation.Pearson(history),
		Pairs:       len(history),
	})
}

// latest writes a 404 and reports false when no snapshot exists yet.
func (s *Service) latest(w http.ResponseWriter) (*monitor.Snapshot, bool) {
	snap, err := s.monitor.Latest()
	if errors.Is(err, monitor.ErrNoSnapshot) {
		writeError(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return snap, true
}

func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not finite", s)
	}
	return f, nil
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
