package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"crypto-risk-scorer/internal/service"
	"crypto-risk-scorer/internal/version"
)

const maxBodyBytes = 1 << 20

// Monitoring actions accepted by POST /api/monitoring/metrics.
const (
	ActionStartMonitoring  = "start_monitoring"
	ActionStopMonitoring   = "stop_monitoring"
	ActionUpdateThresholds = "update_thresholds"
	ActionClearCache       = "clear_cache"
)

// tokenSpec accepts either "bitcoin" or {"tokenId": "bitcoin", ...}.
type tokenSpec service.AnalyzeRequest

func (t *tokenSpec) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*t = tokenSpec{TokenID: id}
		return nil
	}
	var req service.AnalyzeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("token must be an id or an object: %w", err)
	}
	*t = tokenSpec(req)
	return nil
}

func toRequests(specs []tokenSpec) []service.AnalyzeRequest {
	out := make([]service.AnalyzeRequest, 0, len(specs))
	for _, s := range specs {
		out = append(out, service.AnalyzeRequest(s))
	}
	return out
}

type batchBody struct {
	Tokens     []tokenSpec        `json:"tokens"`
	ReportType service.ReportType `json:"reportType"`
}

type monitoringBody struct {
	Action     string             `json:"action"`
	Tokens     []tokenSpec        `json:"tokens"`
	Interval   int                `json:"interval"`
	Thresholds service.Thresholds `json:"thresholds"`
}

func decodeBody(r *http.Request, w http.ResponseWriter, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    version.Version,
		"monitoring": s.backend.MonitorStatus().Active,
		"timestamp":  time.Now().UTC(),
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req service.AnalyzeRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if strings.TrimSpace(req.TokenID) == "" {
		writeBadRequest(w, r, "tokenId is required")
		return
	}

	data, err := s.backend.AnalyzeToken(r.Context(), req)
	if err != nil {
		writeError(w, r, "Failed to analyze token", err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) analyzeComprehensive(w http.ResponseWriter, r *http.Request) {
	var req service.AnalyzeRequest
	if err := decodeBody(r, w, &req); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if strings.TrimSpace(req.TokenID) == "" {
		writeBadRequest(w, r, "tokenId is required")
		return
	}
	writeJSON(w, http.StatusOK, s.backend.ComprehensiveAnalysis(r.Context(), req))
}

func (s *Server) analyzeBatch(w http.ResponseWriter, r *http.Request) {
	var body batchBody
	if err := decodeBody(r, w, &body); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	if len(body.Tokens) == 0 {
		writeBadRequest(w, r, "tokens array is required")
		return
	}
	if limit := s.backend.MaxBatchTokens(); len(body.Tokens) > limit {
		writeBadRequest(w, r, fmt.Sprintf("maximum %d tokens allowed per batch", limit))
		return
	}

	report, err := s.backend.GenerateRiskReport(r.Context(), toRequests(body.Tokens), body.ReportType)
	if err != nil {
		writeError(w, r, "Failed to generate risk report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) monitoringMetrics(w http.ResponseWriter, r *http.Request) {
	var tokens []string
	for _, t := range strings.Split(r.URL.Query().Get("tokens"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	writeJSON(w, http.StatusOK, s.backend.MonitoringMetrics(r.Context(), tokens))
}

func (s *Server) monitoringAction(w http.ResponseWriter, r *http.Request) {
	var body monitoringBody
	if err := decodeBody(r, w, &body); err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	switch body.Action {
	case ActionStartMonitoring:
		interval := time.Duration(body.Interval) * time.Second
		m, err := s.backend.StartRealTimeMonitoring(r.Context(), toRequests(body.Tokens), interval)
		if err != nil {
			writeError(w, r, "Failed to start monitoring", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"message":    "Real-time monitoring started",
			"session_id": m.ID(),
			"status":     s.backend.MonitorStatus(),
		})
	case ActionStopMonitoring:
		if err := s.backend.StopMonitoring(); err != nil {
			writeError(w, r, "Failed to stop monitoring", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Monitoring stopped"})
	case ActionUpdateThresholds:
		updated := s.backend.UpdateThresholds(body.Thresholds)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "thresholds": updated})
	case ActionClearCache:
		if err := s.backend.ClearCache(r.Context()); err != nil {
			writeError(w, r, "Failed to clear cache", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Cache cleared"})
	default:
		writeBadRequest(w, r, fmt.Sprintf("unknown action %q", body.Action))
	}
}

func (s *Server) marketData(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("type")
	data, err := s.backend.MarketData(r.Context(), kind)
	if err != nil {
		writeError(w, r, "Failed to fetch market data", err)
		return
	}
	if kind == "" {
		kind = service.MarketAll
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"type":      kind,
		"data":      data,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) clearMarketData(w http.ResponseWriter, r *http.Request) {
	if err := s.backend.ClearMarketCache(r.Context()); err != nil {
		writeError(w, r, "Failed to clear market cache", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Market data cache cleared"})
}
