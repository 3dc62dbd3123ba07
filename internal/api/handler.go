package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Akoredejo/SentinelShield/internal/analysis"
	"github.com/Akoredejo/SentinelShield/internal/bus"
	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/engine"
	"github.com/Akoredejo/SentinelShield/internal/risk"
	"github.com/Akoredejo/SentinelShield/internal/rules"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	engine   *engine.Engine
	analyzer *analysis.Analyzer
	rules    *rules.Engine
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	validate *validator.Validate
	version  string

	streamMu sync.Mutex
	streams  map[*streamClient]struct{}
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		engine:   deps.Engine,
		analyzer: deps.Analyzer,
		rules:    deps.Rules,
		repo:     deps.Repo,
		cache:    deps.Cache,
		bus:      deps.Bus,
		validate: validator.New(),
		version:  deps.Version,
		streams:  make(map[*streamClient]struct{}),
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RegisterTraderRequest is the request body for POST /traders.
type RegisterTraderRequest struct {
	Trader string `json:"trader" validate:"required,max=128"`
}

// FeatureWeightRequest is the request body for PUT /model/features/{id}.
type FeatureWeightRequest struct {
	FeatureName string `json:"featureName" validate:"max=50"`
	Weight      uint64 `json:"weight" validate:"lte=100"`
}

// GenerateAlertRequest is the request body for POST /alerts.
type GenerateAlertRequest struct {
	Trader      string `json:"trader" validate:"required,max=128"`
	RiskScore   uint64 `json:"riskScore"`
	AlertType   string `json:"alertType" validate:"max=50"`
	TradeVolume uint64 `json:"tradeVolume" validate:"lte=9223372036854775807"`
}

// UpdateStatusRequest is the request body for PUT /alerts/{id}/status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// AnomalyWindowRequest is the request body for POST /anomalies.
type AnomalyWindowRequest struct {
	Trader          string `json:"trader" validate:"required,max=128"`
	WindowID        uint64 `json:"windowId" validate:"lte=9223372036854775807"`
	AvgTradeSize    uint64 `json:"avgTradeSize" validate:"lte=9223372036854775807"`
	TradeFrequency  uint64 `json:"tradeFrequency" validate:"lte=9223372036854775807"`
	VolatilityScore uint64 `json:"volatilityScore" validate:"lte=9223372036854775807"`
	AnomalyDetected bool   `json:"anomalyDetected"`
}

// ThresholdRequest is the request body for PUT /system/threshold.
type ThresholdRequest struct {
	Threshold *uint64 `json:"threshold" validate:"required"`
}

// ActiveRequest is the request body for PUT /system/active.
type ActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// CreateRuleRequest is the request body for POST /rules.
type CreateRuleRequest struct {
	ID          string `json:"id" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Expression  string `json:"expression" validate:"required"`
	Enabled     *bool  `json:"enabled,omitempty"`
}

// IngestResponse acknowledges a trade queued on the bus.
type IngestResponse struct {
	Status  string `json:"status"`
	Trader  string `json:"trader"`
	TraceID string `json:"traceId"`
}

// RiskScoreResponse is the response for GET /risk/score.
type RiskScoreResponse struct {
	Score uint64     `json:"score"`
	Level risk.Level `json:"level"`
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

// Ready reports whether every backend answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	probe := func(name string, ping func() error) {
		if err := ping(); err != nil {
			slog.Warn("readiness check failed", "component", name, "error", err)
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		probe("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		probe("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		probe("bus", func() error { return h.bus.Ping(ctx) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

// RegisterTrader handles POST /traders.
func (h *Handler) RegisterTrader(w http.ResponseWriter, r *http.Request) {
	var req RegisterTraderRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.engine.RegisterTrader(r.Context(), CallerFrom(r.Context()), req.Trader)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetTrader handles GET /traders/{id}.
func (h *Handler) GetTrader(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.GetTraderProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// BlacklistTrader handles POST /traders/{id}/blacklist.
func (h *Handler) BlacklistTrader(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.BlacklistTrader(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// RecordTrade handles POST /traders/{id}/trades.
func (h *Handler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	p, err := h.engine.RecordTrade(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListAnomalyWindows handles GET /traders/{id}/anomalies.
func (h *Handler) ListAnomalyWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := h.engine.ListWindows(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"windows": windows,
		"count":   len(windows),
	})
}

// GetAnomalyWindow handles GET /traders/{id}/anomalies/{window}.
func (h *Handler) GetAnomalyWindow(w http.ResponseWriter, r *http.Request) {
	windowID, err := parseUint(chi.URLParam(r, "window"), "window")
	if err != nil {
		writeError(w, err)
		return
	}

	a, err := h.engine.GetWindow(r.Context(), chi.URLParam(r, "id"), windowID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// RecordAnomalyWindow handles POST /anomalies.
func (h *Handler) RecordAnomalyWindow(w http.ResponseWriter, r *http.Request) {
	var req AnomalyWindowRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	a := &domain.TradingAnomaly{
		Trader:          req.Trader,
		WindowID:        req.WindowID,
		AvgTradeSize:    req.AvgTradeSize,
		TradeFrequency:  req.TradeFrequency,
		VolatilityScore: req.VolatilityScore,
		AnomalyDetected: req.AnomalyDetected,
	}
	if err := h.engine.RecordWindow(r.Context(), a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// SetFeatureWeight handles PUT /model/features/{id}.
func (h *Handler) SetFeatureWeight(w http.ResponseWriter, r *http.Request) {
	var req FeatureWeightRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	mw, err := h.engine.SetFeatureWeight(r.Context(), CallerFrom(r.Context()), chi.URLParam(r, "id"), req.Weight, req.FeatureName)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mw)
}

// GetFeatureWeight handles GET /model/features/{id}.
func (h *Handler) GetFeatureWeight(w http.ResponseWriter, r *http.Request) {
	mw, err := h.engine.GetFeatureWeight(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mw)
}

// ListFeatureWeights handles GET /model/features.
func (h *Handler) ListFeatureWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := h.engine.ListFeatureWeights(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"features": weights,
		"count":    len(weights),
	})
}

// GenerateAlert handles POST /alerts.
func (h *Handler) GenerateAlert(w http.ResponseWriter, r *http.Request) {
	var req GenerateAlertRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.GenerateAlert(r.Context(), CallerFrom(r.Context()), domain.AlertRequest{
		Trader:      req.Trader,
		RiskScore:   req.RiskScore,
		AlertType:   req.AlertType,
		TradeVolume: req.TradeVolume,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListAlerts handles GET /alerts?trader=&status=&limit=.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		Trader: q.Get("trader"),
		Status: domain.AlertStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidInput))
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.engine.ListAlerts(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// GetAlert handles GET /alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(chi.URLParam(r, "id"), "alert id")
	if err != nil {
		writeError(w, err)
		return
	}

	a, err := h.engine.GetAlert(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateAlertStatus handles PUT /alerts/{id}/status.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseUint(chi.URLParam(r, "id"), "alert id")
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateStatusRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.engine.UpdateAlertStatus(r.Context(), CallerFrom(r.Context()), id, domain.AlertStatus(req.Status))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Analyze handles POST /analyze: the trade is scored synchronously.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var sig analysis.Signal
	if err := h.decode(r, &sig); err != nil {
		writeError(w, err)
		return
	}
	if sig.TraceID == "" {
		sig.TraceID = GetTraceID(r.Context())
	}

	res, err := h.analyzer.Analyze(r.Context(), sig)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// IngestTrade handles POST /trades: the trade is queued for the analysis
// workers and acknowledged immediately.
func (h *Handler) IngestTrade(w http.ResponseWriter, r *http.Request) {
	var sig analysis.Signal
	if err := h.decode(r, &sig); err != nil {
		writeError(w, err)
		return
	}
	if sig.TraceID == "" {
		sig.TraceID = GetTraceID(r.Context())
	}

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error: "event bus not available",
			Code:  "UNAVAILABLE",
		})
		return
	}

	if err := bus.PublishJSON(r.Context(), h.bus, domain.TopicTradeIngested, sig); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, IngestResponse{
		Status:  "accepted",
		Trader:  sig.Trader,
		TraceID: sig.TraceID,
	})
}

// RiskScore handles GET /risk/score?base=&volume=&frequency=.
func (h *Handler) RiskScore(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var factors [3]uint64
	for i, name := range []string{"base", "volume", "frequency"} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := parseUint(v, name)
		if err != nil {
			writeError(w, err)
			return
		}
		if n > domain.MaxScore {
			writeError(w, fmt.Errorf("%w: %s %d exceeds %d", domain.ErrInvalidInput, name, n, domain.MaxScore))
			return
		}
		factors[i] = n
	}

	score := risk.ComputeWeightedRisk(factors[0], factors[1], factors[2])
	writeJSON(w, http.StatusOK, RiskScoreResponse{
		Score: score,
		Level: risk.Classify(score),
	})
}

// GetSystemState handles GET /system.
func (h *Handler) GetSystemState(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.SystemState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetFraudThreshold handles PUT /system/threshold.
func (h *Handler) SetFraudThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	st, err := h.engine.SetFraudThreshold(r.Context(), CallerFrom(r.Context()), *req.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetSystemActive handles PUT /system/active.
func (h *Handler) SetSystemActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	st, err := h.engine.SetSystemActive(r.Context(), CallerFrom(r.Context()), *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListRules returns the detection rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.rules.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": loaded,
		"count": len(loaded),
	})
}

// CreateRule compiles, persists and loads a detection rule. Operators only.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := CallerFrom(ctx)
	if !h.engine.IsAdmin(caller) {
		writeError(w, fmt.Errorf("%w: %s", domain.ErrOwnerOnly, caller.ID))
		return
	}

	var req CreateRuleRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	rule := &domain.DetectionRule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Expression:  req.Expression,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if err := h.rules.Validate(rule); err != nil {
		writeError(w, err)
		return
	}
	if err := h.repo.SaveDetectionRule(ctx, rule); err != nil {
		writeError(w, err)
		return
	}
	if err := h.rules.Load(rule); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("detection rule saved", "rule_id", rule.ID, "enabled", rule.Enabled, "caller_id", caller.ID)
	writeJSON(w, http.StatusCreated, rule)
}

// ReloadRules swaps the loaded rule set for the enabled rules in storage.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := CallerFrom(ctx)
	if !h.engine.IsAdmin(caller) {
		writeError(w, fmt.Errorf("%w: %s", domain.ErrOwnerOnly, caller.ID))
		return
	}

	stored, err := h.repo.ListDetectionRules(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.rules.Reload(stored); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("detection rules reloaded", "count", len(stored), "caller_id", caller.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   h.rules.Count(),
	})
}

// decode reads a JSON body into v and runs struct validation.
func (h *Handler) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON request body: %v", domain.ErrInvalidInput, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, formatValidationError(err))
	}
	return nil
}

func formatValidationError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := lowerFirst(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", field, fe.Param()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func parseUint(s, name string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrInvalidInput, name)
	}
	return n, nil
}

// statusFor maps an engine error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrOwnerOnly), errors.Is(err, domain.ErrBlacklisted):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrThresholdNotExceeded):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: domain.ErrorCode(err)})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to encode response", "error", err)
	}
}
