// Package analysis turns a raw trade signal into a risk decision: it
// derives the volume and frequency factors, scores and classifies the trade,
// runs the detection rules, records the anomaly window and raises an alert
// when the score clears the fraud threshold.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/engine"
	"github.com/Akoredejo/SentinelShield/internal/metrics"
	"github.com/Akoredejo/SentinelShield/internal/risk"
	"github.com/Akoredejo/SentinelShield/internal/rules"
	"github.com/Akoredejo/SentinelShield/internal/velocity"
)

var tracer = otel.Tracer("sentinel-analysis")

// Default alert types when the signal names none.
const (
	AlertTypeAnomaly   = "anomaly"
	AlertTypeThreshold = "risk-threshold"
)

// Reasons an alert-worthy analysis did not produce an alert.
const (
	SuppressedBelowThreshold = "below-threshold"
	SuppressedSystemInactive = "system-inactive"
)

// Signal is one observed trade plus the window statistics produced by the
// upstream detection pipeline.
type Signal struct {
	Trader          string `json:"trader" validate:"required,max=128"`
	WindowID        uint64 `json:"windowId" validate:"lte=9223372036854775807"`
	BaseScore       uint64 `json:"baseScore" validate:"lte=100"`
	TradeVolume     uint64 `json:"tradeVolume" validate:"lte=9223372036854775807"`
	AvgTradeSize    uint64 `json:"avgTradeSize" validate:"lte=9223372036854775807"`
	VolatilityScore uint64 `json:"volatilityScore" validate:"lte=9223372036854775807"`
	AlertType       string `json:"alertType,omitempty" validate:"max=50"`
	TraceID         string `json:"traceId,omitempty"`
}

// Result is the outcome of one analysis.
type Result struct {
	Trader          string              `json:"trader"`
	WindowID        uint64              `json:"windowId"`
	Score           uint64              `json:"score"`
	Level           risk.Level          `json:"level"`
	BaseScore       uint64              `json:"baseScore"`
	VolumeFactor    uint64              `json:"volumeFactor"`
	FrequencyFactor uint64              `json:"frequencyFactor"`
	TradeFrequency  uint64              `json:"tradeFrequency"`
	AnomalyDetected bool                `json:"anomalyDetected"`
	Rules           []domain.RuleHit    `json:"rules,omitempty"`
	TradeRecorded   bool                `json:"tradeRecorded"`
	Alert           *domain.AlertResult `json:"alert,omitempty"`
	Suppressed      string              `json:"suppressed,omitempty"`
	ProcessMs       int64               `json:"processMs"`
}

// Analyzer wires the scoring pipeline together.
type Analyzer struct {
	engine  *engine.Engine
	rules   *rules.Engine
	tracker *velocity.Tracker
	cfg     domain.AnalysisConfig
}

// New creates an analyzer.
func New(e *engine.Engine, r *rules.Engine, t *velocity.Tracker, cfg domain.AnalysisConfig) *Analyzer {
	return &Analyzer{engine: e, rules: r, tracker: t, cfg: cfg}
}

// Analyze scores sig. Blacklisted traders are rejected with
// domain.ErrBlacklisted before anything is recorded.
func (a *Analyzer) Analyze(ctx context.Context, sig Signal) (*Result, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "analysis.Analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("trader", sig.Trader),
		attribute.Int64("window_id", int64(sig.WindowID)),
	)

	res, err := a.analyze(ctx, sig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.ProcessMs = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int64("risk_score", int64(res.Score)),
		attribute.String("risk_level", string(res.Level)),
		attribute.Bool("anomaly_detected", res.AnomalyDetected),
	)

	metrics.AnalysesTotal.WithLabelValues(string(res.Level)).Inc()
	metrics.RiskScores.Observe(float64(res.Score))

	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, sig Signal) (*Result, error) {
	if sig.Trader == "" {
		return nil, fmt.Errorf("%w: trader is required", domain.ErrInvalidInput)
	}
	if sig.BaseScore > domain.MaxScore {
		return nil, fmt.Errorf("%w: baseScore %d exceeds %d", domain.ErrInvalidInput, sig.BaseScore, domain.MaxScore)
	}
	if len(sig.AlertType) > domain.MaxAlertTypeLen {
		return nil, fmt.Errorf("%w: alertType longer than %d", domain.ErrInvalidInput, domain.MaxAlertTypeLen)
	}
	if err := domain.CheckQuantity("tradeVolume", sig.TradeVolume); err != nil {
		return nil, err
	}
	window := domain.TradingAnomaly{WindowID: sig.WindowID, AvgTradeSize: sig.AvgTradeSize, VolatilityScore: sig.VolatilityScore}
	if err := window.Validate(); err != nil {
		return nil, err
	}

	res := &Result{Trader: sig.Trader, WindowID: sig.WindowID, BaseScore: sig.BaseScore}

	_, err := a.engine.AdmitTrade(ctx, sig.Trader)
	switch {
	case err == nil:
		res.TradeRecorded = true
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	count, freqFactor, err := a.tracker.Observe(ctx, sig.Trader)
	if err != nil {
		// A counter outage degrades the frequency factor to zero; scoring
		// continues on the remaining factors.
		slog.Warn("trade frequency unavailable", "trader", sig.Trader, "error", err)
	}
	res.TradeFrequency = count
	res.FrequencyFactor = freqFactor
	res.VolumeFactor = risk.VolumeFactor(sig.TradeVolume, a.cfg.VolumeCeiling)
	res.Score = risk.ComputeWeightedRisk(sig.BaseScore, res.VolumeFactor, res.FrequencyFactor)
	res.Level = risk.Classify(res.Score)

	res.Rules = a.rules.Evaluate(ctx, rules.Signals{
		AvgTradeSize:    sig.AvgTradeSize,
		TradeFrequency:  count,
		VolatilityScore: sig.VolatilityScore,
		TradeVolume:     sig.TradeVolume,
		BaseScore:       sig.BaseScore,
		RiskScore:       res.Score,
	})
	res.AnomalyDetected = rules.AnyFired(res.Rules)

	if sig.WindowID > 0 {
		err := a.engine.RecordWindow(ctx, &domain.TradingAnomaly{
			Trader:          sig.Trader,
			WindowID:        sig.WindowID,
			AvgTradeSize:    sig.AvgTradeSize,
			TradeFrequency:  count,
			VolatilityScore: sig.VolatilityScore,
			AnomalyDetected: res.AnomalyDetected,
		})
		if err != nil {
			return nil, err
		}
	}

	alert, err := a.engine.GenerateAlert(ctx, domain.SystemCaller, domain.AlertRequest{
		Trader:      sig.Trader,
		RiskScore:   res.Score,
		AlertType:   alertType(sig.AlertType, res.AnomalyDetected),
		TradeVolume: sig.TradeVolume,
	})
	switch {
	case err == nil:
		res.Alert = alert
	case errors.Is(err, domain.ErrThresholdNotExceeded):
		res.Suppressed = SuppressedBelowThreshold
	case errors.Is(err, domain.ErrUnauthorized):
		res.Suppressed = SuppressedSystemInactive
	default:
		return nil, err
	}

	slog.Debug("trade analyzed",
		"trader", sig.Trader,
		"trace_id", sig.TraceID,
		"risk_score", res.Score,
		"risk_level", res.Level,
		"anomaly_detected", res.AnomalyDetected,
		"alerted", res.Alert != nil,
	)

	return res, nil
}

func alertType(requested string, anomaly bool) string {
	switch {
	case requested != "":
		return requested
	case anomaly:
		return AlertTypeAnomaly
	default:
		return AlertTypeThreshold
	}
}
