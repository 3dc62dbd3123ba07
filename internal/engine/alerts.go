package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/metrics"
)

// GenerateAlert creates a pending alert for req.Trader and flags the
// trader's profile. The alert id, the alert, the profile flag and both
// global counters commit together.
//
// For a trader without a profile the alert still commits and the result
// reports ProfileUpdated=false, unless StrictTraderCheck is set, in which
// case nothing commits and ErrNotFound is returned.
func (e *Engine) GenerateAlert(ctx context.Context, caller domain.Caller, req domain.AlertRequest) (*domain.AlertResult, error) {
	if req.Trader == "" {
		return nil, fmt.Errorf("%w: trader is required", domain.ErrInvalidInput)
	}
	if len(req.AlertType) > domain.MaxAlertTypeLen {
		return nil, fmt.Errorf("%w: alertType longer than %d", domain.ErrInvalidInput, domain.MaxAlertTypeLen)
	}
	if err := domain.CheckQuantity("tradeVolume", req.TradeVolume); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		alert    *domain.FraudAlert
		profile  *domain.TraderProfile
		warnings []string
	)

	err := e.repo.Atomic(ctx, func(tx domain.Store) error {
		st, err := tx.GetSystemState(ctx)
		if err != nil {
			return err
		}
		if !st.SystemActive {
			return domain.ErrUnauthorized
		}
		if req.RiskScore > domain.MaxScore {
			return fmt.Errorf("%w: riskScore %d exceeds %d", domain.ErrInvalidInput, req.RiskScore, domain.MaxScore)
		}
		if req.RiskScore < uint64(st.FraudThreshold) {
			return fmt.Errorf("%w: %d < %d", domain.ErrThresholdNotExceeded, req.RiskScore, st.FraudThreshold)
		}

		profile, err = tx.GetTraderProfile(ctx, req.Trader)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if e.policy.StrictTraderCheck {
				return fmt.Errorf("trader %s: %w", req.Trader, domain.ErrNotFound)
			}
			profile = nil
			warnings = []string{fmt.Sprintf("trader %s is not registered; profile not flagged", req.Trader)}
		case err != nil:
			return err
		}

		alert = &domain.FraudAlert{
			ID:          st.AlertCounter + 1,
			Trader:      req.Trader,
			RiskScore:   uint8(req.RiskScore),
			AlertType:   req.AlertType,
			Timestamp:   e.clock.Now(),
			Status:      domain.AlertPending,
			TradeVolume: req.TradeVolume,
			FlaggedByAI: true,
		}
		if err := tx.SaveAlert(ctx, alert); err != nil {
			return err
		}

		if profile != nil {
			profile.ApplyFlag(alert.RiskScore)
			if err := tx.SaveTraderProfile(ctx, profile); err != nil {
				return err
			}
		}

		st.AlertCounter = alert.ID
		st.TotalAlertsGenerated++
		return tx.SaveSystemState(ctx, st)
	})
	if err != nil {
		return nil, err
	}

	metrics.AlertsGenerated.WithLabelValues(alert.AlertType).Inc()
	if profile == nil {
		metrics.SwallowedFailures.WithLabelValues("flag").Inc()
		slog.Warn("alert created for unregistered trader", "alert_id", alert.ID, "trader", alert.Trader)
	}
	slog.Info("fraud alert generated",
		"alert_id", alert.ID,
		"trader", alert.Trader,
		"risk_score", alert.RiskScore,
		"alert_type", alert.AlertType,
	)

	e.refreshProfile(ctx, profile)
	e.publish(ctx, domain.TopicAlertGenerated, domain.AlertEvent{Alert: alert, CallerID: caller.ID})

	return &domain.AlertResult{
		Alert:          alert,
		ProfileUpdated: profile != nil,
		Warnings:       warnings,
	}, nil
}

// UpdateAlertStatus sets the status of alert id. Confirming an alert takes
// ReputationPenalty off the trader's reputation in the same transaction;
// a missing profile skips the penalty and is reported on the result.
func (e *Engine) UpdateAlertStatus(ctx context.Context, caller domain.Caller, id uint64, status domain.AlertStatus) (*domain.StatusResult, error) {
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if _, err := domain.ParseAlertStatus(string(status)); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		alert   *domain.FraudAlert
		profile *domain.TraderProfile
		result  domain.StatusResult
	)

	err := e.repo.Atomic(ctx, func(tx domain.Store) error {
		var err error
		if alert, err = tx.GetAlert(ctx, id); err != nil {
			return fmt.Errorf("alert %d: %w", id, err)
		}
		if e.policy.EnforceTransitions && !domain.CanTransition(alert.Status, status) {
			return fmt.Errorf("%w: cannot move alert %d from %s to %s", domain.ErrInvalidInput, id, alert.Status, status)
		}

		result.PreviousStatus = alert.Status
		alert.Status = status
		if err := tx.SaveAlert(ctx, alert); err != nil {
			return err
		}

		if status != domain.AlertConfirmed {
			return nil
		}

		profile, err = tx.GetTraderProfile(ctx, alert.Trader)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			profile = nil
			result.Warnings = []string{fmt.Sprintf("trader %s is not registered; reputation not penalized", alert.Trader)}
			return nil
		case err != nil:
			return err
		}

		profile.Penalize(domain.ReputationPenalty)
		result.PenaltyApplied = true
		return tx.SaveTraderProfile(ctx, profile)
	})
	if err != nil {
		return nil, err
	}

	metrics.AlertStatusChanges.WithLabelValues(string(status)).Inc()
	if status == domain.AlertConfirmed && !result.PenaltyApplied {
		metrics.SwallowedFailures.WithLabelValues("penalty").Inc()
	}
	slog.Info("alert status updated",
		"alert_id", id,
		"from", result.PreviousStatus,
		"to", status,
		"caller_id", caller.ID,
	)

	e.refreshProfile(ctx, profile)
	e.publish(ctx, domain.TopicAlertStatus, domain.AlertEvent{
		Alert:          alert,
		PreviousStatus: result.PreviousStatus,
		CallerID:       caller.ID,
	})

	result.Alert = alert
	return &result, nil
}

// GetAlert returns alert id.
func (e *Engine) GetAlert(ctx context.Context, id uint64) (*domain.FraudAlert, error) {
	a, err := e.repo.GetAlert(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("alert %d: %w", id, err)
	}
	return a, nil
}

// ListAlerts returns alerts matching filter in id order.
func (e *Engine) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.FraudAlert, error) {
	if filter.Status != "" {
		if _, err := domain.ParseAlertStatus(string(filter.Status)); err != nil {
			return nil, err
		}
	}
	return e.repo.ListAlerts(ctx, filter)
}
