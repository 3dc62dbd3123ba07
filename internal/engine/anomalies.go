package engine

import (
	"context"
	"fmt"

	"github.com/Akoredejo/SentinelShield/internal/domain"
)

// RecordWindow upserts the behavioral snapshot of one trader window.
// Re-recording a window overwrites it.
func (e *Engine) RecordWindow(ctx context.Context, a *domain.TradingAnomaly) error {
	if a == nil || a.Trader == "" {
		return fmt.Errorf("%w: trader is required", domain.ErrInvalidInput)
	}
	if err := a.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.repo.SaveAnomaly(ctx, a)
}

// GetWindow returns the snapshot for (trader, windowID).
func (e *Engine) GetWindow(ctx context.Context, trader string, windowID uint64) (*domain.TradingAnomaly, error) {
	a, err := e.repo.GetAnomaly(ctx, trader, windowID)
	if err != nil {
		return nil, fmt.Errorf("window %s/%d: %w", trader, windowID, err)
	}
	return a, nil
}

// ListWindows returns every snapshot recorded for trader.
func (e *Engine) ListWindows(ctx context.Context, trader string) ([]*domain.TradingAnomaly, error) {
	return e.repo.ListAnomalies(ctx, trader)
}
