package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Akoredejo/SentinelShield/internal/domain"
)

// SetFraudThreshold changes the minimum risk score that creates an alert.
func (e *Engine) SetFraudThreshold(ctx context.Context, caller domain.Caller, threshold uint64) (*domain.SystemState, error) {
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if threshold > domain.MaxScore {
		return nil, fmt.Errorf("%w: threshold %d exceeds %d", domain.ErrInvalidInput, threshold, domain.MaxScore)
	}

	st, err := e.updateState(ctx, func(st *domain.SystemState) {
		st.FraudThreshold = uint8(threshold)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("fraud threshold changed", "threshold", threshold, "caller_id", caller.ID)
	return st, nil
}

// SetSystemActive opens or closes the gate on alert generation.
func (e *Engine) SetSystemActive(ctx context.Context, caller domain.Caller, active bool) (*domain.SystemState, error) {
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}

	st, err := e.updateState(ctx, func(st *domain.SystemState) {
		st.SystemActive = active
	})
	if err != nil {
		return nil, err
	}

	slog.Warn("system active flag changed", "active", active, "caller_id", caller.ID)
	return st, nil
}

// SystemState returns the global counters and gates.
func (e *Engine) SystemState(ctx context.Context) (*domain.SystemState, error) {
	return e.repo.GetSystemState(ctx)
}

func (e *Engine) updateState(ctx context.Context, mutate func(*domain.SystemState)) (*domain.SystemState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var st *domain.SystemState
	err := e.repo.Atomic(ctx, func(tx domain.Store) error {
		var err error
		if st, err = tx.GetSystemState(ctx); err != nil {
			return err
		}
		mutate(st)
		return tx.SaveSystemState(ctx, st)
	})
	return st, err
}
