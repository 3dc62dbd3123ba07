package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/metrics"
)

// RegisterTrader creates a fresh profile for trader.
func (e *Engine) RegisterTrader(ctx context.Context, caller domain.Caller, trader string) (*domain.TraderProfile, error) {
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if trader == "" {
		return nil, fmt.Errorf("%w: trader is required", domain.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := domain.NewTraderProfile(trader)
	err := e.repo.Atomic(ctx, func(tx domain.Store) error {
		_, err := tx.GetTraderProfile(ctx, trader)
		switch {
		case err == nil:
			return fmt.Errorf("%w: trader %s", domain.ErrAlreadyExists, trader)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		return tx.SaveTraderProfile(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("trader registered", "trader", trader, "caller_id", caller.ID)
	e.refreshProfile(ctx, p)
	return p, nil
}

// GetTraderProfile returns the profile of trader, served from cache when
// one is configured. Cached copies may lag writes made on other nodes; use
// AdmitTrade for decisions that must see the committed blacklist flag.
func (e *Engine) GetTraderProfile(ctx context.Context, trader string) (*domain.TraderProfile, error) {
	if e.cache != nil {
		if p, err := e.cache.GetProfile(ctx, trader); err == nil && p != nil {
			return p, nil
		}
	}

	// The read-through fill runs under the write lock so it cannot overwrite
	// a fresher profile cached by a concurrent mutation.
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.repo.GetTraderProfile(ctx, trader)
	if err != nil {
		return nil, err
	}
	e.refreshProfile(ctx, p)
	return p, nil
}

// AdmitTrade records a trade for trader unless the trader is blacklisted.
// The blacklist flag is read from the store inside the same transaction,
// never from cache. It returns ErrNotFound for unregistered traders and
// ErrBlacklisted, with nothing recorded, for blacklisted ones.
func (e *Engine) AdmitTrade(ctx context.Context, trader string) (*domain.TraderProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var p *domain.TraderProfile
	err := e.repo.Atomic(ctx, func(tx domain.Store) error {
		var err error
		if p, err = tx.GetTraderProfile(ctx, trader); err != nil {
			return fmt.Errorf("trader %s: %w", trader, err)
		}
		if p.IsBlacklisted {
			return fmt.Errorf("%w: %s", domain.ErrBlacklisted, trader)
		}
		p.RecordTrade(e.clock.Now())
		return tx.SaveTraderProfile(ctx, p)
	})
	if errors.Is(err, domain.ErrBlacklisted) {
		// Evict any stale copy that still shows the trader as admitted.
		e.refreshProfile(ctx, p)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	e.refreshProfile(ctx, p)
	return p, nil
}

// RecordTrade counts one trade for a registered trader at the current
// logical time.
func (e *Engine) RecordTrade(ctx context.Context, trader string) (*domain.TraderProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var p *domain.TraderProfile
	err := e.repo.Atomic(ctx, func(tx domain.Store) error {
		var err error
		if p, err = tx.GetTraderProfile(ctx, trader); err != nil {
			return fmt.Errorf("trader %s: %w", trader, err)
		}
		p.RecordTrade(e.clock.Now())
		return tx.SaveTraderProfile(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	e.refreshProfile(ctx, p)
	return p, nil
}

// BlacklistTrader marks trader as blacklisted. Repeating it is a no-op
// success; there is no way back.
func (e *Engine) BlacklistTrader(ctx context.Context, caller domain.Caller, trader string) (*domain.TraderProfile, error) {
	if err := e.requireAdmin(caller); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var p *domain.TraderProfile
	err := e.repo.Atomic(ctx, func(tx domain.Store) error {
		var err error
		if p, err = tx.GetTraderProfile(ctx, trader); err != nil {
			return fmt.Errorf("trader %s: %w", trader, err)
		}
		p.IsBlacklisted = true
		return tx.SaveTraderProfile(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	metrics.TradersBlacklisted.Inc()
	slog.Warn("trader blacklisted", "trader", trader, "caller_id", caller.ID)

	e.refreshProfile(ctx, p)
	e.publish(ctx, domain.TopicTraderBlacklisted, domain.BlacklistEvent{Trader: trader, CallerID: caller.ID})
	return p, nil
}

func (e *Engine) refreshProfile(ctx context.Context, p *domain.TraderProfile) {
	if e.cache == nil || p == nil {
		return
	}
	if err := e.cache.SetProfile(ctx, p, e.profileTTL); err != nil {
		slog.Warn("failed to cache trader profile", "trader", p.Trader, "error", err)
	}
}
