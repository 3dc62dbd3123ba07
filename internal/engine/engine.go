// Package engine implements the fraud scoring state machine: the model
// registry, trader profiles, anomaly windows, the alert lifecycle and the
// global system state.
//
// Every mutating operation holds one engine-wide lock and commits its
// multi-entity effects in a single repository transaction. Events are
// published and caches refreshed only after the commit succeeds.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/bus"
	"github.com/Akoredejo/SentinelShield/internal/domain"
)

// Engine owns all state transitions. It is safe for concurrent use.
type Engine struct {
	mu sync.Mutex

	repo   domain.Repository
	bus    domain.EventBus
	cache  domain.Cache
	clock  domain.Clock
	admins map[string]struct{}
	policy domain.EngineConfig

	profileTTL time.Duration
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithBus publishes alert and blacklist events on b.
func WithBus(b domain.EventBus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithCache serves trader profile reads from c, refreshing it on writes.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = c
		e.profileTTL = ttl
	}
}

// WithClock overrides the logical clock stamped on alerts and trades.
func WithClock(c domain.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New creates an engine over repo. cfg.AdminIDs lists the callers allowed to
// run operator-only operations.
func New(repo domain.Repository, cfg domain.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		clock:      domain.UnixClock{},
		admins:     make(map[string]struct{}, len(cfg.AdminIDs)),
		policy:     cfg,
		profileTTL: 30 * time.Second,
	}
	for _, id := range cfg.AdminIDs {
		e.admins[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IsAdmin reports whether caller may run operator-only operations.
func (e *Engine) IsAdmin(caller domain.Caller) bool {
	_, ok := e.admins[caller.ID]
	return ok
}

func (e *Engine) requireAdmin(caller domain.Caller) error {
	if !e.IsAdmin(caller) {
		return fmt.Errorf("%w: caller %q", domain.ErrOwnerOnly, caller.ID)
	}
	return nil
}

// publish emits an event after commit. Failures are logged, never returned:
// the state change has already happened.
func (e *Engine) publish(ctx context.Context, topic string, v any) {
	if e.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, e.bus, topic, v); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "error", err)
	}
}
