// Package velocity tracks how often each trader trades within a rolling
// window and turns that count into a frequency factor.
package velocity

import (
	"context"
	"fmt"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/risk"
)

// Tracker counts trades per trader on the shared cache, so every node of a
// pro deployment sees the same frequency.
type Tracker struct {
	cache  domain.Cache
	window time.Duration
	scale  uint64
}

// NewTracker counts trades over window; each trade adds scale to the factor.
func NewTracker(cache domain.Cache, window time.Duration, scale uint64) *Tracker {
	if window <= 0 {
		window = time.Hour
	}
	return &Tracker{cache: cache, window: window, scale: scale}
}

// Observe records one trade for trader and returns the trade count within
// the current window together with its frequency factor.
func (t *Tracker) Observe(ctx context.Context, trader string) (count uint64, factor uint64, err error) {
	if trader == "" {
		return 0, 0, fmt.Errorf("%w: trader is required", domain.ErrInvalidInput)
	}

	n, err := t.cache.IncrementCounter(ctx, key(trader), t.window)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count trades: %w", err)
	}
	if n < 0 {
		n = 0
	}
	return uint64(n), risk.FrequencyFactor(n, t.scale), nil
}

// Window returns the rolling window length.
func (t *Tracker) Window() time.Duration {
	return t.window
}

func key(trader string) string {
	return "trades:" + trader
}
