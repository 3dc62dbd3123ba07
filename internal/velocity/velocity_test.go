package velocity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Akoredejo/SentinelShield/internal/cache"
	"github.com/Akoredejo/SentinelShield/internal/domain"
)

func TestObserve(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(cache.NewLRUCache(100), time.Minute, 30)

	want := []struct {
		count  uint64
		factor uint64
	}{
		{1, 30},
		{2, 60},
		{3, 90},
		{4, 100},
	}

	for i, w := range want {
		count, factor, err := tracker.Observe(ctx, "0xabc")
		if err != nil {
			t.Fatalf("observe %d failed: %v", i, err)
		}
		if count != w.count || factor != w.factor {
			t.Errorf("observe %d: expected (%d,%d), got (%d,%d)", i, w.count, w.factor, count, factor)
		}
	}

	count, _, err := tracker.Observe(ctx, "0xdef")
	if err != nil {
		t.Fatalf("observe failed: %v", err)
	}
	if count != 1 {
		t.Errorf("traders must be counted separately, got %d", count)
	}
}

func TestObserveRequiresTrader(t *testing.T) {
	tracker := NewTracker(cache.NewLRUCache(10), 0, 5)
	if tracker.Window() != time.Hour {
		t.Errorf("expected default window of 1h, got %s", tracker.Window())
	}

	_, _, err := tracker.Observe(context.Background(), "")
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}
