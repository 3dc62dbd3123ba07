package analysis

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Akoredejo/SentinelShield/internal/cache"
	"github.com/Akoredejo/SentinelShield/internal/domain"
	"github.com/Akoredejo/SentinelShield/internal/engine"
	"github.com/Akoredejo/SentinelShield/internal/repository"
	"github.com/Akoredejo/SentinelShield/internal/risk"
	"github.com/Akoredejo/SentinelShield/internal/rules"
	"github.com/Akoredejo/SentinelShield/internal/velocity"
)

var admin = domain.Caller{ID: "admin"}

func newTestAnalyzer(t *testing.T) (*Analyzer, *engine.Engine) {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "analysis.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	eng := engine.New(repo, domain.EngineConfig{AdminIDs: []string{admin.ID}})

	ruleEngine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	if err := ruleEngine.Reload(rules.DefaultDetectionRules()); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	cfg := domain.DefaultConfig().Analysis
	tracker := velocity.NewTracker(cache.NewLRUCache(100), time.Hour, cfg.FrequencyScale)

	return New(eng, ruleEngine, tracker, cfg), eng
}

func TestAnalyzeBelowThreshold(t *testing.T) {
	ctx := context.Background()
	a, eng := newTestAnalyzer(t)

	if _, err := eng.RegisterTrader(ctx, admin, "T"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	res, err := a.Analyze(ctx, Signal{Trader: "T", WindowID: 1, BaseScore: 40, TradeVolume: 10000, AvgTradeSize: 5000, VolatilityScore: 10})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	// volume factor 10, frequency factor 5: (40*50 + 10*30 + 5*20) / 100 = 24
	if res.VolumeFactor != 10 || res.FrequencyFactor != 5 {
		t.Errorf("unexpected factors volume=%d frequency=%d", res.VolumeFactor, res.FrequencyFactor)
	}
	if res.Score != 24 || res.Level != risk.LevelLow {
		t.Errorf("expected score 24/low, got %d/%s", res.Score, res.Level)
	}
	if res.Alert != nil || res.Suppressed != SuppressedBelowThreshold {
		t.Errorf("expected no alert, got %+v suppressed=%q", res.Alert, res.Suppressed)
	}
	if !res.TradeRecorded {
		t.Error("expected trade to be recorded for registered trader")
	}

	p, _ := eng.GetTraderProfile(ctx, "T")
	if p.TotalTrades != 1 {
		t.Errorf("expected 1 trade, got %d", p.TotalTrades)
	}

	w, err := eng.GetWindow(ctx, "T", 1)
	if err != nil {
		t.Fatalf("window not recorded: %v", err)
	}
	if w.AnomalyDetected || w.TradeFrequency != 1 {
		t.Errorf("unexpected window %+v", w)
	}
}

func TestAnalyzeRaisesAlert(t *testing.T) {
	ctx := context.Background()
	a, eng := newTestAnalyzer(t)

	if _, err := eng.RegisterTrader(ctx, admin, "T"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// base 100, volume 100, frequency 5: (5000 + 3000 + 100) / 100 = 81
	res, err := a.Analyze(ctx, Signal{Trader: "T", BaseScore: 100, TradeVolume: 200000, AvgTradeSize: 1000, VolatilityScore: 95})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}

	if res.Score != 81 || res.Level != risk.LevelHigh {
		t.Errorf("expected 81/high, got %d/%s", res.Score, res.Level)
	}
	if !res.AnomalyDetected {
		t.Error("expected volatility and outsized-trade rules to fire")
	}
	if res.Alert == nil {
		t.Fatal("expected an alert")
	}
	if res.Alert.Alert.AlertType != AlertTypeAnomaly {
		t.Errorf("expected alert type %q, got %q", AlertTypeAnomaly, res.Alert.Alert.AlertType)
	}
	if !res.Alert.ProfileUpdated {
		t.Error("expected profile to be flagged")
	}

	if _, err := eng.GetWindow(ctx, "T", 0); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("window 0 must not be recorded, got %v", err)
	}
}

func TestAnalyzeSignalAlertType(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestAnalyzer(t)

	res, err := a.Analyze(ctx, Signal{Trader: "U", BaseScore: 100, TradeVolume: 200000, AlertType: "spoofing"})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if res.TradeRecorded {
		t.Error("unregistered trader has no profile to record on")
	}
	if res.Alert == nil || res.Alert.Alert.AlertType != "spoofing" {
		t.Fatalf("expected spoofing alert, got %+v", res.Alert)
	}
	if res.Alert.ProfileUpdated {
		t.Error("unregistered trader cannot be flagged")
	}
}

func TestAnalyzeSystemInactive(t *testing.T) {
	ctx := context.Background()
	a, eng := newTestAnalyzer(t)

	if _, err := eng.SetSystemActive(ctx, admin, false); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}

	res, err := a.Analyze(ctx, Signal{Trader: "T", BaseScore: 100, TradeVolume: 200000})
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if res.Alert != nil || res.Suppressed != SuppressedSystemInactive {
		t.Errorf("expected suppressed alert, got %+v suppressed=%q", res.Alert, res.Suppressed)
	}
}

func TestAnalyzeRejects(t *testing.T) {
	ctx := context.Background()
	a, eng := newTestAnalyzer(t)

	if _, err := eng.RegisterTrader(ctx, admin, "B"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := eng.BlacklistTrader(ctx, admin, "B"); err != nil {
		t.Fatalf("blacklist failed: %v", err)
	}

	tests := []struct {
		name string
		sig  Signal
		want error
	}{
		{"blacklisted", Signal{Trader: "B", BaseScore: 10}, domain.ErrBlacklisted},
		{"missing trader", Signal{BaseScore: 10}, domain.ErrInvalidInput},
		{"base score out of range", Signal{Trader: "T", BaseScore: 101}, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Analyze(ctx, tt.sig)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	p, _ := eng.GetTraderProfile(ctx, "B")
	if p.TotalTrades != 0 {
		t.Errorf("blacklisted trader trade must not be recorded, got %d", p.TotalTrades)
	}
}

func TestAlertType(t *testing.T) {
	if got := alertType("", false); got != AlertTypeThreshold {
		t.Errorf("expected %s, got %s", AlertTypeThreshold, got)
	}
	if got := alertType("", true); got != AlertTypeAnomaly {
		t.Errorf("expected %s, got %s", AlertTypeAnomaly, got)
	}
	if got := alertType("layering", true); got != "layering" {
		t.Errorf("expected layering, got %s", got)
	}
}

func TestAnalyzeBlacklistAcrossNodes(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "shared.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	ruleEngine, err := rules.NewEngine(2)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	cfg := domain.DefaultConfig().Analysis

	// Each node keeps its own L1 over the shared Redis.
	newNode := func() (*Analyzer, *engine.Engine) {
		c, err := cache.NewTwoPhaseCache(domain.CacheConfig{
			LocalMaxSize: 100,
			LocalTTL:     time.Minute,
			RedisAddr:    mr.Addr(),
		})
		if err != nil {
			t.Fatalf("failed to create cache: %v", err)
		}
		t.Cleanup(func() { c.Close() })

		eng := engine.New(repo, domain.EngineConfig{AdminIDs: []string{admin.ID}}, engine.WithCache(c, time.Minute))
		tracker := velocity.NewTracker(c, time.Hour, cfg.FrequencyScale)
		return New(eng, ruleEngine, tracker, cfg), eng
	}
	_, engA := newNode()
	nodeB, _ := newNode()

	if _, err := engA.RegisterTrader(ctx, admin, "T"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err := nodeB.Analyze(ctx, Signal{Trader: "T", BaseScore: 10}); err != nil {
		t.Fatalf("first analyze failed: %v", err)
	}
	if _, err := engA.BlacklistTrader(ctx, admin, "T"); err != nil {
		t.Fatalf("blacklist failed: %v", err)
	}

	res, err := nodeB.Analyze(ctx, Signal{Trader: "T", BaseScore: 100, TradeVolume: 5000})
	if !errors.Is(err, domain.ErrBlacklisted) {
		t.Fatalf("expected %v on second node, got err=%v result=%+v", domain.ErrBlacklisted, err, res)
	}

	p, err := repo.GetTraderProfile(ctx, "T")
	if err != nil {
		t.Fatalf("failed to load profile: %v", err)
	}
	if p.TotalTrades != 1 || p.FlaggedCount != 0 {
		t.Errorf("expected 1 trade and no flags, got trades=%d flagged=%d", p.TotalTrades, p.FlaggedCount)
	}
}

func TestAnalyzeRejectsUnstorableQuantities(t *testing.T) {
	ctx := context.Background()
	a, eng := newTestAnalyzer(t)

	if _, err := eng.RegisterTrader(ctx, admin, "T"); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	for _, sig := range []Signal{
		{Trader: "T", BaseScore: 100, TradeVolume: math.MaxUint64},
		{Trader: "T", BaseScore: 100, WindowID: math.MaxUint64},
		{Trader: "T", BaseScore: 100, WindowID: 1, AvgTradeSize: math.MaxUint64},
	} {
		if _, err := a.Analyze(ctx, sig); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected %v for %+v, got %v", domain.ErrInvalidInput, sig, err)
		}
	}

	p, _ := eng.GetTraderProfile(ctx, "T")
	if p.TotalTrades != 0 {
		t.Errorf("rejected signals must not record trades, got %d", p.TotalTrades)
	}
}
