package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/Akoredejo/SentinelShield/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(4)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func TestDefaultRulesCompile(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Reload(DefaultDetectionRules()); err != nil {
		t.Fatalf("default rules failed to load: %v", err)
	}
	if e.Count() != len(DefaultDetectionRules()) {
		t.Errorf("expected %d rules, got %d", len(DefaultDetectionRules()), e.Count())
	}
}

func TestEvaluate(t *testing.T) {
	e := newTestEngine(t)
	if err := e.Reload(DefaultDetectionRules()); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	ctx := context.Background()

	tests := []struct {
		name      string
		signals   Signals
		wantFired []string
	}{
		{
			name:    "quiet window",
			signals: Signals{AvgTradeSize: 100, TradeFrequency: 3, VolatilityScore: 10, TradeVolume: 120},
		},
		{
			name:      "volatility spike",
			signals:   Signals{AvgTradeSize: 100, TradeFrequency: 3, VolatilityScore: 80, TradeVolume: 120},
			wantFired: []string{"volatility-spike"},
		},
		{
			name:      "burst and outsized",
			signals:   Signals{AvgTradeSize: 100, TradeFrequency: 25, VolatilityScore: 10, TradeVolume: 1000},
			wantFired: []string{"frequency-burst", "outsized-trade"},
		},
		{
			name:    "no average means no outsized trade",
			signals: Signals{TradeVolume: 1_000_000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := e.Evaluate(ctx, tt.signals)
			if len(hits) != 3 {
				t.Fatalf("expected 3 hits, got %d", len(hits))
			}

			var fired []string
			for _, h := range hits {
				if h.Error != "" {
					t.Errorf("rule %s errored: %s", h.RuleID, h.Error)
				}
				if h.Fired {
					fired = append(fired, h.RuleID)
				}
			}

			if len(fired) != len(tt.wantFired) {
				t.Fatalf("expected fired %v, got %v", tt.wantFired, fired)
			}
			for i := range fired {
				if fired[i] != tt.wantFired[i] {
					t.Errorf("expected fired %v, got %v", tt.wantFired, fired)
				}
			}
			if AnyFired(hits) != (len(tt.wantFired) > 0) {
				t.Error("AnyFired disagrees with hits")
			}
		})
	}
}

func TestEvaluateOrdersByRuleID(t *testing.T) {
	e := newTestEngine(t)
	_ = e.Reload(DefaultDetectionRules())

	hits := e.Evaluate(context.Background(), Signals{})
	for i := 1; i < len(hits); i++ {
		if hits[i-1].RuleID > hits[i].RuleID {
			t.Errorf("hits not ordered: %s before %s", hits[i-1].RuleID, hits[i].RuleID)
		}
	}
}

func TestRuntimeErrorDoesNotFire(t *testing.T) {
	e := newTestEngine(t)
	rule := &domain.DetectionRule{ID: "div", Expression: "trade_volume / avg_trade_size > 2", Enabled: true}
	if err := e.Load(rule); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	hits := e.Evaluate(context.Background(), Signals{TradeVolume: 10})
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Fired || hits[0].Error == "" {
		t.Errorf("expected division by zero to error without firing, got %+v", hits[0])
	}
}

func TestValidate(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name string
		rule *domain.DetectionRule
		ok   bool
	}{
		{"valid", &domain.DetectionRule{ID: "r", Expression: "risk_score > 50"}, true},
		{"syntax error", &domain.DetectionRule{ID: "r", Expression: "risk_score >"}, false},
		{"unknown variable", &domain.DetectionRule{ID: "r", Expression: "amount > 5"}, false},
		{"non bool", &domain.DetectionRule{ID: "r", Expression: "risk_score + 1"}, false},
		{"missing id", &domain.DetectionRule{Expression: "true"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.rule)
			if tt.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if e.Count() != 0 {
		t.Error("Validate must not load rules")
	}
}

func TestLoadAndReload(t *testing.T) {
	e := newTestEngine(t)

	rule := &domain.DetectionRule{ID: "r1", Expression: "base_score > 90", Enabled: true}
	if err := e.Load(rule); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	disabled := *rule
	disabled.Enabled = false
	if err := e.Load(&disabled); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if e.Count() != 0 {
		t.Errorf("disabling should remove the rule, got %d", e.Count())
	}

	_ = e.Load(rule)
	bad := []*domain.DetectionRule{{ID: "bad", Expression: "(", Enabled: true}}
	if err := e.Reload(bad); err == nil {
		t.Fatal("expected reload to fail")
	}
	if e.Count() != 1 || e.Rules()[0].ID != "r1" {
		t.Error("failed reload must keep the previous set")
	}
}
