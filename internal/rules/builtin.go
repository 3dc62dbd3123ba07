package rules

import "github.com/Akoredejo/SentinelShield/internal/domain"

// DefaultDetectionRules are seeded into an empty rule table on first start.
func DefaultDetectionRules() []*domain.DetectionRule {
	return []*domain.DetectionRule{
		{
			ID:          "volatility-spike",
			Name:        "Volatility Spike",
			Description: "Window volatility in the top band",
			Version:     "1.0.0",
			Expression:  "volatility_score >= 80",
			Enabled:     true,
		},
		{
			ID:          "frequency-burst",
			Name:        "Frequency Burst",
			Description: "Unusually many trades within the window",
			Version:     "1.0.0",
			Expression:  "trade_frequency >= 20",
			Enabled:     true,
		},
		{
			ID:          "outsized-trade",
			Name:        "Outsized Trade",
			Description: "Trade at least ten times the trader's average size",
			Version:     "1.0.0",
			Expression:  "avg_trade_size > 0 && trade_volume >= avg_trade_size * 10",
			Enabled:     true,
		},
	}
}
