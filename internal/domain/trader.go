package domain

// TraderProfile is the aggregate state held for one trader on the venue.
type TraderProfile struct {
	Trader          string `json:"trader"`
	TotalTrades     uint64 `json:"totalTrades"`
	FlaggedCount    uint64 `json:"flaggedCount"`
	RiskScore       uint8  `json:"riskScore"`
	LastTradeTime   uint64 `json:"lastTradeTime"`
	IsBlacklisted   bool   `json:"isBlacklisted"`
	ReputationScore uint8  `json:"reputationScore"`
}

// Score bounds shared by risk, weight and reputation fields.
const (
	MaxScore          = 100
	InitialReputation = 100

	// ReputationPenalty is subtracted from a trader's reputation when one of
	// their alerts is confirmed.
	ReputationPenalty = 20
)

// NewTraderProfile returns a freshly registered profile.
func NewTraderProfile(trader string) *TraderProfile {
	return &TraderProfile{
		Trader:          trader,
		ReputationScore: InitialReputation,
	}
}

// ApplyFlag records one more alert against the trader and stores the
// alert's risk score as the latest score.
func (p *TraderProfile) ApplyFlag(riskScore uint8) {
	p.FlaggedCount++
	p.RiskScore = riskScore
}

// Penalize subtracts penalty from the reputation score, stopping at zero.
func (p *TraderProfile) Penalize(penalty uint8) {
	if penalty >= p.ReputationScore {
		p.ReputationScore = 0
		return
	}
	p.ReputationScore -= penalty
}

// RecordTrade counts a trade observed at the given logical time.
func (p *TraderProfile) RecordTrade(at uint64) {
	p.TotalTrades++
	p.LastTradeTime = at
}
