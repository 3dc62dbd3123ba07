package domain

import (
	"fmt"
	"math"
)

// TradingAnomaly is the behavioral snapshot of one trader over one window.
type TradingAnomaly struct {
	Trader          string `json:"trader"`
	WindowID        uint64 `json:"windowId"`
	AvgTradeSize    uint64 `json:"avgTradeSize"`
	TradeFrequency  uint64 `json:"tradeFrequency"`
	VolatilityScore uint64 `json:"volatilityScore"`
	AnomalyDetected bool   `json:"anomalyDetected"`
}

// MaxQuantity is the largest volume, size or window id that survives a
// round trip through a signed BIGINT column.
const MaxQuantity = math.MaxInt64

// CheckQuantity rejects a quantity the store cannot represent.
func CheckQuantity(field string, v uint64) error {
	if v > MaxQuantity {
		return fmt.Errorf("%w: %s %d exceeds %d", ErrInvalidInput, field, v, uint64(MaxQuantity))
	}
	return nil
}

// Validate checks the stored quantities of a.
func (a *TradingAnomaly) Validate() error {
	for _, q := range []struct {
		field string
		v     uint64
	}{
		{"windowId", a.WindowID},
		{"avgTradeSize", a.AvgTradeSize},
		{"tradeFrequency", a.TradeFrequency},
		{"volatilityScore", a.VolatilityScore},
	} {
		if err := CheckQuantity(q.field, q.v); err != nil {
			return err
		}
	}
	return nil
}
