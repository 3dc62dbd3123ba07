package domain

import "time"

// SystemState is the single shared row of process-wide counters and gates.
type SystemState struct {
	AlertCounter         uint64 `json:"alertCounter"`
	FraudThreshold       uint8  `json:"fraudThreshold"`
	SystemActive         bool   `json:"systemActive"`
	TotalAlertsGenerated uint64 `json:"totalAlertsGenerated"`
}

// DefaultFraudThreshold is the threshold in effect before any operator change.
const DefaultFraudThreshold = 75

// DefaultSystemState returns the state of a freshly deployed engine.
func DefaultSystemState() *SystemState {
	return &SystemState{
		FraudThreshold: DefaultFraudThreshold,
		SystemActive:   true,
	}
}

// Clock supplies the monotonically increasing logical time stamped on alerts
// and trades.
type Clock interface {
	Now() uint64
}

// UnixClock reports wall-clock seconds as logical time.
type UnixClock struct{}

// Now returns the current Unix time in seconds.
func (UnixClock) Now() uint64 {
	return uint64(time.Now().Unix())
}
