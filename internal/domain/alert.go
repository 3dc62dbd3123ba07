package domain

import "fmt"

// AlertStatus is the lifecycle state of a fraud alert.
type AlertStatus string

const (
	AlertPending       AlertStatus = "pending"
	AlertInvestigating AlertStatus = "investigating"
	AlertConfirmed     AlertStatus = "confirmed"
	AlertDismissed     AlertStatus = "dismissed"
)

// ParseAlertStatus validates a wire value.
func ParseAlertStatus(s string) (AlertStatus, error) {
	switch st := AlertStatus(s); st {
	case AlertPending, AlertInvestigating, AlertConfirmed, AlertDismissed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown alert status %q", ErrInvalidInput, s)
}

// Terminal reports whether no transitions out of s are defined.
func (s AlertStatus) Terminal() bool {
	return s == AlertConfirmed || s == AlertDismissed
}

// CanTransition reports whether from -> to is part of the alert lifecycle:
// pending -> investigating -> confirmed|dismissed, or pending straight to a
// verdict. Only consulted when transition enforcement is enabled.
func CanTransition(from, to AlertStatus) bool {
	switch from {
	case AlertPending:
		return to == AlertInvestigating || to == AlertConfirmed || to == AlertDismissed
	case AlertInvestigating:
		return to == AlertConfirmed || to == AlertDismissed
	default:
		return false
	}
}

// FraudAlert is a flagged trading event. Everything except Status is fixed
// at creation.
type FraudAlert struct {
	ID          uint64      `json:"id"`
	Trader      string      `json:"trader"`
	RiskScore   uint8       `json:"riskScore"`
	AlertType   string      `json:"alertType"`
	Timestamp   uint64      `json:"timestamp"`
	Status      AlertStatus `json:"status"`
	TradeVolume uint64      `json:"tradeVolume"`
	FlaggedByAI bool        `json:"flaggedByAi"`
}

// MaxAlertTypeLen bounds the free-form alert category.
const MaxAlertTypeLen = 50

// AlertRequest carries the inputs of generateAlert.
type AlertRequest struct {
	Trader      string
	RiskScore   uint64
	AlertType   string
	TradeVolume uint64
}

// AlertResult reports a created alert together with the outcome of the
// derived profile update. The alert commits even when the profile update
// could not be applied.
type AlertResult struct {
	Alert          *FraudAlert `json:"alert"`
	ProfileUpdated bool        `json:"profileUpdated"`
	Warnings       []string    `json:"warnings,omitempty"`
}

// StatusResult reports a status change together with the outcome of the
// reputation penalty applied on confirmation.
type StatusResult struct {
	Alert          *FraudAlert `json:"alert"`
	PreviousStatus AlertStatus `json:"previousStatus"`
	PenaltyApplied bool        `json:"penaltyApplied"`
	Warnings       []string    `json:"warnings,omitempty"`
}

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	Trader string
	Status AlertStatus
	Limit  int
}
