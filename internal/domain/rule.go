package domain

// DetectionRule is a CEL expression evaluated against an anomaly window.
// The expression must produce a bool; true marks the window anomalous.
type DetectionRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Expression  string `json:"expression"`
	Enabled     bool   `json:"enabled"`
}

// RuleHit is the outcome of one detection rule.
type RuleHit struct {
	RuleID    string `json:"ruleId"`
	Fired     bool   `json:"fired"`
	Error     string `json:"error,omitempty"`
	ProcessMs int64  `json:"processMs"`
}
