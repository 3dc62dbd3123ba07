package domain

import "time"

// ModelWeight is one named feature of the scoring model.
// The fixed risk formula does not read these weights; they are recorded for
// observability and for callers that pre-combine factors themselves.
type ModelWeight struct {
	FeatureID   string    `json:"featureId"`
	FeatureName string    `json:"featureName"`
	Weight      uint8     `json:"weight"`
	Enabled     bool      `json:"enabled"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// MaxFeatureNameLen bounds the stored feature name.
const MaxFeatureNameLen = 50
