// Package risk implements the fixed-weight risk formula and score bands.
package risk

// Fixed contribution of each factor, in percent.
const (
	BaseWeight      = 50
	VolumeWeight    = 30
	FrequencyWeight = 20
)

// Lower bounds (inclusive) of the upper three bands.
const (
	MediumFloor   = 25
	HighFloor     = 50
	CriticalFloor = 90
)

// Level is the presentational band of a risk score.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// ComputeWeightedRisk combines the factors as
// floor((base*50 + volume*30 + frequency*20) / 100).
// Inputs are not range checked; callers that need a 0-100 result must pass
// 0-100 factors.
func ComputeWeightedRisk(baseScore, volumeFactor, frequencyFactor uint64) uint64 {
	return (baseScore*BaseWeight + volumeFactor*VolumeWeight + frequencyFactor*FrequencyWeight) / 100
}

// Classify maps a score to its band. It never gates alert creation.
func Classify(score uint64) Level {
	switch {
	case score >= CriticalFloor:
		return LevelCritical
	case score >= HighFloor:
		return LevelHigh
	case score >= MediumFloor:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Clamp caps a factor at 100.
func Clamp(v uint64) uint64 {
	if v > 100 {
		return 100
	}
	return v
}

// VolumeFactor scales a trade volume against the volume that maps to 100.
func VolumeFactor(volume, ceiling uint64) uint64 {
	if ceiling == 0 {
		return 0
	}
	if volume >= ceiling {
		return 100
	}
	return volume * 100 / ceiling
}

// FrequencyFactor converts a trade count within the window into a factor.
func FrequencyFactor(count int64, scale uint64) uint64 {
	if count <= 0 {
		return 0
	}
	return Clamp(uint64(count) * scale)
}
