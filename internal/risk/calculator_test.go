package risk

import "testing"

func TestComputeWeightedRisk(t *testing.T) {
	tests := []struct {
		name                    string
		base, volume, frequency uint64
		want                    uint64
	}{
		{"AllMax", 100, 100, 100, 100},
		{"AllZero", 0, 0, 0, 0},
		{"Mixed", 60, 40, 80, 58},
		{"BaseOnly", 100, 0, 0, 50},
		{"VolumeOnly", 0, 100, 0, 30},
		{"FrequencyOnly", 0, 0, 100, 20},
		{"FloorDivision", 1, 1, 1, 1},
		{"FloorDivisionDown", 1, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeWeightedRisk(tt.base, tt.volume, tt.frequency); got != tt.want {
				t.Errorf("ComputeWeightedRisk(%d, %d, %d) = %d, want %d",
					tt.base, tt.volume, tt.frequency, got, tt.want)
			}
		})
	}
}

func TestComputeWeightedRiskDoesNotRangeCheck(t *testing.T) {
	if got := ComputeWeightedRisk(200, 200, 200); got != 200 {
		t.Errorf("expected out-of-range inputs to pass through, got %d", got)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		score uint64
		want  Level
	}{
		{0, LevelLow},
		{24, LevelLow},
		{25, LevelMedium},
		{49, LevelMedium},
		{50, LevelHigh},
		{74, LevelHigh},
		{75, LevelHigh},
		{89, LevelHigh},
		{90, LevelCritical},
		{100, LevelCritical},
	}

	for _, tt := range tests {
		if got := Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestVolumeFactor(t *testing.T) {
	if got := VolumeFactor(5000, 100000); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
	if got := VolumeFactor(250000, 100000); got != 100 {
		t.Errorf("expected volume above ceiling to cap at 100, got %d", got)
	}
	if got := VolumeFactor(10, 0); got != 0 {
		t.Errorf("expected zero ceiling to yield 0, got %d", got)
	}
}

func TestFrequencyFactor(t *testing.T) {
	if got := FrequencyFactor(3, 5); got != 15 {
		t.Errorf("expected 15, got %d", got)
	}
	if got := FrequencyFactor(50, 5); got != 100 {
		t.Errorf("expected cap at 100, got %d", got)
	}
	if got := FrequencyFactor(-1, 5); got != 0 {
		t.Errorf("expected 0 for non-positive count, got %d", got)
	}
}
