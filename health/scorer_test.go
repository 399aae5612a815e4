package health

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreWeights(t *testing.T) {
	snap := Score("ten_1", Inputs{
		UsageRatios: map[string]float64{"trainer": 0.5, "client": 1.0},
		Engagement:  80,
		ChurnRisk:   20,
	})

	// utilization = (50 + 100) / 2 = 75
	// score = 0.40*75 + 0.35*80 + 0.25*(100-20) = 30 + 28 + 20 = 78
	if !almostEqual(snap.Utilization, 75) {
		t.Errorf("Utilization: got %v, want 75", snap.Utilization)
	}
	if !almostEqual(snap.Score, 78) {
		t.Errorf("Score: got %v, want 78", snap.Score)
	}
	if snap.Status != StatusGood {
		t.Errorf("Status: got %s, want good", snap.Status)
	}
}

func TestScoreNeutralWithoutUsageData(t *testing.T) {
	snap := Score("ten_1", Inputs{
		Engagement: 50,
		ChurnRisk:  50,
	})

	if !almostEqual(snap.Utilization, 50) {
		t.Errorf("empty ratios should score neutral 50, got %v", snap.Utilization)
	}
	// score = 0.40*50 + 0.35*50 + 0.25*50 = 50
	if !almostEqual(snap.Score, 50) {
		t.Errorf("Score: got %v, want 50", snap.Score)
	}
}

func TestScoreClampsInputs(t *testing.T) {
	snap := Score("ten_1", Inputs{
		UsageRatios: map[string]float64{"trainer": 4.2},
		Engagement:  250,
		ChurnRisk:   -10,
	})

	if !almostEqual(snap.Utilization, 100) {
		t.Errorf("over-quota ratio should clamp to 100, got %v", snap.Utilization)
	}
	if !almostEqual(snap.Engagement, 100) {
		t.Errorf("Engagement should clamp to 100, got %v", snap.Engagement)
	}
	if !almostEqual(snap.ChurnRisk, 0) {
		t.Errorf("ChurnRisk should clamp to 0, got %v", snap.ChurnRisk)
	}
	if snap.Score > 100 || snap.Score < 0 {
		t.Errorf("Score out of range: %v", snap.Score)
	}
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Status
	}{
		{95, StatusExcellent},
		{90, StatusExcellent},
		{89.9, StatusGood},
		{75, StatusGood},
		{74.9, StatusFair},
		{50, StatusFair},
		{49.9, StatusPoor},
		{25, StatusPoor},
		{24.9, StatusCritical},
		{0, StatusCritical},
	}

	for _, tt := range tests {
		if got := BucketFor(tt.score); got != tt.want {
			t.Errorf("BucketFor(%v): got %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestScoreIsPure(t *testing.T) {
	in := Inputs{
		UsageRatios: map[string]float64{"trainer": 0.3},
		Engagement:  60,
		ChurnRisk:   40,
	}

	a := Score("ten_1", in)
	b := Score("ten_1", in)
	if a.Score != b.Score || a.Status != b.Status {
		t.Errorf("same inputs produced different outputs: %v vs %v", a.Score, b.Score)
	}
}
