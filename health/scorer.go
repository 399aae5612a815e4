// Package health derives advisory tenant health snapshots from usage
// ratios and caller-supplied engagement and churn inputs.
package health

import (
	"time"
)

// Status buckets a score into a categorical label.
type Status string

const (
	StatusExcellent Status = "excellent"
	StatusGood      Status = "good"
	StatusFair      Status = "fair"
	StatusPoor      Status = "poor"
	StatusCritical  Status = "critical"
)

// Component weights. Utilization reflects how much of the purchased
// entitlement a tenant actually uses; engagement and churn come from
// the calling layer (login activity, support signals, payment
// failures) since the engine has no view of them.
const (
	WeightUtilization = 0.40
	WeightEngagement  = 0.35
	WeightChurn       = 0.25
)

// Inputs are the raw signals for one tenant.
type Inputs struct {
	// UsageRatios maps resource keys to consumed/limit in [0,1].
	// Unlimited resources are excluded — they have no ratio.
	UsageRatios map[string]float64 `json:"usage_ratios"`
	// Engagement is a caller-supplied score in [0,100].
	Engagement float64 `json:"engagement"`
	// ChurnRisk is a caller-supplied risk score in [0,100];
	// higher means more likely to churn.
	ChurnRisk float64 `json:"churn_risk"`
}

// Snapshot is a derived read model. It is advisory only and never
// authoritative for entitlement decisions.
type Snapshot struct {
	TenantID    string    `json:"tenant_id"`
	Score       float64   `json:"score"`
	Status      Status    `json:"status"`
	Utilization float64   `json:"utilization"`
	Engagement  float64   `json:"engagement"`
	ChurnRisk   float64   `json:"churn_risk"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Score combines the inputs into a [0,100] score:
//
//	score = 0.40·utilization + 0.35·engagement + 0.25·(100 − churn)
//
// where utilization is the mean usage ratio ×100 across limited
// resources (an empty ratio set scores neutral 50 — no usage data is
// not evidence of ill health). All components are clamped to [0,100].
// Pure function, no side effects.
func Score(tenantID string, in Inputs) *Snapshot {
	utilization := 50.0
	if len(in.UsageRatios) > 0 {
		var sum float64
		for _, ratio := range in.UsageRatios {
			sum += clamp(ratio*100, 0, 100)
		}
		utilization = sum / float64(len(in.UsageRatios))
	}

	engagement := clamp(in.Engagement, 0, 100)
	churn := clamp(in.ChurnRisk, 0, 100)

	score := WeightUtilization*utilization +
		WeightEngagement*engagement +
		WeightChurn*(100-churn)
	score = clamp(score, 0, 100)

	return &Snapshot{
		TenantID:    tenantID,
		Score:       score,
		Status:      BucketFor(score),
		Utilization: utilization,
		Engagement:  engagement,
		ChurnRisk:   churn,
		GeneratedAt: time.Now().UTC(),
	}
}

// BucketFor maps a score to its status bucket.
func BucketFor(score float64) Status {
	switch {
	case score >= 90:
		return StatusExcellent
	case score >= 75:
		return StatusGood
	case score >= 50:
		return StatusFair
	case score >= 25:
		return StatusPoor
	default:
		return StatusCritical
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
