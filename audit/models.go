// Package audit defines the append-only audit trail for rollovers,
// reservation reclaims, and administrative overrides.
package audit

import (
	"time"

	"github.com/xraph/governor/id"
)

// Actions recorded in the trail.
const (
	ActionCounterFrozen      = "counter.frozen"
	ActionBudgetFrozen       = "budget.frozen"
	ActionReservationReclaim = "reservation.reclaimed"
	ActionPlanUpserted       = "plan.upserted"
	ActionPlanArchived       = "plan.archived"
	ActionSlotsGranted       = "overlay.slots_granted"
	ActionCustomPlanAssigned = "overlay.custom_plan_assigned"
	ActionFeatureOverridden  = "plan.feature_overridden"
)

// Record is one append-only audit row. Rollover records preserve the
// pre-reset consumed values; administrative records preserve the
// before/after of the override.
type Record struct {
	ID         id.AuditID        `json:"id"`
	TenantID   string            `json:"tenant_id,omitempty"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource,omitempty"`
	PeriodID   string            `json:"period_id,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	Detail     map[string]string `json:"detail,omitempty"`
	RecordedAt time.Time         `json:"recorded_at"`
}

// New creates a record stamped now.
func New(action string) *Record {
	return &Record{
		ID:         id.NewAuditID(),
		Action:     action,
		RecordedAt: time.Now().UTC(),
	}
}

// ListOpts filters audit listings.
type ListOpts struct {
	Action string
	Since  time.Time
	Limit  int
	Offset int
}
