// Package overlay holds per-tenant additive entitlement adjustments.
package overlay

import (
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/types"
)

// Overlay is a tenant's entitlement overlay: extra seats purchased ad
// hoc and an optional reference to a tenant-specific custom plan.
//
// An overlay is created empty at tenant creation, mutated only through
// administrative grant commands, and never deleted — slots are zeroed
// instead so the audit history stays intact.
type Overlay struct {
	types.Entity
	ID       id.OverlayID `json:"id"`
	TenantID string       `json:"tenant_id"`
	// ExtraSlots maps resource keys to additional seats. Values are
	// always additive and never negative.
	ExtraSlots map[string]int64 `json:"extra_slots,omitempty"`
	// CustomPlanID references a custom plan definition, if one has
	// been assigned. Nil ID means the tenant is on a base plan.
	CustomPlanID id.PlanID `json:"custom_plan_id,omitempty"`
	// Category selects which base plan family the tenant belongs to.
	Category string `json:"category"`
	// BasePlanKey names the base plan the tenant is subscribed to.
	BasePlanKey string `json:"base_plan_key"`
}

// Empty returns a zeroed overlay for a new tenant on the given base plan.
func Empty(tenantID, basePlanKey, category string) *Overlay {
	return &Overlay{
		Entity:      types.NewEntity(),
		ID:          id.NewOverlayID(),
		TenantID:    tenantID,
		ExtraSlots:  make(map[string]int64),
		BasePlanKey: basePlanKey,
		Category:    category,
	}
}

// Clone returns a deep copy. Stores hand out clones so grant commands
// can mutate ExtraSlots without racing concurrent resolution reads.
func (o *Overlay) Clone() *Overlay {
	if o == nil {
		return nil
	}
	cp := *o
	if o.ExtraSlots != nil {
		cp.ExtraSlots = make(map[string]int64, len(o.ExtraSlots))
		for k, v := range o.ExtraSlots {
			cp.ExtraSlots[k] = v
		}
	}
	return &cp
}

// Extra returns the granted extra slots for a resource key.
func (o *Overlay) Extra(key string) int64 {
	if o == nil || o.ExtraSlots == nil {
		return 0
	}
	return o.ExtraSlots[key]
}

// HasCustomPlan reports whether a custom plan is assigned.
func (o *Overlay) HasCustomPlan() bool {
	return o != nil && !o.CustomPlanID.IsNil()
}
