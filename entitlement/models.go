// Package entitlement resolves effective entitlements from plan
// definitions and tenant overlays.
package entitlement

// Source names which plan layer supplied the effective limit.
type Source string

const (
	SourceBase   Source = "base"
	SourceCustom Source = "custom"
)

// Entitlement is the effective entitlement of one (tenant, resource)
// pair. It is derived, never persisted, and recomputed on every query —
// caching it across a mutation boundary would let a stale limit leak
// past an administrative grant.
type Entitlement struct {
	TenantID  string `json:"tenant_id"`
	Resource  string `json:"resource"`
	Limit     int64  `json:"limit"`
	Unlimited bool   `json:"unlimited"`
	// ExtraSlots is the overlay contribution already included in Limit.
	ExtraSlots int64  `json:"extra_slots,omitempty"`
	Source     Source `json:"source"`
	// Consumed and Remaining are filled from the current period's
	// counter snapshot. Remaining is -1 when Unlimited.
	Consumed  int64 `json:"consumed"`
	Remaining int64 `json:"remaining"`
}

// FeatureEntitlement is the effective state of one boolean feature flag.
type FeatureEntitlement struct {
	TenantID string `json:"tenant_id"`
	Feature  string `json:"feature"`
	Enabled  bool   `json:"enabled"`
	Source   Source `json:"source"`
}

// BudgetCaps is the resolved cap set for one AI provider: the
// provider-specific caps and the tenant's global cross-provider token
// cap. Both must independently have headroom for a reservation.
type BudgetCaps struct {
	Provider       string `json:"provider"`
	ProviderTokens int64  `json:"provider_tokens"`
	GlobalTokens   int64  `json:"global_tokens"`
	CostCapAmount  int64  `json:"cost_cap_amount"`
	CostCurrency   string `json:"cost_currency"`
	Source         Source `json:"source"`
}

// RateCeiling is the resolved short-window request ceiling for one
// endpoint class.
type RateCeiling struct {
	PerMinute int    `json:"per_minute"`
	Source    Source `json:"source"`
}
