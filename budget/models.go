// Package budget tracks metered AI consumption against token and cost
// caps with a reserve/confirm protocol.
package budget

import (
	"time"

	"github.com/xraph/governor/id"
	"github.com/xraph/governor/types"
)

// GlobalProvider is the synthetic provider key for the tenant's
// cross-provider token budget row.
const GlobalProvider = "*"

// State is one (tenant, provider, period) budget row. The invariant
// "consumed + reserved <= cap" holds at the instant every reservation
// is granted. Cap fields are a snapshot of the most recently resolved
// entitlement, kept for reporting.
type State struct {
	types.Entity
	ID             id.BudgetID `json:"id"`
	TenantID       string      `json:"tenant_id"`
	Provider       string      `json:"provider"`
	PeriodID       string      `json:"period_id"`
	ConsumedTokens int64       `json:"consumed_tokens"`
	ReservedTokens int64       `json:"reserved_tokens"`
	CapTokens      int64       `json:"cap_tokens"`
	ConsumedCost   types.Money `json:"consumed_cost"`
	CapCost        types.Money `json:"cap_cost"`
	PeriodStart    time.Time   `json:"period_start"`
	PeriodEnd      time.Time   `json:"period_end"`
	Frozen         bool        `json:"frozen"`
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	// StatusPending holds budget until confirm, cancel, or reclaim.
	StatusPending ReservationStatus = "pending"
	// StatusConfirmed means actual consumption was reconciled.
	StatusConfirmed ReservationStatus = "confirmed"
	// StatusCanceled means the hold was released by the caller.
	StatusCanceled ReservationStatus = "canceled"
	// StatusReclaimed means the sweep released an expired hold.
	StatusReclaimed ReservationStatus = "reclaimed"
)

// Reservation is a provisional hold against a provider budget. Metered
// work (a streaming generation call) is not known precisely until
// completion, so callers reserve a pessimistic upper estimate first and
// reconcile to the true value afterward. Reservations carry an explicit
// expiry so a crashed caller cannot lock budget forever.
type Reservation struct {
	types.Entity
	ID              id.ReservationID  `json:"id"`
	TenantID        string            `json:"tenant_id"`
	Provider        string            `json:"provider"`
	PeriodID        string            `json:"period_id"`
	EstimatedTokens int64             `json:"estimated_tokens"`
	ActualTokens    int64             `json:"actual_tokens,omitempty"`
	ActualCost      types.Money       `json:"actual_cost,omitempty"`
	Status          ReservationStatus `json:"status"`
	ExpiresAt       time.Time         `json:"expires_at"`
	SettledAt       *time.Time        `json:"settled_at,omitempty"`
}

// Expired reports whether a pending reservation is past its expiry.
func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == StatusPending && now.After(r.ExpiresAt)
}

// Caps is the resolved cap set a reservation is checked against. The
// tighter of the provider and global token caps determines the outcome.
type Caps struct {
	ProviderTokens int64
	GlobalTokens   int64
	CostCap        types.Money
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

// Decision is the outcome of a reserve attempt.
type Decision struct {
	Granted         bool             `json:"granted"`
	ReservationID   id.ReservationID `json:"reservation_id,omitempty"`
	Provider        string           `json:"provider"`
	DeniedBy        string           `json:"denied_by,omitempty"` // "provider_tokens", "global_tokens", "cost_budget"
	RemainingTokens int64            `json:"remaining_tokens"`
	Reason          string           `json:"reason,omitempty"`
}

// Denial reasons for Decision.DeniedBy.
const (
	DeniedByProviderTokens = "provider_tokens"
	DeniedByGlobalTokens   = "global_tokens"
	DeniedByCostBudget     = "cost_budget"
)
