package budget

import (
	"context"
	"time"

	"github.com/xraph/governor/id"
	"github.com/xraph/governor/types"
)

// Outcome is the storage-level result of a reserve attempt. Denials
// are values; errors are reserved for storage faults.
type Outcome struct {
	Granted         bool
	DeniedBy        string
	RemainingTokens int64
}

// Store is the budget storage contract.
//
// Reserve is the atomicity-critical operation: the check
// "consumed + reserved + estimate <= cap" and the reserved-token
// increment must be indivisible for both the provider row and the
// tenant's global row, so two concurrent reservations can never
// jointly overrun a cap.
type Store interface {
	// Reserve atomically places the hold described by rsv against the
	// provider row and the global row, creating absent rows from caps.
	// Unlimited caps (sentinel -1) always have headroom. A pending
	// reservation record is persisted only on grant.
	Reserve(ctx context.Context, rsv *Reservation, caps Caps) (*Outcome, error)

	GetReservation(ctx context.Context, rsvID id.ReservationID) (*Reservation, error)

	// Settle transitions a pending reservation to confirmed
	// (confirm == true: consumed += actual, reserved -= estimate,
	// cost += actualCost) or canceled (reserved -= estimate only).
	// A settled reservation returns governor.ErrReservationSettled; a
	// reclaimed one returns governor.ErrReservationExpired. Exactly one
	// settlement ever adjusts the budget rows.
	Settle(ctx context.Context, rsvID id.ReservationID, actualTokens int64, actualCost types.Money, confirm bool) (*Reservation, error)

	// ReclaimExpired releases pending reservations whose expiry is at
	// or before asOf, returning the reclaimed reservations.
	ReclaimExpired(ctx context.Context, asOf time.Time) ([]*Reservation, error)

	GetBudget(ctx context.Context, tenantID, provider, periodID string) (*State, error)
	ListBudgets(ctx context.Context, tenantID, periodID string) ([]*State, error)

	// ListExpiredBudgets returns unfrozen rows whose period ended at or
	// before asOf. Used by the rollover sweep.
	ListExpiredBudgets(ctx context.Context, asOf time.Time) ([]*State, error)

	// FreezeBudget marks a row read-only. Returns false when the row
	// was already frozen.
	FreezeBudget(ctx context.Context, tenantID, provider, periodID string) (bool, error)
}
