package governor

import (
	"errors"
	"fmt"

	"github.com/xraph/governor/plan"
)

// Sentinel errors for common failure scenarios. Denial outcomes
// (limit exceeded, budget exhausted, rate limited) are ordinary return
// values on the Decision types — these sentinels cover the cases where
// an operation cannot produce a decision at all, plus the store-level
// conditions the engine translates into decisions.
var (
	// General errors
	ErrNotFound      = errors.New("governor: not found")
	ErrAlreadyExists = errors.New("governor: already exists")
	ErrInvalidInput  = errors.New("governor: invalid input")

	// Configuration errors — always surfaced, never silently defaulted.
	ErrUnknownResource = plan.ErrUnknownResource
	ErrUnknownFeature  = plan.ErrUnknownFeature
	ErrUnknownProvider = plan.ErrUnknownProvider

	// Plan registry errors
	ErrPlanNotFound    = errors.New("governor: plan not found")
	ErrPlanArchived    = errors.New("governor: plan is archived")
	ErrNoCustomPlan    = errors.New("governor: tenant has no custom plan")
	ErrOverlayNotFound = errors.New("governor: overlay not found")

	// Ledger errors
	ErrLimitExceeded = errors.New("governor: limit exceeded")
	ErrPeriodClosed  = errors.New("governor: period closed, retry against current period")

	// Budget errors
	ErrBudgetExceeded       = errors.New("governor: budget exceeded")
	ErrReservationNotFound  = errors.New("governor: reservation not found")
	ErrReservationSettled   = errors.New("governor: reservation already settled")
	ErrReservationExpired   = errors.New("governor: reservation expired")
	ErrInvalidEstimate      = errors.New("governor: invalid token estimate")
	ErrInvalidConsumeAmount = errors.New("governor: invalid consume amount")

	// Rate limiter
	ErrRateLimited = errors.New("governor: rate limited")

	// Store errors
	ErrStorageUnavailable = errors.New("governor: storage unavailable")
	ErrStoreClosed        = errors.New("governor: store is closed")
	ErrMigrationFailed    = errors.New("governor: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("governor: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrNoCustomPlan) ||
		errors.Is(err, ErrOverlayNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsConfigError returns true if the error is a configuration bug
// (unknown resource/feature/provider key). These must surface to the
// operator rather than degrade into a default decision.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownResource) ||
		errors.Is(err, ErrUnknownFeature) ||
		errors.Is(err, ErrUnknownProvider) ||
		errors.Is(err, plan.ErrInvalidLimit)
}

// IsDenial returns true if the error encodes an expected, recoverable
// denial (upgrade or wait resolves it).
func IsDenial(err error) bool {
	return errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPeriodClosed) ||
		errors.Is(err, ErrStorageUnavailable)
}
