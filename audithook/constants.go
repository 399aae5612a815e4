package audithook

// Action constants for audit events.
const (
	// Plan actions
	ActionPlanUpserted = "plan.upserted"
	ActionPlanArchived = "plan.archived"

	// Overlay actions
	ActionOverlayGranted = "overlay.granted"

	// Ledger actions
	ActionLimitExceeded = "limit.exceeded"

	// Budget actions
	ActionBudgetExceeded       = "budget.exceeded"
	ActionReservationReclaimed = "reservation.reclaimed"

	// Rate limiting actions
	ActionRateLimited = "rate.limited"

	// Period actions
	ActionRolloverCompleted = "rollover.completed"
)

// Resource constants for audit events.
const (
	ResourcePlan        = "plan"
	ResourceOverlay     = "overlay"
	ResourceCounter     = "counter"
	ResourceBudget      = "budget"
	ResourceReservation = "reservation"
	ResourceRateWindow  = "rate_window"
	ResourcePeriod      = "period"
)

// Category constants for audit events.
const (
	CategoryEntitlement = "entitlement"
	CategoryUsage       = "usage"
	CategoryBudget      = "budget"
	CategoryAccess      = "access"
	CategoryLifecycle   = "lifecycle"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeDenied  = "denied"
)
