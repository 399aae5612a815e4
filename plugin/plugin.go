// Package plugin provides an extensible plugin system for Governor.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, g interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Plan registry hooks
// ──────────────────────────────────────────────────

// OnPlanUpserted is called when a plan definition is created or updated.
type OnPlanUpserted interface {
	Plugin
	OnPlanUpserted(ctx context.Context, plan interface{}) error
}

// OnPlanArchived is called when a plan is archived.
type OnPlanArchived interface {
	Plugin
	OnPlanArchived(ctx context.Context, planID string) error
}

// OnOverlayGranted is called when an administrative override grants
// extra slots or assigns a custom plan to a tenant.
type OnOverlayGranted interface {
	Plugin
	OnOverlayGranted(ctx context.Context, ovl interface{}) error
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnConsumed is called after a granted consume.
type OnConsumed interface {
	Plugin
	OnConsumed(ctx context.Context, tenantID, resource string, amount, consumed, limit int64) error
}

// OnLimitExceeded is called when a consume attempt is denied.
type OnLimitExceeded interface {
	Plugin
	OnLimitExceeded(ctx context.Context, tenantID, resource string, consumed, limit int64) error
}

// ──────────────────────────────────────────────────
// Budget hooks
// ──────────────────────────────────────────────────

// OnBudgetReserved is called when a budget reservation is granted.
type OnBudgetReserved interface {
	Plugin
	OnBudgetReserved(ctx context.Context, tenantID, provider string, estimatedTokens int64) error
}

// OnBudgetExceeded is called when a budget reservation is denied.
type OnBudgetExceeded interface {
	Plugin
	OnBudgetExceeded(ctx context.Context, tenantID, provider, deniedBy string, remaining int64) error
}

// OnReservationReclaimed is called when the sweep releases an expired
// reservation.
type OnReservationReclaimed interface {
	Plugin
	OnReservationReclaimed(ctx context.Context, rsv interface{}) error
}

// ──────────────────────────────────────────────────
// Rate limiting hooks
// ──────────────────────────────────────────────────

// OnRateLimited is called when a request is denied by the rate limiter.
type OnRateLimited interface {
	Plugin
	OnRateLimited(ctx context.Context, tenantID, class string, limit int) error
}

// ──────────────────────────────────────────────────
// Period hooks
// ──────────────────────────────────────────────────

// OnRolloverCompleted is called after a rollover pass finishes.
type OnRolloverCompleted interface {
	Plugin
	OnRolloverCompleted(ctx context.Context, frozen int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Health hooks
// ──────────────────────────────────────────────────

// OnHealthScored is called when a tenant health snapshot is produced.
type OnHealthScored interface {
	Plugin
	OnHealthScored(ctx context.Context, snapshot interface{}) error
}
