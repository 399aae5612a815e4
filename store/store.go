package store

import (
	"context"
	"time"

	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/budget"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/plan"
	"github.com/xraph/governor/types"
	"github.com/xraph/governor/usage"
)

// Store is the unified storage interface for all Governor entities.
// Instead of embedding the sub-interfaces, we explicitly declare all
// methods to avoid naming conflicts. See the sub-package Store
// interfaces (usage.Store, budget.Store, ...) for per-method contracts,
// in particular the atomicity requirements on ConsumeCounter and
// Reserve.
type Store interface {
	// Plan registry methods
	UpsertPlan(ctx context.Context, p *plan.Plan) error
	GetBasePlan(ctx context.Context, key string, category plan.Category) (*plan.Plan, error)
	GetPlanByID(ctx context.Context, planID id.PlanID) (*plan.Plan, error)
	GetCustomPlan(ctx context.Context, tenantID string) (*plan.Plan, error)
	ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error)
	ArchivePlan(ctx context.Context, planID id.PlanID) error

	// Overlay methods
	GetOverlay(ctx context.Context, tenantID string) (*overlay.Overlay, error)
	SaveOverlay(ctx context.Context, o *overlay.Overlay) error

	// Usage counter methods
	ConsumeCounter(ctx context.Context, key usage.Key, amount, limit int64, opID string) (int64, error)
	ReleaseCounter(ctx context.Context, key usage.Key, amount int64, opID string) error
	GetCounter(ctx context.Context, key usage.Key) (*usage.Counter, error)
	ListCounters(ctx context.Context, tenantID, periodID string) ([]*usage.Counter, error)
	ListExpiredCounters(ctx context.Context, asOf time.Time) ([]*usage.Counter, error)
	FreezeCounter(ctx context.Context, key usage.Key) (bool, error)
	EnsureCounter(ctx context.Context, key usage.Key) error

	// Budget methods
	Reserve(ctx context.Context, rsv *budget.Reservation, caps budget.Caps) (*budget.Outcome, error)
	GetReservation(ctx context.Context, rsvID id.ReservationID) (*budget.Reservation, error)
	Settle(ctx context.Context, rsvID id.ReservationID, actualTokens int64, actualCost types.Money, confirm bool) (*budget.Reservation, error)
	ReclaimExpired(ctx context.Context, asOf time.Time) ([]*budget.Reservation, error)
	GetBudget(ctx context.Context, tenantID, provider, periodID string) (*budget.State, error)
	ListBudgets(ctx context.Context, tenantID, periodID string) ([]*budget.State, error)
	ListExpiredBudgets(ctx context.Context, asOf time.Time) ([]*budget.State, error)
	FreezeBudget(ctx context.Context, tenantID, provider, periodID string) (bool, error)

	// Audit methods
	AppendAudit(ctx context.Context, rec *audit.Record) error
	ListAudit(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Record, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
