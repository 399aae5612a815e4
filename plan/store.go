package plan

import (
	"context"

	"github.com/xraph/governor/id"
)

// Store is the plan registry storage contract. Base plans are resolved
// by (key, category); custom plans by tenant.
type Store interface {
	UpsertPlan(ctx context.Context, p *Plan) error
	GetBasePlan(ctx context.Context, key string, category Category) (*Plan, error)
	GetPlanByID(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetCustomPlan(ctx context.Context, tenantID string) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	ArchivePlan(ctx context.Context, planID id.PlanID) error
}

// ListOpts filters plan listings.
type ListOpts struct {
	Category      Category
	Status        Status
	IncludeCustom bool
	Limit         int
	Offset        int
}
