// Package governor provides a plan entitlement and usage governance
// engine for multi-tenant Go applications.
//
// Governor is designed as a library, not a service. Import it directly
// into your application and hand it a store. It provides:
//
//   - Plan registry with base plans and per-tenant custom plans
//   - Field-level entitlement resolution with base-plan inheritance
//   - Atomic usage counters with idempotent consume/release
//   - AI token budgets with reserve/confirm/cancel and dual caps
//   - Fixed-window rate limiting decoupled from period entitlements
//   - Idempotent period rollover with a frozen audit trail
//   - Pure account health scoring
//
// # Quick Start
//
// Create a governor instance with your preferred store:
//
//	import (
//	    "github.com/xraph/governor"
//	    "github.com/xraph/governor/store/memory"
//	)
//
//	g := governor.New(memory.New())
//
//	if err := g.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer g.Stop()
//
// # Core Concepts
//
// Plans define per-period limits, feature flags, AI budgets, and rate
// ceilings. A limit of -1 means unlimited:
//
//	p := &plan.Plan{
//	    Key:      "pro",
//	    Category: plan.CategoryBusiness,
//	    Limits: map[string]int64{
//	        plan.ResourceTrainer: 25,
//	        plan.ResourceClient:  plan.Unlimited,
//	    },
//	}
//
// Tenants bind to a base plan and accumulate overrides on an overlay:
//
//	g.BindTenant(ctx, tenantID, "pro", plan.CategoryBusiness)
//	g.GrantSlots(ctx, tenantID, plan.ResourceTrainer, 2, "support")
//
// Consuming a unit of a resource checks the effective limit and
// increments the period counter in one atomic step:
//
//	d, err := g.Consume(ctx, tenantID, plan.ResourceTrainer, 1, opID)
//	if d.Granted {
//	    // provision the trainer seat
//	}
//
// AI spend uses two-phase reservations against provider and global
// token caps:
//
//	d, err := g.ReserveBudget(ctx, tenantID, plan.ProviderOpenAI, 800)
//	// ... call the provider ...
//	g.ConfirmBudget(ctx, d.ReservationID, actualTokens, actualCost)
//
// # Counters and Money
//
// All counter arithmetic is integer-only, and all monetary amounts use
// the Money type holding the smallest currency unit (cents for USD).
// Floating point never touches a limit decision.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan ID
//	ctr_01h455vb4pex5vsknk084sn02q   // Counter ID
//	rsv_01h455vb4pex5vsknk084sn02q   // Reservation ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package governor
