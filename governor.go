package governor

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/budget"
	"github.com/xraph/governor/entitlement"
	"github.com/xraph/governor/health"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/period"
	"github.com/xraph/governor/plan"
	"github.com/xraph/governor/plugin"
	"github.com/xraph/governor/ratelimit"
	"github.com/xraph/governor/store"
	"github.com/xraph/governor/types"
	"github.com/xraph/governor/usage"
)

// Governor is the plan entitlement and usage governance engine.
type Governor struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger
	limiter *ratelimit.Limiter

	// Background sweep worker
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Configuration
	sweepInterval  time.Duration
	reservationTTL time.Duration
	now            func() time.Time
}

// New creates a new Governor instance.
func New(s store.Store, opts ...Option) *Governor {
	g := &Governor{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		stopChan:       make(chan struct{}),
		sweepInterval:  time.Minute,
		reservationTTL: 15 * time.Minute,
		now:            time.Now,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.limiter == nil {
		g.limiter = ratelimit.New(ratelimit.WithClock(g.now))
	}

	return g
}

// Option configures a Governor instance.
type Option func(*Governor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Governor) {
		g.logger = logger
		g.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(g *Governor) {
		_ = g.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithSweepInterval sets how often the background sweep runs rollover
// and reservation reclaim.
func WithSweepInterval(d time.Duration) Option {
	return func(g *Governor) {
		if d > 0 {
			g.sweepInterval = d
		}
	}
}

// WithReservationTTL sets how long a pending budget reservation holds
// budget before the sweep reclaims it.
func WithReservationTTL(ttl time.Duration) Option {
	return func(g *Governor) {
		if ttl > 0 {
			g.reservationTTL = ttl
		}
	}
}

// WithRateWindow sets the rate limiter's fixed-window length.
func WithRateWindow(d time.Duration) Option {
	return func(g *Governor) {
		g.limiter = ratelimit.New(ratelimit.WithWindow(d), ratelimit.WithClock(g.now))
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// Start begins background workers.
func (g *Governor) Start(ctx context.Context) error {
	// Migrate database
	if err := g.store.Migrate(ctx); err != nil {
		return err
	}

	// Initialize plugins
	g.plugins.EmitInit(ctx, g)

	// Start sweep worker
	g.wg.Add(1)
	go g.sweepWorker(ctx)

	g.logger.Info("governor started",
		"sweep_interval", g.sweepInterval,
		"reservation_ttl", g.reservationTTL,
	)

	return nil
}

// Stop shuts down the Governor.
func (g *Governor) Stop() error {
	close(g.stopChan)
	g.wg.Wait()

	ctx := context.Background()
	g.plugins.EmitShutdown(ctx)

	return g.store.Close()
}

// Plugins exposes the plugin registry.
func (g *Governor) Plugins() *plugin.Registry {
	return g.plugins
}

// ──────────────────────────────────────────────────
// Plan Registry
// ──────────────────────────────────────────────────

// UpsertPlan validates and saves a plan definition. Base plans are
// replaced in place; updating a base plan never touches custom plans
// derived from it.
func (g *Governor) UpsertPlan(ctx context.Context, p *plan.Plan) error {
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
		p.Entity = types.NewEntity()
	} else {
		p.Touch()
	}
	if p.Status == "" {
		p.Status = plan.StatusActive
	}

	if err := p.Validate(); err != nil {
		return err
	}

	if err := g.store.UpsertPlan(ctx, p); err != nil {
		return err
	}

	g.appendAudit(ctx, &audit.Record{
		ID:         id.NewAuditID(),
		TenantID:   p.TenantID,
		Action:     audit.ActionPlanUpserted,
		RecordedAt: g.now().UTC(),
		Detail: map[string]string{
			"plan_id":  p.ID.String(),
			"plan_key": p.Key,
			"category": string(p.Category),
		},
	})
	g.plugins.EmitPlanUpserted(ctx, p)
	return nil
}

// GetPlan retrieves a plan by ID.
func (g *Governor) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	return g.store.GetPlanByID(ctx, planID)
}

// GetBasePlan retrieves the active base plan for a key and category.
func (g *Governor) GetBasePlan(ctx context.Context, key string, category plan.Category) (*plan.Plan, error) {
	return g.store.GetBasePlan(ctx, key, category)
}

// ListPlans lists plan definitions.
func (g *Governor) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	return g.store.ListPlans(ctx, opts)
}

// ArchivePlan marks a plan archived. Archived plans are excluded from
// base plan resolution but retained for tenants still referencing them.
func (g *Governor) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	if err := g.store.ArchivePlan(ctx, planID); err != nil {
		return err
	}

	g.appendAudit(ctx, &audit.Record{
		ID:         id.NewAuditID(),
		Action:     audit.ActionPlanArchived,
		RecordedAt: g.now().UTC(),
		Detail:     map[string]string{"plan_id": planID.String()},
	})
	g.plugins.EmitPlanArchived(ctx, planID.String())
	return nil
}

// ──────────────────────────────────────────────────
// Tenant binding and overlays
// ──────────────────────────────────────────────────

// BindTenant puts a tenant on a base plan, creating its empty overlay.
// Rebinding an existing tenant switches the base plan in place; the
// switch applies to all subsequent entitlement checks immediately.
func (g *Governor) BindTenant(ctx context.Context, tenantID, basePlanKey string, category plan.Category) error {
	if tenantID == "" || basePlanKey == "" {
		return ErrInvalidInput
	}
	if _, err := g.store.GetBasePlan(ctx, basePlanKey, category); err != nil {
		return err
	}

	ovl, err := g.store.GetOverlay(ctx, tenantID)
	if err != nil {
		if !errors.Is(err, ErrOverlayNotFound) {
			return err
		}
		ovl = overlay.Empty(tenantID, basePlanKey, string(category))
	} else {
		ovl.BasePlanKey = basePlanKey
		ovl.Category = string(category)
		ovl.Touch()
	}

	return g.store.SaveOverlay(ctx, ovl)
}

// GetOverlay returns a tenant's overlay.
func (g *Governor) GetOverlay(ctx context.Context, tenantID string) (*overlay.Overlay, error) {
	return g.store.GetOverlay(ctx, tenantID)
}

// GrantSlots adds extra slots for one resource to a tenant's overlay.
// Grants are additive and survive base plan changes.
func (g *Governor) GrantSlots(ctx context.Context, tenantID, resource string, extra int64, actor string) error {
	if !plan.KnownResource(resource) {
		return ErrUnknownResource
	}
	if extra <= 0 {
		return ErrInvalidInput
	}

	ovl, err := g.store.GetOverlay(ctx, tenantID)
	if err != nil {
		return err
	}
	if ovl.ExtraSlots == nil {
		ovl.ExtraSlots = make(map[string]int64)
	}
	ovl.ExtraSlots[resource] += extra
	ovl.Touch()

	if err := g.store.SaveOverlay(ctx, ovl); err != nil {
		return err
	}

	g.appendAudit(ctx, &audit.Record{
		ID:         id.NewAuditID(),
		TenantID:   tenantID,
		Action:     audit.ActionSlotsGranted,
		Resource:   resource,
		Actor:      actor,
		RecordedAt: g.now().UTC(),
		Detail: map[string]string{
			"granted": formatInt(extra),
			"total":   formatInt(ovl.ExtraSlots[resource]),
		},
	})
	g.plugins.EmitOverlayGranted(ctx, ovl)
	return nil
}

// AssignCustomPlan creates a tenant-specific custom plan and points the
// tenant's overlay at it. Fields the custom plan sets replace the base
// plan's; fields it omits keep inheriting.
func (g *Governor) AssignCustomPlan(ctx context.Context, tenantID string, p *plan.Plan, actor string) error {
	ovl, err := g.store.GetOverlay(ctx, tenantID)
	if err != nil {
		return err
	}

	p.Custom = true
	p.TenantID = tenantID
	if p.Key == "" {
		p.Key = ovl.BasePlanKey
	}
	if p.Category == "" {
		p.Category = plan.Category(ovl.Category)
	}
	if err := g.UpsertPlan(ctx, p); err != nil {
		return err
	}

	ovl.CustomPlanID = p.ID
	ovl.Touch()
	if err := g.store.SaveOverlay(ctx, ovl); err != nil {
		return err
	}

	g.appendAudit(ctx, &audit.Record{
		ID:         id.NewAuditID(),
		TenantID:   tenantID,
		Action:     audit.ActionCustomPlanAssigned,
		Actor:      actor,
		RecordedAt: g.now().UTC(),
		Detail:     map[string]string{"plan_id": p.ID.String()},
	})
	g.plugins.EmitOverlayGranted(ctx, ovl)
	return nil
}

// SetFeature overrides one feature flag on a tenant's custom plan. The
// tenant must already have a custom plan assigned.
func (g *Governor) SetFeature(ctx context.Context, tenantID, feature string, enabled bool, actor string) error {
	if !plan.KnownFeature(feature) {
		return ErrUnknownFeature
	}

	custom, err := g.store.GetCustomPlan(ctx, tenantID)
	if err != nil {
		return err
	}
	if custom.FeatureFlags == nil {
		custom.FeatureFlags = make(map[string]bool)
	}
	custom.FeatureFlags[feature] = enabled
	custom.Touch()

	if err := g.store.UpsertPlan(ctx, custom); err != nil {
		return err
	}

	g.appendAudit(ctx, &audit.Record{
		ID:         id.NewAuditID(),
		TenantID:   tenantID,
		Action:     audit.ActionFeatureOverridden,
		Actor:      actor,
		RecordedAt: g.now().UTC(),
		Detail: map[string]string{
			"feature": feature,
			"enabled": formatBool(enabled),
		},
	})
	return nil
}

// ──────────────────────────────────────────────────
// Entitlement queries
// ──────────────────────────────────────────────────

// Entitlement resolves the effective entitlement for one resource and
// fills in the current period's consumption snapshot. Resolution runs
// on every call — nothing is cached across mutation boundaries.
func (g *Governor) Entitlement(ctx context.Context, tenantID, resource string) (*entitlement.Entitlement, error) {
	base, custom, ovl, err := g.resolvePlans(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	e, err := entitlement.Resolve(base, custom, ovl, resource)
	if err != nil {
		return nil, err
	}
	e.TenantID = tenantID

	c, err := g.store.GetCounter(ctx, g.periodKey(tenantID, resource, g.now()))
	if err == nil {
		e.Consumed = c.Consumed
	} else if !IsNotFound(err) {
		return nil, err
	}

	if !e.Unlimited {
		e.Remaining = e.Limit - e.Consumed
		if e.Remaining < 0 {
			e.Remaining = 0
		}
	}
	return e, nil
}

// Feature resolves the effective state of one feature flag.
func (g *Governor) Feature(ctx context.Context, tenantID, feature string) (*entitlement.FeatureEntitlement, error) {
	base, custom, ovl, err := g.resolvePlans(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return entitlement.ResolveFeature(base, custom, ovl, feature)
}

// ──────────────────────────────────────────────────
// Usage Ledger
// ──────────────────────────────────────────────────

// Consume atomically checks and increments a resource counter for the
// current period. The grant decision and the increment are indivisible:
// under concurrent callers the counter can never exceed the limit.
//
// Denials are returned as Decision values. Errors mean no decision
// could be made, and the caller must treat that as a denial — a
// storage fault never grants capacity.
//
// opID deduplicates retries: a replayed operation ID returns the
// original outcome without consuming again. Pass "" to skip dedup.
func (g *Governor) Consume(ctx context.Context, tenantID, resource string, amount int64, opID string) (*usage.Decision, error) {
	if amount <= 0 {
		return nil, ErrInvalidConsumeAmount
	}

	e, err := g.Entitlement(ctx, tenantID, resource)
	if err != nil {
		return nil, err
	}

	// Unlimited resources never touch the counter: a no-op grant
	// cannot contend, and the counter stays meaningful for reporting
	// of limited resources only.
	if e.Unlimited {
		return &usage.Decision{
			Granted:   true,
			Resource:  resource,
			Limit:     plan.Unlimited,
			Unlimited: true,
			Remaining: plan.Unlimited,
		}, nil
	}

	consumed, err := g.store.ConsumeCounter(ctx, g.periodKey(tenantID, resource, g.now()), amount, e.Limit, opID)
	if errors.Is(err, ErrPeriodClosed) {
		// Rollover raced this consume; one retry against the freshly
		// computed current period.
		consumed, err = g.store.ConsumeCounter(ctx, g.periodKey(tenantID, resource, g.now()), amount, e.Limit, opID)
	}

	switch {
	case err == nil:
		d := &usage.Decision{
			Granted:   true,
			Resource:  resource,
			Limit:     e.Limit,
			Consumed:  consumed,
			Remaining: e.Limit - consumed,
		}
		g.plugins.EmitConsumed(ctx, tenantID, resource, amount, consumed, e.Limit)
		return d, nil

	case errors.Is(err, ErrLimitExceeded):
		d := &usage.Decision{
			Resource:  resource,
			Limit:     e.Limit,
			Consumed:  consumed,
			Remaining: e.Limit - consumed,
			Reason:    "limit exceeded",
		}
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		g.plugins.EmitLimitExceeded(ctx, tenantID, resource, consumed, e.Limit)
		return d, nil

	default:
		// Fail closed.
		return nil, err
	}
}

// Release decrements a resource counter when a consuming entity is
// removed. Release fails open: a storage fault is logged and swallowed,
// since refusing a delete because the meter is down punishes the
// tenant twice.
func (g *Governor) Release(ctx context.Context, tenantID, resource string, amount int64, opID string) error {
	if amount <= 0 {
		return ErrInvalidConsumeAmount
	}

	err := g.store.ReleaseCounter(ctx, g.periodKey(tenantID, resource, g.now()), amount, opID)
	if err != nil {
		g.logger.Warn("release failed, continuing",
			"tenant_id", tenantID,
			"resource", resource,
			"error", err,
		)
	}
	return nil
}

// CheckUpload validates a prospective file upload against the tenant's
// upload limits and, when admitted, consumes the file size from the
// monthly upload quota.
func (g *Governor) CheckUpload(ctx context.Context, tenantID string, sizeBytes int64, opID string) (*usage.Decision, error) {
	if sizeBytes <= 0 {
		return nil, ErrInvalidConsumeAmount
	}

	base, custom, _, err := g.resolvePlans(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	ul := entitlement.ResolveUpload(base, custom)
	if ul != nil && ul.MaxFileSizeBytes != plan.Unlimited && sizeBytes > ul.MaxFileSizeBytes {
		return &usage.Decision{
			Resource: plan.ResourceUploadMonth,
			Limit:    ul.MaxFileSizeBytes,
			Reason:   "file exceeds max size",
		}, nil
	}

	return g.Consume(ctx, tenantID, plan.ResourceUploadMonth, sizeBytes, opID)
}

// Counters returns the tenant's counters for a period ("" = all).
func (g *Governor) Counters(ctx context.Context, tenantID, periodID string) ([]*usage.Counter, error) {
	return g.store.ListCounters(ctx, tenantID, periodID)
}

// ──────────────────────────────────────────────────
// Budget Tracker
// ──────────────────────────────────────────────────

// ReserveBudget places a provisional hold of estimatedTokens against a
// tenant's provider budget. The hold is granted only if both the
// provider cap and the tenant's global cross-provider cap have
// headroom, checked and applied atomically. A pending hold expires
// after the reservation TTL if never settled.
func (g *Governor) ReserveBudget(ctx context.Context, tenantID, provider string, estimatedTokens int64) (*budget.Decision, error) {
	if estimatedTokens <= 0 {
		return nil, ErrInvalidEstimate
	}

	base, custom, _, err := g.resolvePlans(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	caps, err := entitlement.ResolveBudgetCaps(base, custom, provider)
	if err != nil {
		return nil, err
	}

	now := g.now()
	start, end := period.Bounds(now)
	rsv := &budget.Reservation{
		Entity:          types.NewEntity(),
		ID:              id.NewReservationID(),
		TenantID:        tenantID,
		Provider:        provider,
		PeriodID:        period.ID(now),
		EstimatedTokens: estimatedTokens,
		Status:          budget.StatusPending,
		ExpiresAt:       now.Add(g.reservationTTL).UTC(),
	}

	outcome, err := g.store.Reserve(ctx, rsv, budget.Caps{
		ProviderTokens: caps.ProviderTokens,
		GlobalTokens:   caps.GlobalTokens,
		CostCap:        types.Money{Amount: caps.CostCapAmount, Currency: caps.CostCurrency},
		PeriodStart:    start,
		PeriodEnd:      end,
	})
	if err != nil {
		// Fail closed, same as the ledger.
		return nil, err
	}

	if !outcome.Granted {
		d := &budget.Decision{
			Provider:        provider,
			DeniedBy:        outcome.DeniedBy,
			RemainingTokens: outcome.RemainingTokens,
			Reason:          "budget exceeded: " + outcome.DeniedBy,
		}
		g.plugins.EmitBudgetExceeded(ctx, tenantID, provider, outcome.DeniedBy, outcome.RemainingTokens)
		return d, nil
	}

	g.plugins.EmitBudgetReserved(ctx, tenantID, provider, estimatedTokens)
	return &budget.Decision{
		Granted:         true,
		ReservationID:   rsv.ID,
		Provider:        provider,
		RemainingTokens: outcome.RemainingTokens,
	}, nil
}

// ConfirmBudget reconciles a pending reservation to its actual token
// and cost consumption. Settling is one-shot: a second confirm or a
// confirm after cancel returns ErrReservationSettled.
func (g *Governor) ConfirmBudget(ctx context.Context, rsvID id.ReservationID, actualTokens int64, actualCost types.Money) (*budget.Reservation, error) {
	if actualTokens < 0 {
		return nil, ErrInvalidEstimate
	}
	return g.store.Settle(ctx, rsvID, actualTokens, actualCost, true)
}

// CancelBudget releases a pending reservation without consuming.
func (g *Governor) CancelBudget(ctx context.Context, rsvID id.ReservationID) (*budget.Reservation, error) {
	return g.store.Settle(ctx, rsvID, 0, types.Money{}, false)
}

// GetReservation retrieves a reservation by ID.
func (g *Governor) GetReservation(ctx context.Context, rsvID id.ReservationID) (*budget.Reservation, error) {
	return g.store.GetReservation(ctx, rsvID)
}

// Budgets returns the tenant's budget rows for a period ("" = all).
func (g *Governor) Budgets(ctx context.Context, tenantID, periodID string) ([]*budget.State, error) {
	return g.store.ListBudgets(ctx, tenantID, periodID)
}

// ──────────────────────────────────────────────────
// Rate Limiter
// ──────────────────────────────────────────────────

// CheckRate counts one request for the tenant's endpoint class against
// its plan's per-minute ceiling and reports whether it is admitted.
// The limiter is independent of the usage ledger: denial here does not
// consume entitlement, and entitlement state never influences the
// window count.
func (g *Governor) CheckRate(ctx context.Context, tenantID, class string) (bool, error) {
	base, custom, _, err := g.resolvePlans(ctx, tenantID)
	if err != nil {
		return false, err
	}

	ceiling := entitlement.ResolveRate(base, custom, class == ratelimit.ClassWebhook)
	if g.limiter.Allow(tenantID, class, ceiling.PerMinute) {
		return true, nil
	}

	g.plugins.EmitRateLimited(ctx, tenantID, class, ceiling.PerMinute)
	return false, nil
}

// ──────────────────────────────────────────────────
// Period rollover
// ──────────────────────────────────────────────────

// Rollover freezes every counter and budget row whose period has ended
// as of asOf, appends one audit record per frozen row preserving its
// final values, creates zeroed successor counters, and reclaims
// expired budget reservations.
//
// The pass is idempotent: freezing is a compare-and-set, so concurrent
// or repeated passes freeze and audit each row exactly once.
func (g *Governor) Rollover(ctx context.Context, asOf time.Time) (int, error) {
	started := g.now()
	frozen := 0

	counters, err := g.store.ListExpiredCounters(ctx, asOf)
	if err != nil {
		return 0, err
	}
	for _, c := range counters {
		key := usage.Key{
			TenantID:    c.TenantID,
			Resource:    c.Resource,
			PeriodID:    c.PeriodID,
			PeriodStart: c.PeriodStart,
			PeriodEnd:   c.PeriodEnd,
		}
		won, err := g.store.FreezeCounter(ctx, key)
		if err != nil {
			return frozen, err
		}
		if !won {
			continue
		}
		frozen++

		g.appendAudit(ctx, &audit.Record{
			ID:         id.NewAuditID(),
			TenantID:   c.TenantID,
			Action:     audit.ActionCounterFrozen,
			Resource:   c.Resource,
			PeriodID:   c.PeriodID,
			RecordedAt: g.now().UTC(),
			Detail:     map[string]string{"consumed": formatInt(c.Consumed)},
		})

		// Zeroed successor for the period containing asOf.
		if err := g.store.EnsureCounter(ctx, g.periodKey(c.TenantID, c.Resource, asOf)); err != nil {
			g.logger.Warn("successor counter creation failed",
				"tenant_id", c.TenantID,
				"resource", c.Resource,
				"error", err,
			)
		}
	}

	budgets, err := g.store.ListExpiredBudgets(ctx, asOf)
	if err != nil {
		return frozen, err
	}
	for _, b := range budgets {
		won, err := g.store.FreezeBudget(ctx, b.TenantID, b.Provider, b.PeriodID)
		if err != nil {
			return frozen, err
		}
		if !won {
			continue
		}
		frozen++

		g.appendAudit(ctx, &audit.Record{
			ID:         id.NewAuditID(),
			TenantID:   b.TenantID,
			Action:     audit.ActionBudgetFrozen,
			Resource:   b.Provider,
			PeriodID:   b.PeriodID,
			RecordedAt: g.now().UTC(),
			Detail: map[string]string{
				"consumed_tokens": formatInt(b.ConsumedTokens),
				"consumed_cost":   b.ConsumedCost.String(),
			},
		})
	}

	reclaimed, err := g.store.ReclaimExpired(ctx, asOf)
	if err != nil {
		return frozen, err
	}
	for _, rsv := range reclaimed {
		g.appendAudit(ctx, &audit.Record{
			ID:         id.NewAuditID(),
			TenantID:   rsv.TenantID,
			Action:     audit.ActionReservationReclaim,
			Resource:   rsv.Provider,
			PeriodID:   rsv.PeriodID,
			RecordedAt: g.now().UTC(),
			Detail: map[string]string{
				"reservation_id":   rsv.ID.String(),
				"estimated_tokens": formatInt(rsv.EstimatedTokens),
			},
		})
		g.plugins.EmitReservationReclaimed(ctx, rsv)
	}

	elapsed := g.now().Sub(started)
	if frozen > 0 || len(reclaimed) > 0 {
		g.logger.Info("rollover pass completed",
			"frozen", frozen,
			"reclaimed", len(reclaimed),
			"elapsed_ms", elapsed.Milliseconds(),
		)
	}
	g.plugins.EmitRolloverCompleted(ctx, frozen, elapsed)
	return frozen, nil
}

// sweepWorker periodically runs rollover and reclaim.
func (g *Governor) sweepWorker(ctx context.Context) {
	defer g.wg.Done()

	ticker := time.NewTicker(g.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopChan:
			return
		case <-ticker.C:
			if _, err := g.Rollover(ctx, g.now()); err != nil {
				g.logger.Error("sweep rollover failed", "error", err)
			}
		}
	}
}

// ──────────────────────────────────────────────────
// Health
// ──────────────────────────────────────────────────

// Health derives an advisory health snapshot for a tenant. Usage
// ratios come from the current period's counters; engagement and churn
// risk are caller-supplied signals the engine has no view of. The
// snapshot is never an input to entitlement decisions.
func (g *Governor) Health(ctx context.Context, tenantID string, engagement, churnRisk float64) (*health.Snapshot, error) {
	base, custom, ovl, err := g.resolvePlans(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	counters, err := g.store.ListCounters(ctx, tenantID, period.ID(g.now()))
	if err != nil {
		return nil, err
	}

	ratios := make(map[string]float64)
	for _, c := range counters {
		e, err := entitlement.Resolve(base, custom, ovl, c.Resource)
		if err != nil || e.Unlimited || e.Limit <= 0 {
			continue
		}
		ratios[c.Resource] = float64(c.Consumed) / float64(e.Limit)
	}

	snap := health.Score(tenantID, health.Inputs{
		UsageRatios: ratios,
		Engagement:  engagement,
		ChurnRisk:   churnRisk,
	})
	g.plugins.EmitHealthScored(ctx, snap)
	return snap, nil
}

// ──────────────────────────────────────────────────
// Audit
// ──────────────────────────────────────────────────

// AuditTrail lists audit records for a tenant ("" = all tenants).
func (g *Governor) AuditTrail(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Record, error) {
	return g.store.ListAudit(ctx, tenantID, opts)
}

// appendAudit writes an audit record, logging instead of failing the
// surrounding operation when the write is rejected.
func (g *Governor) appendAudit(ctx context.Context, rec *audit.Record) {
	if err := g.store.AppendAudit(ctx, rec); err != nil {
		g.logger.Warn("audit append failed",
			"action", rec.Action,
			"tenant_id", rec.TenantID,
			"error", err,
		)
	}
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// resolvePlans loads a tenant's overlay, its base plan, and its custom
// plan (if any). An archived custom plan is ignored and the tenant
// falls back to pure base plan resolution.
func (g *Governor) resolvePlans(ctx context.Context, tenantID string) (*plan.Plan, *plan.Plan, *overlay.Overlay, error) {
	ovl, err := g.store.GetOverlay(ctx, tenantID)
	if err != nil {
		return nil, nil, nil, err
	}

	base, err := g.store.GetBasePlan(ctx, ovl.BasePlanKey, plan.Category(ovl.Category))
	if err != nil {
		return nil, nil, nil, err
	}

	var custom *plan.Plan
	if ovl.HasCustomPlan() {
		custom, err = g.store.GetPlanByID(ctx, ovl.CustomPlanID)
		if err != nil {
			if !IsNotFound(err) {
				return nil, nil, nil, err
			}
			custom = nil
		} else if custom.Status == plan.StatusArchived {
			custom = nil
		}
	}

	return base, custom, ovl, nil
}

func (g *Governor) periodKey(tenantID, resource string, t time.Time) usage.Key {
	start, end := period.Bounds(t)
	return usage.Key{
		TenantID:    tenantID,
		Resource:    resource,
		PeriodID:    period.ID(t),
		PeriodStart: start,
		PeriodEnd:   end,
	}
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func formatBool(v bool) string {
	return strconv.FormatBool(v)
}
