// Package postgres implements the Governor store on PostgreSQL via the
// Grove ORM. Conditional UPDATE statements carry the atomicity
// contracts: the check and the increment of a consume, and the
// dual-cap check of a reservation, are single statements the database
// serializes.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	governor "github.com/xraph/governor"
	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/budget"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/plan"
	governorstore "github.com/xraph/governor/store"
	"github.com/xraph/governor/types"
	"github.com/xraph/governor/usage"
)

// compile-time interface check
var _ governorstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("governor/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("governor/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Registry ====================

func (s *Store) UpsertPlan(ctx context.Context, p *plan.Plan) error {
	// Remove any prior revision with the same identity, then insert.
	if p.Custom {
		_, err := s.pg.NewDelete((*planModel)(nil)).
			Where("custom = TRUE").
			Where("tenant_id = $1", p.TenantID).
			Where("id != $2", p.ID.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
	} else {
		_, err := s.pg.NewDelete((*planModel)(nil)).
			Where("custom = FALSE").
			Where("key = $1", p.Key).
			Where("category = $2", string(p.Category)).
			Where("id != $3", p.ID.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	m := toPlanModel(p)
	_, err := s.pg.NewInsert(m).
		OnConflict("(id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("status = EXCLUDED.status").
		Set("limits = EXCLUDED.limits").
		Set("ai_limits = EXCLUDED.ai_limits").
		Set("upload_limits = EXCLUDED.upload_limits").
		Set("feature_flags = EXCLUDED.feature_flags").
		Set("rate_limits = EXCLUDED.rate_limits").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetBasePlan(ctx context.Context, key string, category plan.Category) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("custom = FALSE").
		Where("key = $1", key).
		Where("category = $2", string(category)).
		Where("status != $3", string(plan.StatusDraft)).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanByID(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetCustomPlan(ctx context.Context, tenantID string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("custom = TRUE").
		Where("tenant_id = $1", tenantID).
		Where("status != $2", string(plan.StatusArchived)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrNoCustomPlan
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.IncludeCustom {
		q = q.Where("custom = FALSE")
	}
	if opts.Category != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("category = $%d", argIdx), string(opts.Category))
	}
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	t := now()
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("status = $1", string(plan.StatusArchived)).
		Set("updated_at = $2", t).
		Where("id = $3", planID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return governor.ErrPlanNotFound
	}
	return nil
}

// ==================== Overlays ====================

func (s *Store) GetOverlay(ctx context.Context, tenantID string) (*overlay.Overlay, error) {
	m := new(overlayModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", tenantID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrOverlayNotFound
		}
		return nil, err
	}
	return fromOverlayModel(m)
}

func (s *Store) SaveOverlay(ctx context.Context, o *overlay.Overlay) error {
	m := toOverlayModel(o)
	_, err := s.pg.NewInsert(m).
		OnConflict("(tenant_id) DO UPDATE").
		Set("extra_slots = EXCLUDED.extra_slots").
		Set("custom_plan_id = EXCLUDED.custom_plan_id").
		Set("category = EXCLUDED.category").
		Set("base_plan_key = EXCLUDED.base_plan_key").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

// ==================== Usage Counters ====================

func (s *Store) ConsumeCounter(ctx context.Context, key usage.Key, amount, limit int64, opID string) (int64, error) {
	if opID != "" {
		if consumed, granted, found, err := s.getOp(ctx, opID); err != nil {
			return 0, err
		} else if found {
			if granted {
				return consumed, nil
			}
			return consumed, governor.ErrLimitExceeded
		}
	}

	if err := s.ensureCounter(ctx, key); err != nil {
		return 0, err
	}

	// The check and the increment are one statement; the database
	// serializes concurrent callers on the row. When an operation ID
	// is supplied the dedup record is written by the same statement,
	// so a crash can never separate the increment from its record.
	var consumed int64
	var err error
	if opID != "" {
		err = s.pg.NewRaw(`
			WITH applied AS (
				UPDATE governor_counters
				SET consumed = consumed + $1, last_mutation_at = $2, updated_at = $2
				WHERE tenant_id = $3 AND resource = $4 AND period_id = $5
				  AND frozen = FALSE
				  AND consumed + $1 <= $6
				RETURNING consumed
			), op AS (
				INSERT INTO governor_ops (op_id, kind, consumed, granted, created_at)
				SELECT $7, $8, applied.consumed, TRUE, $2 FROM applied
				ON CONFLICT (op_id) DO NOTHING
			)
			SELECT consumed FROM applied
		`, amount, now(), key.TenantID, key.Resource, key.PeriodID, limit, opID, opKindConsume).Scan(ctx, &consumed)
	} else {
		err = s.pg.NewRaw(`
			UPDATE governor_counters
			SET consumed = consumed + $1, last_mutation_at = $2, updated_at = $2
			WHERE tenant_id = $3 AND resource = $4 AND period_id = $5
			  AND frozen = FALSE
			  AND consumed + $1 <= $6
			RETURNING consumed
		`, amount, now(), key.TenantID, key.Resource, key.PeriodID, limit).Scan(ctx, &consumed)
	}

	if err == nil {
		return consumed, nil
	}
	if !isNoRows(err) {
		return 0, err
	}

	// Denied: distinguish a frozen period from an exhausted limit.
	m := new(counterModel)
	selErr := s.pg.NewSelect(m).
		Where("tenant_id = $1", key.TenantID).
		Where("resource = $2", key.Resource).
		Where("period_id = $3", key.PeriodID).
		Scan(ctx)
	if selErr != nil {
		return 0, selErr
	}
	if m.Frozen {
		return m.Consumed, governor.ErrPeriodClosed
	}
	if opID != "" {
		s.recordOp(ctx, opID, opKindConsume, m.Consumed, false)
	}
	return m.Consumed, governor.ErrLimitExceeded
}

func (s *Store) ReleaseCounter(ctx context.Context, key usage.Key, amount int64, opID string) error {
	if opID != "" {
		if _, _, found, err := s.getOp(ctx, opID); err != nil {
			return err
		} else if found {
			return nil
		}
		s.recordOp(ctx, opID, opKindRelease, 0, true)
	}

	_, err := s.pg.NewRaw(`
		UPDATE governor_counters
		SET consumed = GREATEST(0, consumed - $1), last_mutation_at = $2, updated_at = $2
		WHERE tenant_id = $3 AND resource = $4 AND period_id = $5
		  AND frozen = FALSE
	`, amount, now(), key.TenantID, key.Resource, key.PeriodID).Exec(ctx)
	return err
}

func (s *Store) GetCounter(ctx context.Context, key usage.Key) (*usage.Counter, error) {
	m := new(counterModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", key.TenantID).
		Where("resource = $2", key.Resource).
		Where("period_id = $3", key.PeriodID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrNotFound
		}
		return nil, err
	}
	return fromCounterModel(m)
}

func (s *Store) ListCounters(ctx context.Context, tenantID, periodID string) ([]*usage.Counter, error) {
	var models []counterModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)
	if periodID != "" {
		q = q.Where("period_id = $2", periodID)
	}
	q = q.OrderExpr("resource ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*usage.Counter, len(models))
	for i := range models {
		c, err := fromCounterModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) ListExpiredCounters(ctx context.Context, asOf time.Time) ([]*usage.Counter, error) {
	var models []counterModel
	err := s.pg.NewSelect(&models).
		Where("frozen = FALSE").
		Where("period_end <= $1", asOf).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*usage.Counter, len(models))
	for i := range models {
		c, err := fromCounterModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) FreezeCounter(ctx context.Context, key usage.Key) (bool, error) {
	res, err := s.pg.NewUpdate((*counterModel)(nil)).
		Set("frozen = TRUE").
		Set("updated_at = $1", now()).
		Where("tenant_id = $2", key.TenantID).
		Where("resource = $3", key.Resource).
		Where("period_id = $4", key.PeriodID).
		Where("frozen = FALSE").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) EnsureCounter(ctx context.Context, key usage.Key) error {
	return s.ensureCounter(ctx, key)
}

func (s *Store) ensureCounter(ctx context.Context, key usage.Key) error {
	t := now()
	m := &counterModel{
		ID:             id.NewCounterID().String(),
		TenantID:       key.TenantID,
		Resource:       key.Resource,
		PeriodID:       key.PeriodID,
		PeriodStart:    key.PeriodStart,
		PeriodEnd:      key.PeriodEnd,
		LastMutationAt: t,
		CreatedAt:      t,
		UpdatedAt:      t,
	}
	_, err := s.pg.NewInsert(m).
		OnConflict("(tenant_id, resource, period_id) DO NOTHING").
		Exec(ctx)
	return err
}

// ==================== Budgets ====================

func (s *Store) Reserve(ctx context.Context, rsv *budget.Reservation, caps budget.Caps) (*budget.Outcome, error) {
	if err := s.ensureBudget(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, caps.ProviderTokens, caps.CostCap, caps); err != nil {
		return nil, err
	}
	if err := s.ensureBudget(ctx, rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, caps.GlobalTokens, types.Zero(caps.CostCap.Currency), caps); err != nil {
		return nil, err
	}

	est := rsv.EstimatedTokens

	// Provider row: token and cost caps in one conditional update.
	granted, err := s.tryHold(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est, caps.ProviderTokens, caps.CostCap.Amount)
	if err != nil {
		return nil, err
	}
	if !granted {
		return s.denialOutcome(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est, caps.ProviderTokens, caps.CostCap.Amount)
	}

	// Global row: compensate the provider hold when the global cap
	// lacks headroom.
	granted, err = s.tryHold(ctx, rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, est, caps.GlobalTokens, 0)
	if err != nil {
		s.releaseHold(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est)
		return nil, err
	}
	if !granted {
		s.releaseHold(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est)
		return s.denialOutcome(ctx, rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, est, caps.GlobalTokens, 0)
	}

	m := toReservationModel(rsv)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		s.releaseHold(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est)
		s.releaseHold(ctx, rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, est)
		return nil, err
	}

	remaining, err := s.remainingTokens(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, caps)
	if err != nil {
		remaining = 0
	}
	return &budget.Outcome{Granted: true, RemainingTokens: remaining}, nil
}

func (s *Store) GetReservation(ctx context.Context, rsvID id.ReservationID) (*budget.Reservation, error) {
	m := new(reservationModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", rsvID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrReservationNotFound
		}
		return nil, err
	}
	return fromReservationModel(m)
}

func (s *Store) Settle(ctx context.Context, rsvID id.ReservationID, actualTokens int64, actualCost types.Money, confirm bool) (*budget.Reservation, error) {
	r, err := s.GetReservation(ctx, rsvID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case budget.StatusConfirmed, budget.StatusCanceled:
		return nil, governor.ErrReservationSettled
	case budget.StatusReclaimed:
		return nil, governor.ErrReservationExpired
	}

	status := budget.StatusCanceled
	if confirm {
		status = budget.StatusConfirmed
	}

	// Compare-and-set on the pending status serializes racing settles;
	// the loser re-reads and gets the settled/expired sentinel.
	t := now()
	res, err := s.pg.NewUpdate((*reservationModel)(nil)).
		Set("status = $1", string(status)).
		Set("actual_tokens = $2", actualTokens).
		Set("actual_cost_amount = $3", actualCost.Amount).
		Set("actual_cost_currency = $4", actualCost.Currency).
		Set("settled_at = $5", t).
		Set("updated_at = $6", t).
		Where("id = $7", rsvID.String()).
		Where("status = $8", string(budget.StatusPending)).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return s.Settle(ctx, rsvID, actualTokens, actualCost, confirm)
	}

	s.releaseHold(ctx, r.TenantID, r.Provider, r.PeriodID, r.EstimatedTokens)
	s.releaseHold(ctx, r.TenantID, budget.GlobalProvider, r.PeriodID, r.EstimatedTokens)

	if confirm {
		_, err = s.pg.NewRaw(`
			UPDATE governor_budgets
			SET consumed_tokens = consumed_tokens + $1,
			    consumed_cost_amount = consumed_cost_amount + $2,
			    updated_at = $3
			WHERE tenant_id = $4 AND provider = $5 AND period_id = $6
		`, actualTokens, actualCost.Amount, t, r.TenantID, r.Provider, r.PeriodID).Exec(ctx)
		if err != nil {
			return nil, err
		}
		_, err = s.pg.NewRaw(`
			UPDATE governor_budgets
			SET consumed_tokens = consumed_tokens + $1, updated_at = $2
			WHERE tenant_id = $3 AND provider = $4 AND period_id = $5
		`, actualTokens, t, r.TenantID, budget.GlobalProvider, r.PeriodID).Exec(ctx)
		if err != nil {
			return nil, err
		}
	}

	return s.GetReservation(ctx, rsvID)
}

func (s *Store) ReclaimExpired(ctx context.Context, asOf time.Time) ([]*budget.Reservation, error) {
	var models []reservationModel
	err := s.pg.NewSelect(&models).
		Where("status = $1", string(budget.StatusPending)).
		Where("expires_at < $2", asOf).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	reclaimed := make([]*budget.Reservation, 0, len(models))
	t := now()
	for i := range models {
		m := &models[i]

		res, err := s.pg.NewUpdate((*reservationModel)(nil)).
			Set("status = $1", string(budget.StatusReclaimed)).
			Set("settled_at = $2", t).
			Set("updated_at = $3", t).
			Where("id = $4", m.ID).
			Where("status = $5", string(budget.StatusPending)).
			Exec(ctx)
		if err != nil {
			return reclaimed, err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return reclaimed, err
		}
		if rows == 0 {
			continue // settled concurrently
		}

		s.releaseHold(ctx, m.TenantID, m.Provider, m.PeriodID, m.EstimatedTokens)
		s.releaseHold(ctx, m.TenantID, budget.GlobalProvider, m.PeriodID, m.EstimatedTokens)

		m.Status = string(budget.StatusReclaimed)
		m.SettledAt = &t
		r, convErr := fromReservationModel(m)
		if convErr != nil {
			return reclaimed, convErr
		}
		reclaimed = append(reclaimed, r)
	}
	return reclaimed, nil
}

func (s *Store) GetBudget(ctx context.Context, tenantID, provider, periodID string) (*budget.State, error) {
	m := new(budgetModel)
	err := s.pg.NewSelect(m).
		Where("tenant_id = $1", tenantID).
		Where("provider = $2", provider).
		Where("period_id = $3", periodID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, governor.ErrNotFound
		}
		return nil, err
	}
	return fromBudgetModel(m)
}

func (s *Store) ListBudgets(ctx context.Context, tenantID, periodID string) ([]*budget.State, error) {
	var models []budgetModel
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)
	if periodID != "" {
		q = q.Where("period_id = $2", periodID)
	}
	q = q.OrderExpr("provider ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*budget.State, len(models))
	for i := range models {
		b, err := fromBudgetModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

func (s *Store) ListExpiredBudgets(ctx context.Context, asOf time.Time) ([]*budget.State, error) {
	var models []budgetModel
	err := s.pg.NewSelect(&models).
		Where("frozen = FALSE").
		Where("period_end <= $1", asOf).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*budget.State, len(models))
	for i := range models {
		b, err := fromBudgetModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

func (s *Store) FreezeBudget(ctx context.Context, tenantID, provider, periodID string) (bool, error) {
	res, err := s.pg.NewUpdate((*budgetModel)(nil)).
		Set("frozen = TRUE").
		Set("updated_at = $1", now()).
		Where("tenant_id = $2", tenantID).
		Where("provider = $3", provider).
		Where("period_id = $4", periodID).
		Where("frozen = FALSE").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *Store) ensureBudget(ctx context.Context, tenantID, provider, periodID string, capTokens int64, capCost types.Money, caps budget.Caps) error {
	t := now()
	m := &budgetModel{
		ID:                   id.NewBudgetID().String(),
		TenantID:             tenantID,
		Provider:             provider,
		PeriodID:             periodID,
		CapTokens:            capTokens,
		ConsumedCostCurrency: capCost.Currency,
		CapCostAmount:        capCost.Amount,
		CapCostCurrency:      capCost.Currency,
		PeriodStart:          caps.PeriodStart,
		PeriodEnd:            caps.PeriodEnd,
		CreatedAt:            t,
		UpdatedAt:            t,
	}
	_, err := s.pg.NewInsert(m).
		OnConflict("(tenant_id, provider, period_id) DO UPDATE").
		Set("cap_tokens = EXCLUDED.cap_tokens").
		Set("cap_cost_amount = EXCLUDED.cap_cost_amount").
		Set("cap_cost_currency = EXCLUDED.cap_cost_currency").
		Exec(ctx)
	return err
}

// tryHold places a reservation hold on one budget row if the token cap
// and cost cap both have headroom. capTokens -1 means unlimited;
// costCap 0 disables the cost check.
func (s *Store) tryHold(ctx context.Context, tenantID, provider, periodID string, est, capTokens, costCap int64) (bool, error) {
	res, err := s.pg.NewRaw(`
		UPDATE governor_budgets
		SET reserved_tokens = reserved_tokens + $1, updated_at = $2
		WHERE tenant_id = $3 AND provider = $4 AND period_id = $5
		  AND frozen = FALSE
		  AND ($6 < 0 OR consumed_tokens + reserved_tokens + $1 <= $6)
		  AND ($7 <= 0 OR consumed_cost_amount < $7)
	`, est, now(), tenantID, provider, periodID, capTokens, costCap).Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// releaseHold removes a reservation hold, flooring at zero.
func (s *Store) releaseHold(ctx context.Context, tenantID, provider, periodID string, est int64) {
	_, _ = s.pg.NewRaw(`
		UPDATE governor_budgets
		SET reserved_tokens = GREATEST(0, reserved_tokens - $1), updated_at = $2
		WHERE tenant_id = $3 AND provider = $4 AND period_id = $5
	`, est, now(), tenantID, provider, periodID).Exec(ctx) //nolint:errcheck // compensation is best-effort
}

// denialOutcome classifies a failed hold into an Outcome.
func (s *Store) denialOutcome(ctx context.Context, tenantID, provider, periodID string, est, capTokens, costCap int64) (*budget.Outcome, error) {
	b, err := s.GetBudget(ctx, tenantID, provider, periodID)
	if err != nil {
		return nil, err
	}
	if b.Frozen {
		return nil, governor.ErrPeriodClosed
	}

	if costCap > 0 && b.ConsumedCost.Amount >= costCap {
		return &budget.Outcome{DeniedBy: budget.DeniedByCostBudget}, nil
	}

	deniedBy := budget.DeniedByProviderTokens
	if provider == budget.GlobalProvider {
		deniedBy = budget.DeniedByGlobalTokens
	}
	remaining := capTokens - b.ConsumedTokens - b.ReservedTokens
	if remaining < 0 {
		remaining = 0
	}
	return &budget.Outcome{DeniedBy: deniedBy, RemainingTokens: remaining}, nil
}

// remainingTokens reports the tighter of the provider and global
// headrooms after a granted hold.
func (s *Store) remainingTokens(ctx context.Context, tenantID, provider, periodID string, caps budget.Caps) (int64, error) {
	headroom := func(prov string, capTokens int64) (int64, error) {
		if capTokens == plan.Unlimited {
			return plan.Unlimited, nil
		}
		b, err := s.GetBudget(ctx, tenantID, prov, periodID)
		if err != nil {
			return 0, err
		}
		h := capTokens - b.ConsumedTokens - b.ReservedTokens
		if h < 0 {
			h = 0
		}
		return h, nil
	}

	pr, err := headroom(provider, caps.ProviderTokens)
	if err != nil {
		return 0, err
	}
	gr, err := headroom(budget.GlobalProvider, caps.GlobalTokens)
	if err != nil {
		return 0, err
	}
	if pr == plan.Unlimited {
		return gr, nil
	}
	if gr == plan.Unlimited {
		return pr, nil
	}
	if gr < pr {
		return gr, nil
	}
	return pr, nil
}

// ==================== Audit ====================

func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	m := toAuditModel(rec)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListAudit(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Record, error) {
	var models []auditModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if tenantID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("tenant_id = $%d", argIdx), tenantID)
	}
	if opts.Action != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("action = $%d", argIdx), opts.Action)
	}
	if !opts.Since.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("recorded_at >= $%d", argIdx), opts.Since)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("recorded_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*audit.Record, len(models))
	for i := range models {
		rec, err := fromAuditModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

// ==================== Operation dedup ====================

func (s *Store) getOp(ctx context.Context, opID string) (consumed int64, granted, found bool, err error) {
	m := new(opModel)
	err = s.pg.NewSelect(m).
		Where("op_id = $1", opID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, false, false, nil
		}
		return 0, false, false, err
	}
	return m.Consumed, m.Granted, true, nil
}

func (s *Store) recordOp(ctx context.Context, opID, kind string, consumed int64, granted bool) {
	m := &opModel{
		OpID:      opID,
		Kind:      kind,
		Consumed:  consumed,
		Granted:   granted,
		CreatedAt: now(),
	}
	_, _ = s.pg.NewInsert(m).
		OnConflict("(op_id) DO NOTHING").
		Exec(ctx) //nolint:errcheck // dedup record is best-effort; a lost record degrades to a retried mutation
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
