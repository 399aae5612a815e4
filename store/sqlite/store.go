// Package sqlite implements the Governor store on SQLite via the
// Grove ORM. The same conditional-UPDATE statements the PostgreSQL
// driver relies on carry the atomicity contracts here; SQLite's
// single-writer model serializes them.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("governor/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("governor/sqlite: migration failed: %w", err)
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
		_, err := s.sdb.NewDelete((*planModel)(nil)).
			Where("custom = 1").
			Where("tenant_id = ?", p.TenantID).
			Where("id != ?", p.ID.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
	} else {
		_, err := s.sdb.NewDelete((*planModel)(nil)).
			Where("custom = 0").
			Where("key = ?", p.Key).
			Where("category = ?", string(p.Category)).
			Where("id != ?", p.ID.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	m := toPlanModel(p)
	_, err := s.sdb.NewInsert(m).
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
	err := s.sdb.NewSelect(m).
		Where("custom = 0").
		Where("key = ?", key).
		Where("category = ?", string(category)).
		Where("status != ?", string(plan.StatusDraft)).
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", planID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("custom = 1").
		Where("tenant_id = ?", tenantID).
		Where("status != ?", string(plan.StatusArchived)).
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
	q := s.sdb.NewSelect(&models)

	if !opts.IncludeCustom {
		q = q.Where("custom = 0")
	}
	if opts.Category != "" {
		q = q.Where("category = ?", string(opts.Category))
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
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
	res, err := s.sdb.NewUpdate((*planModel)(nil)).
		Set("status = ?", string(plan.StatusArchived)).
		Set("updated_at = ?", t).
		Where("id = ?", planID.String()).
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
	err := s.sdb.NewSelect(m).
		Where("tenant_id = ?", tenantID).
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
	_, err := s.sdb.NewInsert(m).
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
	// serializes concurrent callers on the row. With an operation ID
	// the op row is inserted by the same statement and the insert
	// trigger applies the increment, so a crash can never separate
	// the increment from its dedup record.
	var consumed int64
	t := now()
	var err error
	if opID != "" {
		err = s.sdb.NewRaw(`
			INSERT INTO governor_ops (op_id, kind, tenant_id, resource, period_id, amount, consumed, granted, created_at)
			SELECT ?, ?, tenant_id, resource, period_id, ?, consumed + ?, 1, ?
			FROM governor_counters
			WHERE tenant_id = ? AND resource = ? AND period_id = ?
			  AND frozen = 0
			  AND consumed + ? <= ?
			ON CONFLICT (op_id) DO NOTHING
			RETURNING consumed
		`, opID, opKindConsume, amount, amount, t, key.TenantID, key.Resource, key.PeriodID, amount, limit).Scan(ctx, &consumed)
	} else {
		err = s.sdb.NewRaw(`
			UPDATE governor_counters
			SET consumed = consumed + ?, last_mutation_at = ?, updated_at = ?
			WHERE tenant_id = ? AND resource = ? AND period_id = ?
			  AND frozen = 0
			  AND consumed + ? <= ?
			RETURNING consumed
		`, amount, t, t, key.TenantID, key.Resource, key.PeriodID, amount, limit).Scan(ctx, &consumed)
	}

	if err == nil {
		return consumed, nil
	}
	if !isNoRows(err) {
		return 0, err
	}

	// A lost insert race on the op row reads back the recorded outcome.
	if opID != "" {
		if consumed, granted, found, opErr := s.getOp(ctx, opID); opErr != nil {
			return 0, opErr
		} else if found {
			if granted {
				return consumed, nil
			}
			return consumed, governor.ErrLimitExceeded
		}
	}

	// Denied: distinguish a frozen period from an exhausted limit.
	m := new(counterModel)
	selErr := s.sdb.NewSelect(m).
		Where("tenant_id = ?", key.TenantID).
		Where("resource = ?", key.Resource).
		Where("period_id = ?", key.PeriodID).
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

	t := now()
	_, err := s.sdb.NewRaw(`
		UPDATE governor_counters
		SET consumed = MAX(0, consumed - ?), last_mutation_at = ?, updated_at = ?
		WHERE tenant_id = ? AND resource = ? AND period_id = ?
		  AND frozen = 0
	`, amount, t, t, key.TenantID, key.Resource, key.PeriodID).Exec(ctx)
	return err
}

func (s *Store) GetCounter(ctx context.Context, key usage.Key) (*usage.Counter, error) {
	m := new(counterModel)
	err := s.sdb.NewSelect(m).
		Where("tenant_id = ?", key.TenantID).
		Where("resource = ?", key.Resource).
		Where("period_id = ?", key.PeriodID).
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
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if periodID != "" {
		q = q.Where("period_id = ?", periodID)
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
	err := s.sdb.NewSelect(&models).
		Where("frozen = 0").
		Where("period_end <= ?", asOf).
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
	res, err := s.sdb.NewUpdate((*counterModel)(nil)).
		Set("frozen = 1").
		Set("updated_at = ?", now()).
		Where("tenant_id = ?", key.TenantID).
		Where("resource = ?", key.Resource).
		Where("period_id = ?", key.PeriodID).
		Where("frozen = 0").
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
	_, err := s.sdb.NewInsert(m).
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
	if _, err := s.sdb.NewInsert(m).Exec(ctx); err != nil {
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", rsvID.String()).
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
	res, err := s.sdb.NewUpdate((*reservationModel)(nil)).
		Set("status = ?", string(status)).
		Set("actual_tokens = ?", actualTokens).
		Set("actual_cost_amount = ?", actualCost.Amount).
		Set("actual_cost_currency = ?", actualCost.Currency).
		Set("settled_at = ?", t).
		Set("updated_at = ?", t).
		Where("id = ?", rsvID.String()).
		Where("status = ?", string(budget.StatusPending)).
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
		_, err = s.sdb.NewRaw(`
			UPDATE governor_budgets
			SET consumed_tokens = consumed_tokens + ?,
			    consumed_cost_amount = consumed_cost_amount + ?,
			    updated_at = ?
			WHERE tenant_id = ? AND provider = ? AND period_id = ?
		`, actualTokens, actualCost.Amount, t, r.TenantID, r.Provider, r.PeriodID).Exec(ctx)
		if err != nil {
			return nil, err
		}
		_, err = s.sdb.NewRaw(`
			UPDATE governor_budgets
			SET consumed_tokens = consumed_tokens + ?, updated_at = ?
			WHERE tenant_id = ? AND provider = ? AND period_id = ?
		`, actualTokens, t, r.TenantID, budget.GlobalProvider, r.PeriodID).Exec(ctx)
		if err != nil {
			return nil, err
		}
	}

	return s.GetReservation(ctx, rsvID)
}

func (s *Store) ReclaimExpired(ctx context.Context, asOf time.Time) ([]*budget.Reservation, error) {
	var models []reservationModel
	err := s.sdb.NewSelect(&models).
		Where("status = ?", string(budget.StatusPending)).
		Where("expires_at < ?", asOf).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	reclaimed := make([]*budget.Reservation, 0, len(models))
	t := now()
	for i := range models {
		m := &models[i]

		res, err := s.sdb.NewUpdate((*reservationModel)(nil)).
			Set("status = ?", string(budget.StatusReclaimed)).
			Set("settled_at = ?", t).
			Set("updated_at = ?", t).
			Where("id = ?", m.ID).
			Where("status = ?", string(budget.StatusPending)).
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
	err := s.sdb.NewSelect(m).
		Where("tenant_id = ?", tenantID).
		Where("provider = ?", provider).
		Where("period_id = ?", periodID).
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
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)
	if periodID != "" {
		q = q.Where("period_id = ?", periodID)
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
	err := s.sdb.NewSelect(&models).
		Where("frozen = 0").
		Where("period_end <= ?", asOf).
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
	res, err := s.sdb.NewUpdate((*budgetModel)(nil)).
		Set("frozen = 1").
		Set("updated_at = ?", now()).
		Where("tenant_id = ?", tenantID).
		Where("provider = ?", provider).
		Where("period_id = ?", periodID).
		Where("frozen = 0").
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
	_, err := s.sdb.NewInsert(m).
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
	res, err := s.sdb.NewRaw(`
		UPDATE governor_budgets
		SET reserved_tokens = reserved_tokens + ?, updated_at = ?
		WHERE tenant_id = ? AND provider = ? AND period_id = ?
		  AND frozen = 0
		  AND (? < 0 OR consumed_tokens + reserved_tokens + ? <= ?)
		  AND (? <= 0 OR consumed_cost_amount < ?)
	`, est, now(), tenantID, provider, periodID, capTokens, est, capTokens, costCap, costCap).Exec(ctx)
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
	_, _ = s.sdb.NewRaw(`
		UPDATE governor_budgets
		SET reserved_tokens = MAX(0, reserved_tokens - ?), updated_at = ?
		WHERE tenant_id = ? AND provider = ? AND period_id = ?
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListAudit(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Record, error) {
	var models []auditModel
	q := s.sdb.NewSelect(&models)

	if tenantID != "" {
		q = q.Where("tenant_id = ?", tenantID)
	}
	if opts.Action != "" {
		q = q.Where("action = ?", opts.Action)
	}
	if !opts.Since.IsZero() {
		q = q.Where("recorded_at >= ?", opts.Since)
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
	err = s.sdb.NewSelect(m).
		Where("op_id = ?", opID).
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
	_, _ = s.sdb.NewInsert(m).
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
